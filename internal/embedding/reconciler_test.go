package embedding

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/bull/ragbot/internal/errs"
)

func TestReconciler_Resolve(t *testing.T) {
	r := NewReconciler(nil, "", nil)

	assert.Equal(t, "all-MiniLM-L6-v2", r.Resolve(384))
	assert.Equal(t, "all-mpnet-base-v2", r.Resolve(768))
	assert.Equal(t, "mxbai-embed-large", r.Resolve(1024))
	assert.Equal(t, "text-embedding-3-small", r.Resolve(1536))
	assert.Equal(t, "text-embedding-3-large", r.Resolve(3072))
	assert.Equal(t, DefaultFallbackModel, r.Resolve(999))
}

func TestReconciler_Overrides(t *testing.T) {
	r := NewReconciler(map[int]string{768: "text-embedding-004", 512: "tiny"}, "my-default", nil)

	assert.Equal(t, "text-embedding-004", r.Resolve(768))
	assert.Equal(t, "tiny", r.Resolve(512))
	assert.Equal(t, "my-default", r.Resolve(42))
	assert.Equal(t, "all-MiniLM-L6-v2", r.Resolve(384))
}

func TestReconciler_Reconcile(t *testing.T) {
	r := NewReconciler(nil, "", nil)

	err := fmt.Errorf("adding documents: %w", &errs.DimensionMismatchError{Expected: 384, Actual: 1536})
	model, ok := r.Reconcile(err, "text-embedding-3-small")
	assert.True(t, ok)
	assert.Equal(t, "all-MiniLM-L6-v2", model)

	_, ok = r.Reconcile(errors.New("boom"), "m")
	assert.False(t, ok)

	_, ok = r.Reconcile(errs.ErrDimensionMismatch, "m")
	assert.False(t, ok, "a bare sentinel carries no expected size")
}
