package embedding

import (
	"go.uber.org/zap"

	"github.com/bull/ragbot/internal/errs"
)

// DefaultFallbackModel is used for dimensions with no table entry.
const DefaultFallbackModel = "text-embedding-3-small"

// Reconciler picks an embedding model whose output size matches an existing
// collection.
type Reconciler struct {
	byDimension map[int]string
	fallback    string
	logger      *zap.Logger
}

// NewReconciler builds the dimension table. overrides replace or extend the
// built-in entries; an empty fallback uses DefaultFallbackModel.
func NewReconciler(overrides map[int]string, fallback string, logger *zap.Logger) *Reconciler {
	if fallback == "" {
		fallback = DefaultFallbackModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	table := map[int]string{
		384:  "all-MiniLM-L6-v2",
		768:  "all-mpnet-base-v2",
		1024: "mxbai-embed-large",
		1536: "text-embedding-3-small",
		3072: "text-embedding-3-large",
	}
	for d, m := range overrides {
		table[d] = m
	}
	return &Reconciler{byDimension: table, fallback: fallback, logger: logger}
}

// Resolve returns the model producing vectors of size d.
func (r *Reconciler) Resolve(d int) string {
	if m, ok := r.byDimension[d]; ok {
		return m
	}
	return r.fallback
}

// Reconcile inspects err and, when it is a dimension mismatch, returns the
// model to retry with.
func (r *Reconciler) Reconcile(err error, current string) (string, bool) {
	expected, ok := errs.Expected(err)
	if !ok {
		return "", false
	}
	model := r.Resolve(expected)
	r.logger.Info("Reconciling embedding dimensions",
		zap.Int("expected", expected),
		zap.String("from_model", current),
		zap.String("to_model", model),
	)
	return model, true
}
