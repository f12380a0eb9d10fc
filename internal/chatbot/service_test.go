package chatbot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/ragbot/internal/errs"
	"github.com/bull/ragbot/internal/vectorstore"
)

type fakeCollections struct {
	created   map[string]vectorstore.CollectionSpec
	deleted   []string
	deleteErr error
}

func (f *fakeCollections) CreateCollection(_ context.Context, id string, spec vectorstore.CollectionSpec) error {
	if f.created == nil {
		f.created = map[string]vectorstore.CollectionSpec{}
	}
	f.created[id] = spec
	return nil
}

func (f *fakeCollections) DeleteCollection(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

type fakeLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func newFakeLocker() *fakeLocker { return &fakeLocker{held: map[string]bool{}} }

func (l *fakeLocker) Acquire(_ context.Context, name string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[name] {
		return false, nil
	}
	l.held[name] = true
	return true, nil
}

func (l *fakeLocker) Release(_ context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, name)
	return nil
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	colls := &fakeCollections{}
	svc := NewService(NewMemoryStore(), colls, newFakeLocker(), nil)

	c, err := svc.Create(ctx, "owner", "  Support Bot ", nil)
	require.NoError(t, err)
	assert.Equal(t, "Support Bot", c.Name)
	assert.Equal(t, StatusInactive, c.Status)
	assert.Equal(t, TrainingPending, c.TrainingStatus)
	assert.Equal(t, CollectionName(c.ID), c.CollectionID)
	assert.Equal(t, 1536, colls.created[c.CollectionID].Dimensions)

	loaded, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.Settings, loaded.Settings)
}

func TestService_CreateUnknownModelDefersCollection(t *testing.T) {
	colls := &fakeCollections{}
	svc := NewService(NewMemoryStore(), colls, newFakeLocker(), nil)

	settings := DefaultSettings()
	settings.EmbeddingModel = "my-custom-embedder"
	_, err := svc.Create(context.Background(), "owner", "bot", &settings)
	require.NoError(t, err)
	assert.Empty(t, colls.created)
}

func TestService_CreateValidates(t *testing.T) {
	svc := NewService(NewMemoryStore(), &fakeCollections{}, newFakeLocker(), nil)

	_, err := svc.Create(context.Background(), "owner", " ", nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	bad := DefaultSettings()
	bad.TopK = 50
	_, err = svc.Create(context.Background(), "owner", "bot", &bad)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestService_SetActive(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, &fakeCollections{}, newFakeLocker(), nil)
	c, err := svc.Create(ctx, "owner", "bot", nil)
	require.NoError(t, err)

	_, err = svc.SetActive(ctx, c.ID, true)
	assert.ErrorIs(t, err, errs.ErrInvalidInput, "untrained chatbots cannot be activated")

	c.ChunkCount = 3
	require.NoError(t, store.SaveChatbot(ctx, c))
	got, err := svc.SetActive(ctx, c.ID, true)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, got.Status)

	got, err = svc.SetActive(ctx, c.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StatusInactive, got.Status)
}

func TestService_DeleteIsBestEffort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	colls := &fakeCollections{deleteErr: errors.New("qdrant down")}
	svc := NewService(store, colls, newFakeLocker(), nil)
	c, err := svc.Create(ctx, "owner", "bot", nil)
	require.NoError(t, err)

	err = svc.Delete(ctx, c.ID)
	assert.EqualError(t, err, "qdrant down")
	assert.Equal(t, []string{c.CollectionID}, colls.deleted)

	_, err = store.LoadChatbot(ctx, c.ID)
	assert.ErrorIs(t, err, errs.ErrNotFound, "record is removed even when the collection delete fails")
}

func TestService_DeleteMissingCollection(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), &fakeCollections{deleteErr: errs.ErrNotFound}, newFakeLocker(), nil)
	c, err := svc.Create(ctx, "owner", "bot", nil)
	require.NoError(t, err)
	assert.NoError(t, svc.Delete(ctx, c.ID))
}

func TestService_UpdateSettings(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), &fakeCollections{}, newFakeLocker(), nil)
	c, err := svc.Create(ctx, "owner", "bot", nil)
	require.NoError(t, err)

	s := c.Settings
	s.TopK = 8
	got, err := svc.UpdateSettings(ctx, c.ID, s)
	require.NoError(t, err)
	assert.Equal(t, 8, got.Settings.TopK)

	s.Temperature = 3
	_, err = svc.UpdateSettings(ctx, c.ID, s)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	_, err = svc.UpdateSettings(ctx, "missing", DefaultSettings())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestService_DeleteRefusedWhileTraining(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	colls := &fakeCollections{}
	locker := newFakeLocker()
	svc := NewService(store, colls, locker, nil)
	c, err := svc.Create(ctx, "owner", "bot", nil)
	require.NoError(t, err)

	held, err := locker.Acquire(ctx, TrainingLock(c.ID), time.Minute)
	require.NoError(t, err)
	require.True(t, held)

	assert.ErrorIs(t, svc.Delete(ctx, c.ID), errs.ErrAlreadyExists)
	assert.Empty(t, colls.deleted)
	_, err = store.LoadChatbot(ctx, c.ID)
	require.NoError(t, err)

	require.NoError(t, locker.Release(ctx, TrainingLock(c.ID)))
	require.NoError(t, svc.Delete(ctx, c.ID))
	assert.Equal(t, []string{c.CollectionID}, colls.deleted)

	held, err = locker.Acquire(ctx, TrainingLock(c.ID), time.Minute)
	require.NoError(t, err)
	assert.True(t, held, "delete releases the lock")
}

func TestService_UpdateSettingsKeepsTrainingState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store, &fakeCollections{}, newFakeLocker(), nil)
	c, err := svc.Create(ctx, "owner", "bot", nil)
	require.NoError(t, err)

	_, err = store.UpdateChatbot(ctx, c.ID, func(c *Chatbot) error {
		c.StartTraining()
		c.AddIndexed(4)
		return nil
	})
	require.NoError(t, err)

	s := c.Settings
	s.TopK = 9
	got, err := svc.UpdateSettings(ctx, c.ID, s)
	require.NoError(t, err)
	assert.Equal(t, 9, got.Settings.TopK)
	assert.Equal(t, StatusTraining, got.Status)
	assert.Equal(t, 4, got.ChunkCount)

	_, err = svc.SetActive(ctx, c.ID, false)
	assert.ErrorIs(t, err, errs.ErrAlreadyExists)
}
