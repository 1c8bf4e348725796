package lock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreCreateAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &LoanLock{RateLockID: "RL-1", LoanApplicationID: "LA100", Status: StatusPendingRequest}
	require.NoError(t, store.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)

	got, err := store.Get(ctx, "LA100")
	require.NoError(t, err)
	assert.Equal(t, "RL-1", got.RateLockID)

	err = store.Create(ctx, &LoanLock{LoanApplicationID: "LA100"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = store.Get(ctx, "LA999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateIsCompareAndSet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &LoanLock{LoanApplicationID: "LA100", Status: StatusPendingContext}))

	// Two readers race on the same version.
	first, err := store.Get(ctx, "LA100")
	require.NoError(t, err)
	second, err := store.Get(ctx, "LA100")
	require.NoError(t, err)

	first.Status = StatusRatesPresented
	require.NoError(t, store.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.Status = StatusEscalated
	err = store.Update(ctx, second)
	assert.ErrorIs(t, err, ErrVersionConflict)

	got, err := store.Get(ctx, "LA100")
	require.NoError(t, err)
	assert.Equal(t, StatusRatesPresented, got.Status)
}

func TestMemoryStoreUpdateUnknownRecord(t *testing.T) {
	store := NewMemoryStore()
	err := store.Update(context.Background(), &LoanLock{LoanApplicationID: "LA999", Version: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreGetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, &LoanLock{LoanApplicationID: "LA100", Status: StatusPendingRequest}))

	got, err := store.Get(ctx, "LA100")
	require.NoError(t, err)
	got.Status = StatusLocked

	again, err := store.Get(ctx, "LA100")
	require.NoError(t, err)
	assert.Equal(t, StatusPendingRequest, again.Status)
}

func TestMemoryStoreListSorted(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	for _, id := range []string{"LA300", "LA100", "LA200"} {
		require.NoError(t, store.Create(ctx, &LoanLock{LoanApplicationID: id}))
	}

	recs, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "LA100", recs[0].LoanApplicationID)
	assert.Equal(t, "LA200", recs[1].LoanApplicationID)
	assert.Equal(t, "LA300", recs[2].LoanApplicationID)
}
