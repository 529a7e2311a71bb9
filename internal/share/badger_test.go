package share

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerStoreRoundTrip(t *testing.T) {
	store, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	rec := Record{
		Token:      "abc1234",
		Owner:      "alice",
		Partition:  "shared",
		Path:       "docs/report.pdf",
		Permission: PermissionReadWrite,
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		ExpiresAt:  time.Date(2026, 3, 8, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Put(ctx, rec))

	got, ok, err := store.Get(ctx, "abc1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok, err = store.Get(ctx, "zzzzzzz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBadgerStoreDelete(t *testing.T) {
	store, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Put(ctx, Record{Token: "abc1234", Owner: "alice"}))
	require.NoError(t, store.Delete(ctx, "abc1234"))

	_, ok, err := store.Get(ctx, "abc1234")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting a missing token is not an error.
	require.NoError(t, store.Delete(ctx, "abc1234"))
}

func TestBadgerStoreList(t *testing.T) {
	store, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for _, token := range []string{"aaaaaaa", "bbbbbbb", "ccccccc"} {
		require.NoError(t, store.Put(ctx, Record{Token: token, Owner: "alice"}))
	}

	got, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestBadgerStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	store, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, Record{Token: "abc1234", Owner: "alice", Path: "docs"}))
	require.NoError(t, store.Close())

	store, err = OpenBadger(dir)
	require.NoError(t, err)
	defer store.Close()

	got, ok, err := store.Get(ctx, "abc1234")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "docs", got.Path)
}
