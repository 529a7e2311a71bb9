package access

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/sandbox"
	"github.com/lanvault/lanvault/internal/share"
)

func newTestGate(t *testing.T) (*Gate, string) {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{
		filepath.Join(root, "shared", "docs"),
		filepath.Join(root, "private", "alice", "notes"),
		filepath.Join(root, "private", "bob"),
	} {
		require.NoError(t, os.MkdirAll(dir, 0o755))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "shared", "docs", "report.pdf"), []byte("pdf"), 0o644))

	resolver, err := sandbox.New(root)
	require.NoError(t, err)
	registry := share.NewRegistry(share.NewMemoryStore(), 0)
	return NewGate(resolver, registry), resolver.Root()
}

func TestAuthorizeSharedRead(t *testing.T) {
	g, root := newTestGate(t)
	scope, err := g.Authorize(context.Background(), User{Name: "bob"}, "shared/docs", OpRead)
	require.NoError(t, err)
	assert.Equal(t, PartitionShared, scope.Partition)
	assert.Equal(t, "docs", scope.Rel)
	assert.Equal(t, filepath.Join(root, "shared"), scope.Resolver.Root())
}

func TestAuthorizeSharedWriteRequiresAllowList(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	_, err := g.Authorize(ctx, User{Name: "bob"}, "shared/docs", OpWrite)
	assert.True(t, fault.Is(err, fault.KindForbidden))

	_, err = g.Authorize(ctx, User{Name: "alice", SharedWrite: true}, "shared/docs", OpWrite)
	assert.NoError(t, err)
}

func TestAuthorizePrivateIsOwnFolder(t *testing.T) {
	g, root := newTestGate(t)
	scope, err := g.Authorize(context.Background(), User{Name: "alice"}, "private/notes", OpWrite)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "private", "alice"), scope.Resolver.Root())
	assert.Equal(t, "notes", scope.Rel)
}

func TestAuthorizeUnknownPartition(t *testing.T) {
	g, _ := newTestGate(t)
	_, err := g.Authorize(context.Background(), User{Name: "alice"}, "system/etc", OpRead)
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestAuthorizeShareDirectory(t *testing.T) {
	g, root := newTestGate(t)
	ctx := context.Background()

	rec, err := g.Shares().Create(ctx, share.CreateParams{
		Owner: "alice", Partition: PartitionShared, Path: "docs",
		Permission: share.PermissionRead,
	})
	require.NoError(t, err)

	scope, got, err := g.AuthorizeShare(ctx, rec.Token, "report.pdf", OpRead)
	require.NoError(t, err)
	assert.Equal(t, rec.Token, got.Token)
	assert.Equal(t, filepath.Join(root, "shared", "docs"), scope.Resolver.Root())
	assert.Equal(t, "report.pdf", scope.Rel)
	assert.False(t, scope.FileShare)

	// The guest cannot climb out of the narrowed root.
	_, _, err = g.AuthorizeShare(ctx, rec.Token, "../other", OpRead)
	assert.True(t, fault.Is(err, fault.KindPathViolation))
}

func TestAuthorizeShareReadOnly(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	rec, err := g.Shares().Create(ctx, share.CreateParams{
		Owner: "alice", Partition: PartitionShared, Path: "docs",
		Permission: share.PermissionRead,
	})
	require.NoError(t, err)

	_, _, err = g.AuthorizeShare(ctx, rec.Token, "", OpWrite)
	assert.True(t, fault.Is(err, fault.KindForbidden))
}

func TestAuthorizeShareFile(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	rec, err := g.Shares().Create(ctx, share.CreateParams{
		Owner: "alice", Partition: PartitionShared, Path: "docs/report.pdf",
		Permission: share.PermissionReadWrite,
	})
	require.NoError(t, err)

	scope, _, err := g.AuthorizeShare(ctx, rec.Token, "", OpRead)
	require.NoError(t, err)
	assert.True(t, scope.FileShare)
	assert.Equal(t, "docs/report.pdf", scope.Rel)

	// Sub-paths of a file share do not exist as far as the guest knows.
	_, _, err = g.AuthorizeShare(ctx, rec.Token, "anything", OpRead)
	assert.True(t, fault.Is(err, fault.KindNotFound))

	// Uploads into a file share are rejected even with read_write.
	_, _, err = g.AuthorizeShare(ctx, rec.Token, "", OpWrite)
	assert.True(t, fault.Is(err, fault.KindForbidden))
}

func TestAuthorizeShareDeletedTarget(t *testing.T) {
	g, root := newTestGate(t)
	ctx := context.Background()

	rec, err := g.Shares().Create(ctx, share.CreateParams{
		Owner: "alice", Partition: PartitionShared, Path: "docs/report.pdf",
		Permission: share.PermissionRead,
	})
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(root, "shared", "docs", "report.pdf")))

	_, _, err = g.AuthorizeShare(ctx, rec.Token, "", OpRead)
	assert.True(t, fault.Is(err, fault.KindNotFound))
}

func TestAuthorizeSharePrivatePartition(t *testing.T) {
	g, root := newTestGate(t)
	ctx := context.Background()

	rec, err := g.Shares().Create(ctx, share.CreateParams{
		Owner: "alice", Partition: PartitionPrivate, Path: "notes",
		Permission: share.PermissionRead,
	})
	require.NoError(t, err)

	scope, _, err := g.AuthorizeShare(ctx, rec.Token, "", OpRead)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "private", "alice", "notes"), scope.Resolver.Root())
}

func TestAuthorizeShareExpired(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	rec, err := g.Shares().Create(ctx, share.CreateParams{
		Owner: "alice", Partition: PartitionShared, Path: "docs",
		Permission: share.PermissionRead, TTL: time.Nanosecond,
	})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)

	_, _, err = g.AuthorizeShare(ctx, rec.Token, "", OpRead)
	require.Error(t, err)
	kind, ok := fault.KindOf(err)
	require.True(t, ok)
	assert.Contains(t, []fault.Kind{fault.KindExpired, fault.KindNotFound}, kind)
}

func TestAuthorizeShareCreate(t *testing.T) {
	g, _ := newTestGate(t)
	ctx := context.Background()

	partition, rel, err := g.AuthorizeShareCreate(ctx, User{Name: "alice"},
		"shared/docs/report.pdf", share.PermissionRead)
	require.NoError(t, err)
	assert.Equal(t, PartitionShared, partition)
	assert.Equal(t, "docs/report.pdf", rel)

	// read_write shares require write access to the target.
	_, _, err = g.AuthorizeShareCreate(ctx, User{Name: "bob"},
		"shared/docs", share.PermissionReadWrite)
	assert.True(t, fault.Is(err, fault.KindForbidden))

	// No shares to missing targets.
	_, _, err = g.AuthorizeShareCreate(ctx, User{Name: "alice"},
		"shared/ghost", share.PermissionRead)
	assert.True(t, fault.Is(err, fault.KindNotFound))
}
