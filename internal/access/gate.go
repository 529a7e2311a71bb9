// Package access decides who may touch what. It maps principals (logged-in
// users and share-token guests) to sandboxed filesystem scopes and enforces
// partition and share policy before any file operation runs.
package access

import (
	"context"
	"os"
	"strings"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/metrics"
	"github.com/lanvault/lanvault/internal/sandbox"
	"github.com/lanvault/lanvault/internal/share"
)

// Partition names. The vault root contains one directory per partition.
const (
	PartitionShared  = "shared"
	PartitionPrivate = "private"
)

// Op classifies an operation for permission purposes.
type Op int

const (
	// OpRead covers listing, reading, searching and zipping.
	OpRead Op = iota

	// OpWrite covers uploads, mkdir, delete, move and copy destinations.
	OpWrite
)

// User is an authenticated principal.
type User struct {
	Name        string
	SharedWrite bool
}

// Scope is an authorized view of the vault: a resolver confined to the
// partition (or share target) plus the request path within it. File
// operations take a Scope and never see anything wider.
type Scope struct {
	Resolver *sandbox.Resolver

	// Partition is the partition the scope lives in.
	Partition string

	// Rel is the request path relative to the resolver root.
	Rel string

	// FileShare is set when the scope is a share targeting a single file;
	// Rel then names exactly that file and listing it is invalid.
	FileShare bool
}

// Gate enforces partition and share policy.
type Gate struct {
	root   *sandbox.Resolver
	shares *share.Registry
}

// NewGate creates a Gate over the vault root.
func NewGate(root *sandbox.Resolver, shares *share.Registry) *Gate {
	return &Gate{root: root, shares: shares}
}

// Shares exposes the share registry for lifecycle endpoints.
func (g *Gate) Shares() *share.Registry { return g.shares }

// SplitTarget splits a request path into partition and remainder. The first
// segment must name a partition.
func SplitTarget(requestPath string) (partition, rel string, err error) {
	requestPath = strings.Trim(requestPath, "/")
	partition, rel, _ = strings.Cut(requestPath, "/")
	if partition != PartitionShared && partition != PartitionPrivate {
		return "", "", fault.NotFound(requestPath)
	}
	return partition, rel, nil
}

// Authorize checks that user may perform op on requestPath and returns the
// scope to run it in. The private partition always addresses the user's own
// folder; other users' folders are unreachable by construction.
func (g *Gate) Authorize(ctx context.Context, user User, requestPath string, op Op) (*Scope, error) {
	partition, rel, err := SplitTarget(requestPath)
	if err != nil {
		metrics.RecordPermissionCheck(false)
		return nil, err
	}

	if partition == PartitionShared && op == OpWrite && !user.SharedWrite {
		metrics.RecordPermissionCheck(false)
		return nil, fault.Forbidden("no write access to the shared partition")
	}

	resolver, err := g.partitionRoot(partition, user.Name)
	if err != nil {
		metrics.RecordPermissionCheck(false)
		return nil, err
	}

	metrics.RecordPermissionCheck(true)
	return &Scope{Resolver: resolver, Partition: partition, Rel: rel}, nil
}

// AuthorizeShare checks that the share token grants op on subPath inside the
// share target and returns the scope. The scope is narrowed to the target:
// a guest can never see outside the shared directory, and for single-file
// shares subPath must be empty.
func (g *Gate) AuthorizeShare(ctx context.Context, token, subPath string, op Op) (*Scope, share.Record, error) {
	rec, err := g.shares.Resolve(ctx, token)
	if err != nil {
		return nil, share.Record{}, err
	}

	if op == OpWrite && rec.Permission != share.PermissionReadWrite {
		metrics.RecordPermissionCheck(false)
		return nil, share.Record{}, fault.Forbidden("share is read-only")
	}

	partitionRoot, err := g.partitionRoot(rec.Partition, rec.Owner)
	if err != nil {
		metrics.RecordPermissionCheck(false)
		return nil, share.Record{}, err
	}

	target, err := partitionRoot.Resolve(rec.Path)
	if err != nil {
		metrics.RecordPermissionCheck(false)
		return nil, share.Record{}, err
	}
	info, err := os.Lstat(target)
	if err != nil {
		// The shared file or directory was deleted after the share was
		// created; the token is dead from the client's point of view.
		metrics.RecordPermissionCheck(false)
		return nil, share.Record{}, fault.NotFound(subPath)
	}

	subPath = strings.Trim(subPath, "/")

	if !info.IsDir() {
		if subPath != "" {
			metrics.RecordPermissionCheck(false)
			return nil, share.Record{}, fault.NotFound(subPath)
		}
		if op == OpWrite {
			metrics.RecordPermissionCheck(false)
			return nil, share.Record{}, fault.Forbidden("cannot upload into a file share")
		}
		metrics.RecordPermissionCheck(true)
		return &Scope{
			Resolver:  partitionRoot,
			Partition: rec.Partition,
			Rel:       rec.Path,
			FileShare: true,
		}, rec, nil
	}

	narrowed, err := partitionRoot.Sub(rec.Path)
	if err != nil {
		metrics.RecordPermissionCheck(false)
		return nil, share.Record{}, err
	}

	// Validate the sub-path against the narrowed root up front. Operations
	// resolve it again themselves before touching the filesystem.
	if _, err := narrowed.Resolve(subPath); err != nil {
		metrics.RecordPermissionCheck(false)
		return nil, share.Record{}, err
	}

	metrics.RecordPermissionCheck(true)
	return &Scope{Resolver: narrowed, Partition: rec.Partition, Rel: subPath}, rec, nil
}

// AuthorizeShareCreate checks that user may share requestPath with the given
// permission and returns the partition and partition-relative target for the
// share record. The target must exist: dangling shares are not created.
func (g *Gate) AuthorizeShareCreate(ctx context.Context, user User, requestPath string, perm share.Permission) (partition, rel string, err error) {
	op := OpRead
	if perm == share.PermissionReadWrite {
		// Nobody hands out more access than they hold themselves.
		op = OpWrite
	}
	scope, err := g.Authorize(ctx, user, requestPath, op)
	if err != nil {
		return "", "", err
	}

	target, err := scope.Resolver.Resolve(scope.Rel)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Lstat(target); err != nil {
		return "", "", fault.NotFound(requestPath)
	}
	return scope.Partition, scope.Rel, nil
}

func (g *Gate) partitionRoot(partition, username string) (*sandbox.Resolver, error) {
	switch partition {
	case PartitionShared:
		return g.root.Sub(PartitionShared)
	case PartitionPrivate:
		return g.root.Sub(PartitionPrivate + "/" + username)
	default:
		return nil, fault.NotFound(partition)
	}
}
