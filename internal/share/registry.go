package share

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/logging"
	"github.com/lanvault/lanvault/internal/metrics"
)

// Registry implements share lifecycle on top of a Store: token generation,
// expiry evaluated at read time, and owner-scoped revocation.
type Registry struct {
	store      Store
	defaultTTL time.Duration
	now        func() time.Time
}

// NewRegistry creates a Registry. defaultTTL applies to shares created
// without an explicit expiry; zero means such shares never expire.
func NewRegistry(store Store, defaultTTL time.Duration) *Registry {
	return &Registry{store: store, defaultTTL: defaultTTL, now: time.Now}
}

// CreateParams describes a share to create. TTL zero picks the configured
// default; a negative TTL is rejected.
type CreateParams struct {
	Owner      string
	Partition  string
	Path       string
	Permission Permission
	TTL        time.Duration
}

// Create generates a token and stores the record. Target existence and the
// owner's right to share the path are checked by the caller before this.
func (r *Registry) Create(ctx context.Context, p CreateParams) (Record, error) {
	if !p.Permission.Valid() {
		return Record{}, fault.InvalidArgument("invalid permission")
	}
	if p.TTL < 0 {
		return Record{}, fault.InvalidArgument("negative ttl")
	}

	token, err := NewToken()
	if err != nil {
		return Record{}, fault.StorageIO(err)
	}

	now := r.now()
	rec := Record{
		Token:      token,
		Owner:      p.Owner,
		Partition:  p.Partition,
		Path:       p.Path,
		Permission: p.Permission,
		CreatedAt:  now,
	}
	ttl := p.TTL
	if ttl == 0 {
		ttl = r.defaultTTL
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	if err := r.store.Put(ctx, rec); err != nil {
		return Record{}, fault.StorageIO(err)
	}

	logging.WithContext(ctx).Info("share created",
		zap.String("token", token),
		zap.String("owner", p.Owner),
		zap.String("partition", p.Partition),
		zap.String("path", p.Path),
		zap.String("permission", string(p.Permission)),
	)
	r.updateActiveCount(ctx)
	return rec, nil
}

// Resolve looks up a token. Unknown and expired tokens are both surfaced as
// not-found to clients; the distinct expired kind exists for logs and
// metrics only.
func (r *Registry) Resolve(ctx context.Context, token string) (Record, error) {
	rec, ok, err := r.store.Get(ctx, token)
	if err != nil {
		return Record{}, fault.StorageIO(err)
	}
	if !ok {
		metrics.RecordShareAccess("not_found")
		return Record{}, fault.NotFound(token)
	}
	if rec.Expired(r.now()) {
		metrics.RecordShareAccess("expired")
		return Record{}, fault.Expired(token)
	}
	metrics.RecordShareAccess("ok")
	return rec, nil
}

// Revoke deletes a share. The owner may always revoke; shares into the
// shared partition may additionally be revoked by any shared-partition
// writer. Revoking an unknown or expired token reports not-found.
func (r *Registry) Revoke(ctx context.Context, token, requester string, requesterSharedWrite bool) error {
	rec, err := r.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if rec.Owner != requester && !(rec.Partition == "shared" && requesterSharedWrite) {
		return fault.Forbidden("not allowed to revoke this share")
	}
	if err := r.store.Delete(ctx, token); err != nil {
		return fault.StorageIO(err)
	}
	logging.WithContext(ctx).Info("share revoked",
		zap.String("token", token), zap.String("owner", requester))
	r.updateActiveCount(ctx)
	return nil
}

// ListByOwner returns the requester's live shares, newest first. Expired
// records are skipped, not deleted; they disappear from every read path the
// moment their expiry passes.
func (r *Registry) ListByOwner(ctx context.Context, owner string) ([]Record, error) {
	all, err := r.store.List(ctx)
	if err != nil {
		return nil, fault.StorageIO(err)
	}
	now := r.now()
	out := make([]Record, 0)
	for _, rec := range all {
		if rec.Owner == owner && !rec.Expired(now) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *Registry) updateActiveCount(ctx context.Context) {
	all, err := r.store.List(ctx)
	if err != nil {
		return
	}
	now := r.now()
	var live int64
	for _, rec := range all {
		if !rec.Expired(now) {
			live++
		}
	}
	metrics.SetShareLinksActive(live)
}
