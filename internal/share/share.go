// Package share manages share links: opaque tokens granting unauthenticated
// access to a file or directory inside the vault.
//
// A Record never stores a resolved filesystem path, only the partition and
// the partition-relative request path of its target. Expiry is evaluated
// when a token is read, never by a background job, so a record past its
// expiry is indistinguishable from one that never existed.
package share

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"
)

// Permission is the access level a share grants.
type Permission string

const (
	// PermissionRead grants listing and downloads.
	PermissionRead Permission = "read"

	// PermissionReadWrite additionally grants uploads into the target
	// directory.
	PermissionReadWrite Permission = "read_write"
)

// Valid reports whether p is a known permission.
func (p Permission) Valid() bool {
	return p == PermissionRead || p == PermissionReadWrite
}

// Record is a stored share link.
type Record struct {
	// Token is the opaque identifier clients present.
	Token string `json:"token"`

	// Owner is the username that created the share.
	Owner string `json:"owner"`

	// Partition is "shared" or "private". Private shares target the
	// owner's folder.
	Partition string `json:"partition"`

	// Path is the partition-relative slash path of the target.
	Path string `json:"path"`

	// Permission is the granted access level.
	Permission Permission `json:"permission"`

	// CreatedAt is the creation time.
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt is the expiry time. Zero means the share never expires.
	ExpiresAt time.Time `json:"expires_at,omitzero"`
}

// Expired reports whether the record is past its expiry at the given time.
func (r Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}

// Store persists share records keyed by token.
//
// Get returns badger.ErrKeyNotFound-equivalent misses as (Record{}, false,
// nil); storage failures are returned as errors.
type Store interface {
	Put(ctx context.Context, rec Record) error
	Get(ctx context.Context, token string) (Record, bool, error)
	Delete(ctx context.Context, token string) error
	List(ctx context.Context) ([]Record, error)
	Close() error
}

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// TokenLength is the length of generated share tokens.
const TokenLength = 7

// NewToken generates a random share token: lowercase letters and digits,
// short enough to read over the phone.
func NewToken() (string, error) {
	// 252 is the largest multiple of len(tokenAlphabet) below 256; bytes at
	// or above it are discarded so every character is equally likely.
	const limit = 256 - 256%len(tokenAlphabet)

	out := make([]byte, 0, TokenLength)
	buf := make([]byte, 2*TokenLength)
	for len(out) < TokenLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == TokenLength {
				break
			}
		}
	}
	return string(out), nil
}
