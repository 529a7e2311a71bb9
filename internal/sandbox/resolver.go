// Package sandbox confines request paths to a root directory.
//
// A Resolver turns untrusted slash-separated request paths into absolute
// host paths guaranteed to sit at or under its root after symlink
// resolution. Results are never cached; callers resolve again before every
// filesystem operation so a path that was safe a moment ago cannot be
// swapped for an escaping symlink in between checks and use.
package sandbox

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/lanvault/lanvault/internal/fault"
)

// Resolver confines paths to a canonicalized root.
type Resolver struct {
	root string // canonical absolute path, no trailing separator
}

// New builds a Resolver rooted at dir. The directory must exist; its
// canonical form (symlinks resolved) becomes the containment boundary.
func New(dir string) (*Resolver, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	canon, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, err
	}
	return &Resolver{root: canon}, nil
}

// Root returns the canonical root path.
func (r *Resolver) Root() string { return r.root }

// Sub returns a Resolver rooted at the named subdirectory of r. The
// subdirectory must exist. Used to narrow a partition root down to a share
// target.
func (r *Resolver) Sub(rel string) (*Resolver, error) {
	p, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	canon, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fault.NotFound(rel)
		}
		return nil, fault.StorageIO(err)
	}
	if !contained(canon, r.root) {
		return nil, fault.PathViolation(rel)
	}
	return &Resolver{root: canon}, nil
}

// Resolve maps a request path to an absolute host path under the root.
//
// Backslashes are normalized to slashes first; beyond that the request path
// is rejected outright when it contains a NUL byte, is absolute, or contains
// an empty, "." or ".." segment anywhere. Segments are never collapsed, so
// "a/../b" and "a/./b" fail even though their cleaned forms stay inside the
// root. The surviving path is joined to the root and canonicalized down to
// its deepest existing ancestor, and the canonical form must sit at or under
// the root on a segment boundary. An empty request path resolves to the root
// itself.
func (r *Resolver) Resolve(requestPath string) (string, error) {
	// Backslashes are separators as far as clients are concerned; normalize
	// before any segment checks so "..\x" cannot sneak past them.
	requestPath = strings.ReplaceAll(requestPath, "\\", "/")
	if err := checkRequestPath(requestPath); err != nil {
		return "", err
	}
	joined := filepath.Join(r.root, filepath.FromSlash(requestPath))
	canon, err := canonicalize(joined)
	if err != nil {
		return "", err
	}
	if !contained(canon, r.root) {
		return "", fault.PathViolation(requestPath)
	}
	return canon, nil
}

// CheckName validates a single path component used as a new leaf name
// (mkdir, upload filename, move destination). It must be non-empty, contain
// no separators and not be "." or "..".
func CheckName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fault.InvalidArgument("invalid name")
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fault.InvalidArgument("invalid name")
	}
	return nil
}

func checkRequestPath(p string) error {
	if p == "" {
		return nil
	}
	if strings.ContainsRune(p, '\x00') {
		return fault.PathViolation(p)
	}
	if strings.HasPrefix(p, "/") || filepath.IsAbs(filepath.FromSlash(p)) {
		return fault.PathViolation(p)
	}
	// No segment may be empty, "." or "..". Nothing is collapsed: "a/../b"
	// and "a//b" fail even though a cleaned form would stay inside the root.
	for _, seg := range strings.Split(p, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fault.PathViolation(p)
		}
	}
	return nil
}

// canonicalize resolves symlinks in p. When the tail of the path does not
// exist yet (upload targets, mkdir destinations) it resolves the deepest
// existing ancestor and reattaches the missing suffix verbatim.
func canonicalize(p string) (string, error) {
	canon, err := filepath.EvalSymlinks(p)
	if err == nil {
		return canon, nil
	}
	if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
		return "", fault.StorageIO(err)
	}
	dir := filepath.Dir(p)
	if dir == p {
		// Hit the filesystem root without finding anything.
		return "", fault.StorageIO(err)
	}
	canonDir, err := canonicalize(dir)
	if err != nil {
		return "", err
	}
	return filepath.Join(canonDir, filepath.Base(p)), nil
}

// contained reports whether p equals root or sits under it on a segment
// boundary. Both arguments must already be canonical.
func contained(p, root string) bool {
	if p == root {
		return true
	}
	return strings.HasPrefix(p, root+string(os.PathSeparator))
}
