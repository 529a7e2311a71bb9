// Package fsops implements the file operations the server exposes: listing,
// reading, writing, moving, copying, zipping and searching, all confined to
// a sandbox resolver.
//
// Every operation resolves its request path against the resolver at call
// time. Nothing here caches a resolved path; the resolver is the only way
// from a request path to the disk.
package fsops

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"sort"
	"syscall"
	"time"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/metrics"
	"github.com/lanvault/lanvault/internal/sandbox"
)

// Entry describes one file or directory in API responses. Path is relative
// to the authorized scope, never a host path.
type Entry struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	IsDir   bool      `json:"is_dir"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
}

// TreeNode is an Entry with children, for recursive listings.
type TreeNode struct {
	Entry
	Children []*TreeNode `json:"children,omitempty"`
}

// mapOSError converts an OS-level error into the domain taxonomy. The rel
// path keeps client responses free of host paths.
func mapOSError(err error, rel string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fault.NotFound(rel)
	case errors.Is(err, fs.ErrExist):
		return fault.AlreadyExists(rel)
	case errors.Is(err, syscall.ENOTDIR):
		return fault.NotADirectory(rel)
	case errors.Is(err, syscall.EISDIR):
		return fault.IsADirectory(rel)
	default:
		return fault.StorageIO(err)
	}
}

func entryFor(rel string, info fs.FileInfo) Entry {
	return Entry{
		Name:    info.Name(),
		Path:    rel,
		IsDir:   info.IsDir(),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

// List returns the direct children of the directory at rel, directories
// first, each group sorted by name.
func List(r *sandbox.Resolver, rel string) (entries []Entry, err error) {
	defer instrument("list")(&err)

	target, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, mapOSError(err, rel)
	}
	if !info.IsDir() {
		return nil, fault.NotADirectory(rel)
	}

	dirents, err := os.ReadDir(target)
	if err != nil {
		return nil, mapOSError(err, rel)
	}

	entries = make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			// Entry vanished between ReadDir and Info.
			continue
		}
		entries = append(entries, entryFor(joinRel(rel, d.Name()), info))
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir != entries[j].IsDir {
			return entries[i].IsDir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Tree returns the full tree rooted at rel. Symlinked directories are
// listed but not descended into.
func Tree(r *sandbox.Resolver, rel string) (node *TreeNode, err error) {
	defer instrument("tree")(&err)

	target, err := r.Resolve(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return nil, mapOSError(err, rel)
	}

	node = &TreeNode{Entry: entryFor(rel, info)}
	if rel == "" {
		node.Name = "."
	}
	if info.IsDir() {
		if err := fillTree(r, node); err != nil {
			return nil, err
		}
	}
	return node, nil
}

func fillTree(r *sandbox.Resolver, node *TreeNode) error {
	target, err := r.Resolve(node.Path)
	if err != nil {
		return err
	}
	dirents, err := os.ReadDir(target)
	if err != nil {
		return mapOSError(err, node.Path)
	}
	for _, d := range dirents {
		info, err := d.Info()
		if err != nil {
			continue
		}
		child := &TreeNode{Entry: entryFor(joinRel(node.Path, d.Name()), info)}
		if d.IsDir() && d.Type()&fs.ModeSymlink == 0 {
			if err := fillTree(r, child); err != nil {
				return err
			}
		}
		node.Children = append(node.Children, child)
	}
	sort.SliceStable(node.Children, func(i, j int) bool {
		if node.Children[i].IsDir != node.Children[j].IsDir {
			return node.Children[i].IsDir
		}
		return node.Children[i].Name < node.Children[j].Name
	})
	return nil
}

func joinRel(rel, name string) string {
	if rel == "" {
		return name
	}
	return rel + "/" + name
}

func baseName(rel string) string {
	return path.Base(path.Clean("/" + rel))
}

// instrument records per-operation metrics. Use with a named error return:
//
//	defer instrument("list")(&err)
func instrument(op string) func(*error) {
	start := time.Now()
	return func(errp *error) {
		metrics.RecordFileOperation(op, time.Since(start), *errp)
	}
}
