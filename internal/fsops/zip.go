package fsops

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/sandbox"
)

// Zip streams a zip archive of the given paths to w. Each path becomes a
// top-level entry named after its base name; name collisions get a numeric
// suffix. Directories are walked recursively, symlinks are skipped, and the
// walk stops when ctx is cancelled (the client went away).
//
// Entries that disappear mid-walk are silently skipped: a snapshot of a
// live tree is inherently best-effort.
func Zip(ctx context.Context, r *sandbox.Resolver, rels []string, w io.Writer) (err error) {
	defer instrument("zip")(&err)

	if len(rels) == 0 {
		return fault.InvalidArgument("no paths to zip")
	}

	type item struct {
		rel  string
		abs  string
		info os.FileInfo
	}
	items := make([]item, 0, len(rels))
	for _, rel := range rels {
		abs, err := r.Resolve(rel)
		if err != nil {
			return err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return mapOSError(err, rel)
		}
		top := baseName(rel)
		if rel == "" {
			top = filepath.Base(r.Root())
		}
		items = append(items, item{rel: top, abs: abs, info: info})
	}

	zw := zip.NewWriter(w)
	defer zw.Close()

	used := map[string]int{}
	uniqueTop := func(base string) string {
		n := used[base]
		used[base] = n + 1
		if n == 0 {
			return base
		}
		ext := filepath.Ext(base)
		return fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(base, ext), n, ext)
	}

	for _, it := range items {
		top := uniqueTop(it.rel)
		if it.info.IsDir() {
			if err := zipDir(ctx, zw, it.abs, top); err != nil {
				return err
			}
			continue
		}
		if err := zipFile(zw, it.abs, top, it.info.ModTime()); err != nil {
			return err
		}
	}
	return nil
}

func zipDir(ctx context.Context, zw *zip.Writer, baseAbs, baseRel string) error {
	return filepath.WalkDir(baseAbs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		relp, err := filepath.Rel(baseAbs, p)
		if err != nil {
			return nil
		}
		modTime := time.Now()
		if info, err := d.Info(); err == nil {
			modTime = info.ModTime()
		}
		return zipFile(zw, p, filepath.ToSlash(filepath.Join(baseRel, relp)), modTime)
	})
}

func zipFile(zw *zip.Writer, abs, name string, modTime time.Time) error {
	wr, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modTime,
	})
	if err != nil {
		return fault.StorageIO(err)
	}
	f, err := os.Open(abs)
	if err != nil {
		// Deleted between walk and open.
		return nil
	}
	defer f.Close()
	if _, err := io.Copy(wr, f); err != nil {
		return fault.StorageIO(err)
	}
	return nil
}
