package fsops

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/sandbox"
)

// Move renames the entry at srcRel under src to dstRel under dst. The
// destination parent must exist and the destination itself must not. Source
// and destination may live in different scopes (and on different devices;
// the rename falls back to copy-then-delete across filesystems).
func Move(src *sandbox.Resolver, srcRel string, dst *sandbox.Resolver, dstRel string) (err error) {
	defer instrument("move")(&err)

	if srcRel == "" || srcRel == "." {
		return fault.Forbidden("refusing to move the root directory")
	}
	srcPath, dstPath, err := resolvePair(src, srcRel, dst, dstRel)
	if err != nil {
		return err
	}

	if err := os.Rename(srcPath, dstPath); err != nil {
		if !isCrossDevice(err) {
			return mapOSError(err, dstRel)
		}
		if err := copyTree(srcPath, dstPath, dstRel); err != nil {
			return err
		}
		if err := os.RemoveAll(srcPath); err != nil {
			return fault.StorageIO(err)
		}
	}
	return nil
}

// Copy duplicates the entry at srcRel under src to dstRel under dst.
// Directories are copied recursively; special files are skipped.
func Copy(src *sandbox.Resolver, srcRel string, dst *sandbox.Resolver, dstRel string) (err error) {
	defer instrument("copy")(&err)

	srcPath, dstPath, err := resolvePair(src, srcRel, dst, dstRel)
	if err != nil {
		return err
	}
	return copyTree(srcPath, dstPath, dstRel)
}

// resolvePair resolves and validates a source/destination pair: the source
// must exist, the destination must not, and the destination parent must be
// an existing directory.
func resolvePair(src *sandbox.Resolver, srcRel string, dst *sandbox.Resolver, dstRel string) (srcPath, dstPath string, err error) {
	if err := sandbox.CheckName(baseName(dstRel)); err != nil {
		return "", "", err
	}
	srcPath, err = src.Resolve(srcRel)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Lstat(srcPath); err != nil {
		return "", "", mapOSError(err, srcRel)
	}

	dstPath, err = dst.Resolve(dstRel)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Lstat(dstPath); err == nil {
		return "", "", fault.AlreadyExists(dstRel)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", "", mapOSError(err, dstRel)
	}

	parentInfo, err := os.Stat(filepath.Dir(dstPath))
	if err != nil {
		return "", "", fault.NotFound(parentRel(dstRel))
	}
	if !parentInfo.IsDir() {
		return "", "", fault.NotADirectory(parentRel(dstRel))
	}
	return srcPath, dstPath, nil
}

func parentRel(rel string) string {
	parent := filepath.ToSlash(filepath.Dir(filepath.FromSlash(rel)))
	if parent == "." {
		return ""
	}
	return parent
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) {
		return errors.Is(linkErr.Err, syscall.EXDEV)
	}
	return errors.Is(err, syscall.EXDEV)
}

// copyTree copies a file or directory tree. dstRel only labels errors.
func copyTree(srcPath, dstPath, dstRel string) error {
	info, err := os.Lstat(srcPath)
	if err != nil {
		return mapOSError(err, dstRel)
	}

	switch {
	case info.Mode().IsRegular():
		return copyFile(srcPath, dstPath, dstRel)
	case info.IsDir():
		if err := os.Mkdir(dstPath, 0o755); err != nil {
			return mapOSError(err, dstRel)
		}
		dirents, err := os.ReadDir(srcPath)
		if err != nil {
			return fault.StorageIO(err)
		}
		for _, d := range dirents {
			if isSpecial(d.Type()) {
				continue
			}
			err := copyTree(
				filepath.Join(srcPath, d.Name()),
				filepath.Join(dstPath, d.Name()),
				dstRel+"/"+d.Name(),
			)
			if err != nil {
				return err
			}
		}
		return nil
	default:
		// Symlinks and other specials at the top level are not copied.
		return fault.InvalidArgument("cannot copy special file")
	}
}

func copyFile(srcPath, dstPath, dstRel string) error {
	in, err := os.Open(srcPath)
	if err != nil {
		return fault.StorageIO(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return mapOSError(err, dstRel)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dstPath)
		return fault.StorageIO(err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dstPath)
		return fault.StorageIO(err)
	}
	return nil
}
