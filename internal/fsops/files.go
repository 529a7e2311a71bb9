package fsops

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/lanvault/lanvault/internal/fault"
	"github.com/lanvault/lanvault/internal/sandbox"
)

// Open opens the file at rel for reading. Directories report IsADirectory.
// The caller closes the returned file.
func Open(r *sandbox.Resolver, rel string) (f *os.File, info os.FileInfo, err error) {
	defer instrument("open")(&err)

	target, err := r.Resolve(rel)
	if err != nil {
		return nil, nil, err
	}
	info, err = os.Stat(target)
	if err != nil {
		return nil, nil, mapOSError(err, rel)
	}
	if info.IsDir() {
		return nil, nil, fault.IsADirectory(rel)
	}
	f, err = os.Open(target)
	if err != nil {
		return nil, nil, mapOSError(err, rel)
	}
	return f, info, nil
}

// Stat returns the entry at rel.
func Stat(r *sandbox.Resolver, rel string) (Entry, error) {
	target, err := r.Resolve(rel)
	if err != nil {
		return Entry{}, err
	}
	info, err := os.Stat(target)
	if err != nil {
		return Entry{}, mapOSError(err, rel)
	}
	return entryFor(rel, info), nil
}

// WriteFile stores the contents of src at rel. The parent directory must
// already exist. Unless overwrite is set, an existing destination is an
// AlreadyExists error; the check and the reservation of the name are a
// single exclusive create, so concurrent writers cannot both win.
//
// Data lands in a temp file next to the destination and is moved into place
// with a rename, so readers never observe a half-written file.
func WriteFile(r *sandbox.Resolver, rel string, src io.Reader, overwrite bool) (written int64, err error) {
	defer instrument("write")(&err)

	if err := sandbox.CheckName(baseName(rel)); err != nil {
		return 0, err
	}
	target, err := r.Resolve(rel)
	if err != nil {
		return 0, err
	}

	if info, err := os.Stat(target); err == nil && info.IsDir() {
		return 0, fault.IsADirectory(rel)
	}

	reserved := false
	if !overwrite {
		placeholder, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return 0, mapOSError(err, rel)
		}
		placeholder.Close()
		reserved = true
	}

	cleanup := func(tmpPath string) {
		if tmpPath != "" {
			os.Remove(tmpPath)
		}
		if reserved {
			os.Remove(target)
		}
	}

	dir := filepath.Dir(target)
	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		cleanup("")
		return 0, mapOSError(err, rel)
	}
	tmpPath := tmp.Name()

	written, err = io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		cleanup(tmpPath)
		return 0, fault.StorageIO(err)
	}
	if err := tmp.Close(); err != nil {
		cleanup(tmpPath)
		return 0, fault.StorageIO(err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup(tmpPath)
		return 0, fault.StorageIO(err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		cleanup(tmpPath)
		return 0, mapOSError(err, rel)
	}
	return written, nil
}

// CreateFile creates an empty file at rel. AlreadyExists if the name is
// taken.
func CreateFile(r *sandbox.Resolver, rel string) (err error) {
	defer instrument("create")(&err)

	if err := sandbox.CheckName(baseName(rel)); err != nil {
		return err
	}
	target, err := r.Resolve(rel)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return mapOSError(err, rel)
	}
	return f.Close()
}

// Mkdir creates a single directory at rel. The parent must exist.
func Mkdir(r *sandbox.Resolver, rel string) (err error) {
	defer instrument("mkdir")(&err)

	if err := sandbox.CheckName(baseName(rel)); err != nil {
		return err
	}
	target, err := r.Resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Mkdir(target, 0o755); err != nil {
		return mapOSError(err, rel)
	}
	return nil
}

// Delete removes the file or directory tree at rel. The scope root itself
// cannot be deleted.
func Delete(r *sandbox.Resolver, rel string) (err error) {
	defer instrument("delete")(&err)

	if rel == "" || rel == "." {
		return fault.Forbidden("refusing to delete the root directory")
	}
	target, err := r.Resolve(rel)
	if err != nil {
		return err
	}
	info, err := os.Lstat(target)
	if err != nil {
		return mapOSError(err, rel)
	}
	if info.IsDir() {
		if err := os.RemoveAll(target); err != nil {
			return fault.StorageIO(err)
		}
		return nil
	}
	if err := os.Remove(target); err != nil {
		return mapOSError(err, rel)
	}
	return nil
}

// isSpecial reports whether the entry is neither a regular file nor a
// directory. Copy skips such entries.
func isSpecial(mode fs.FileMode) bool {
	return !mode.IsRegular() && !mode.IsDir()
}
