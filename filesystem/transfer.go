package filesystem

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/karrick/godirwalk"
	"golang.org/x/sys/unix"
)

// rename is swapped out in tests to simulate a cross device move.
var rename = os.Rename

// Move moves every one of the given paths into the directory "dest". An item
// that already exists at the destination is replaced, unless it is the item
// itself or one of its parents. Moving an item into the directory it already
// lives in does nothing and counts as a success. When the destination is on a
// different device the item is copied over and the source removed.
//
// All paths are resolved up front; after that the first failure stops the
// batch and nothing that has already been moved is put back. The number of
// moved items is returned.
func (fs *Filesystem) Move(paths []string, dest string) (int, error) {
	return fs.transfer(paths, dest, true, func(src, dst string) error {
		err := rename(src, dst)
		if err == nil || !errors.Is(err, unix.EXDEV) {
			return err
		}
		fs.error(err).WithField("source", src).Debug("cross device move, falling back to copy and delete")
		if err := copyItem(src, dst); err != nil {
			return err
		}
		return os.RemoveAll(src)
	})
}

// Copy copies every one of the given paths into the directory "dest".
// Directories are copied recursively, keeping their structure, permissions,
// and modification times. Symlinks are recreated rather than followed. An item
// that already exists at the destination is replaced, unless it is the item
// itself or one of its parents.
func (fs *Filesystem) Copy(paths []string, dest string) (int, error) {
	return fs.transfer(paths, dest, false, copyItem)
}

// transfer runs fn for every item and its target within dest. When inPlace is
// true an item whose target is itself is skipped rather than rejected.
func (fs *Filesystem) transfer(paths []string, dest string, inPlace bool, fn func(src, dst string) error) (int, error) {
	d, err := fs.SafePath(dest)
	if err != nil {
		return 0, err
	}
	if err := fs.requireDirectory(dest, d); err != nil {
		return 0, err
	}
	d, err = filepath.EvalSymlinks(d)
	if err != nil {
		return 0, classify(err, dest)
	}
	resolved, err := fs.ParallelSafeLeaf(paths)
	if err != nil {
		return 0, err
	}
	for i, src := range resolved {
		if src == fs.root {
			return i, newPathError(ErrCodeRootDirectory, paths[i], nil)
		}
		if _, err := os.Lstat(src); err != nil {
			return i, classify(err, paths[i])
		}
		// Compare canonical locations so that a symlinked parent directory cannot
		// be used to sneak an item inside of itself.
		parent, err := filepath.EvalSymlinks(filepath.Dir(src))
		if err != nil {
			return i, classify(err, paths[i])
		}
		canonical := filepath.Join(parent, filepath.Base(src))
		dst := filepath.Join(d, filepath.Base(src))
		if dst == canonical {
			if inPlace {
				continue
			}
			return i, newPathError(ErrCodeInvalidDestination, paths[i], nil)
		}
		// The destination may not be inside the item, and the target that gets
		// replaced may not contain the item.
		if isWithin(canonical, d) || isWithin(dst, canonical) {
			return i, newPathError(ErrCodeInvalidDestination, paths[i], nil)
		}
		if _, err := os.Lstat(dst); err == nil {
			if err := os.RemoveAll(dst); err != nil {
				return i, classify(err, paths[i])
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return i, classify(err, paths[i])
		}
		if err := fn(canonical, dst); err != nil {
			return i, classify(err, paths[i])
		}
	}
	return len(resolved), nil
}

// isWithin reports if p is the directory dir or lives somewhere beneath it.
func isWithin(dir string, p string) bool {
	return p == dir || strings.HasPrefix(p, strings.TrimSuffix(dir, "/")+"/")
}

// copyItem copies a single file, directory, or symlink from src to dst.
func copyItem(src string, dst string) error {
	st, err := os.Lstat(src)
	if err != nil {
		return err
	}
	switch {
	case st.Mode()&os.ModeSymlink != 0:
		return copySymlink(src, dst)
	case st.IsDir():
		return copyTree(src, dst)
	case st.Mode().IsRegular():
		return copyFile(src, dst, st)
	}
	return newPathError(ErrCodeNotFile, filepath.Base(src), nil)
}

// copyTree recursively copies the directory src to dst. Directory permissions
// and times are applied once all of a directory's children have been written,
// otherwise a read-only directory could not be filled and the times would be
// bumped by the writes.
func copyTree(src string, dst string) error {
	target := func(p string) (string, error) {
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return "", errors.WithStack(err)
		}
		return filepath.Join(dst, rel), nil
	}
	return godirwalk.Walk(src, &godirwalk.Options{
		FollowSymbolicLinks: false,
		Unsorted:            true,
		Callback: func(p string, de *godirwalk.Dirent) error {
			t, err := target(p)
			if err != nil {
				return err
			}
			switch {
			case de.IsDir():
				return errors.WithStack(os.Mkdir(t, 0o700))
			case de.IsSymlink():
				return copySymlink(p, t)
			case de.IsRegular():
				st, err := os.Lstat(p)
				if err != nil {
					return errors.WithStack(err)
				}
				return copyFile(p, t, st)
			}
			// Sockets, devices, and pipes are not copied.
			return nil
		},
		PostChildrenCallback: func(p string, _ *godirwalk.Dirent) error {
			t, err := target(p)
			if err != nil {
				return err
			}
			st, err := os.Lstat(p)
			if err != nil {
				return errors.WithStack(err)
			}
			if err := os.Chmod(t, st.Mode().Perm()); err != nil {
				return errors.WithStack(err)
			}
			return errors.WithStack(os.Chtimes(t, accessTime(st.Sys()), st.ModTime()))
		},
	})
}

func copyFile(src string, dst string, st os.FileInfo) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, st.Mode().Perm())
	if err != nil {
		return errors.WithStack(err)
	}
	buf := pool.Get().([]byte)
	defer pool.Put(buf)
	if _, err := io.CopyBuffer(out, in, buf); err != nil {
		_ = out.Close()
		return errors.WithStack(err)
	}
	if err := out.Close(); err != nil {
		return errors.WithStack(err)
	}
	// The umask applies when the file is created, so set the mode explicitly.
	if err := os.Chmod(dst, st.Mode().Perm()); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Chtimes(dst, accessTime(st.Sys()), st.ModTime()))
}

func copySymlink(src string, dst string) error {
	link, err := os.Readlink(src)
	if err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Symlink(link, dst))
}
