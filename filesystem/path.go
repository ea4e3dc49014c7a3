package filesystem

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// SafePath normalizes a caller supplied path and joins it to the root
// directory, ensuring the result cannot escape from it. Leading separators are
// stripped so that an absolute path is treated as relative to the root, and
// "" resolves to the root itself.
//
// Two checks are performed. The first is purely lexical and happens before
// anything on the disk is touched: the cleaned path must be the root or live
// beneath it. The second resolves the symlinks along the deepest part of the
// path that exists and confirms that it also lands within the root.
//
// The returned path is the lexical one, symlinks in it are not replaced with
// their targets.
func (fs *Filesystem) SafePath(p string) (string, error) {
	return fs.resolve(p, fs.unsafeFilePath(p), false)
}

// SafeLeaf works like SafePath except that symlinks are only resolved for the
// parent directory of the path. The final element is left alone, which allows
// operations that act on a directory entry itself (delete, rename, move) to
// handle a symlink whose target is outside of the root without ever following
// it.
func (fs *Filesystem) SafeLeaf(p string) (string, error) {
	return fs.resolve(p, fs.unsafeFilePath(p), true)
}

// SafeJoin resolves "name" relative to the directory "dir". The name is joined
// after dir has been anchored to the root, so a name such as "../../etc" is
// rejected even when dir is "/" rather than being clamped to the root. When
// leaf is true the final element is not followed, as with SafeLeaf.
func (fs *Filesystem) SafeJoin(dir string, name string, leaf bool) (string, error) {
	r := filepath.Clean(filepath.Join(fs.unsafeFilePath(dir), name))
	return fs.resolve(path.Join(dir, name), r, leaf)
}

func (fs *Filesystem) resolve(p string, r string, leaf bool) (string, error) {
	if !fs.unsafeIsInDataDirectory(r) {
		return "", NewBadPathResolution(p, r)
	}
	check := r
	if leaf {
		if r == fs.root {
			return r, nil
		}
		check = filepath.Dir(r)
	}
	if err := fs.checkSymlinks(p, check); err != nil {
		return "", err
	}
	return r, nil
}

// Generate a path to the file by cleaning it up and appending the root path to
// it. This DOES NOT guarantee that the file resolves within the root directory,
// you'll want to use fs.unsafeIsInDataDirectory(p) to confirm.
func (fs *Filesystem) unsafeFilePath(p string) string {
	return filepath.Clean(filepath.Join(fs.root, strings.TrimLeft(p, `/\`)))
}

// Check that the path string starts with the root directory path. This does
// not check where symlinks along the path lead.
func (fs *Filesystem) unsafeIsInDataDirectory(p string) bool {
	return strings.HasPrefix(strings.TrimSuffix(p, "/")+"/", strings.TrimSuffix(fs.root, "/")+"/")
}

// relative returns the slash separated path of an absolute path within the
// root, the root itself being "".
func (fs *Filesystem) relative(p string) string {
	rel, err := filepath.Rel(fs.root, p)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// checkSymlinks walks up from r until it finds something that exists on the
// disk and verifies that it resolves within the root. Dangling symlinks met on
// the way are checked against where they would point once created.
func (fs *Filesystem) checkSymlinks(p string, r string) error {
	for try := r; ; try = filepath.Dir(try) {
		ep, err := filepath.EvalSymlinks(try)
		if err == nil {
			if !fs.unsafeIsInDataDirectory(ep) {
				return NewBadPathResolution(p, ep)
			}
			return nil
		}
		if !errors.Is(err, os.ErrNotExist) && !errors.Is(err, unix.ENOTDIR) {
			return errors.Wrap(err, "filesystem: failed to evaluate symlink")
		}
		if st, lerr := os.Lstat(try); lerr == nil && st.Mode()&os.ModeSymlink != 0 {
			if target, rerr := os.Readlink(try); rerr == nil {
				if !filepath.IsAbs(target) {
					target = filepath.Join(filepath.Dir(try), target)
				}
				if !fs.unsafeIsInDataDirectory(filepath.Clean(target)) {
					return NewBadPathResolution(p, target)
				}
			}
		}
		if try == fs.root || !fs.unsafeIsInDataDirectory(filepath.Dir(try)) {
			return nil
		}
	}
}

// ParallelSafePath executes SafePath in parallel against an array of paths,
// returning the resolved paths in the same order. If any of the calls fail an
// error is returned.
func (fs *Filesystem) ParallelSafePath(paths []string) ([]string, error) {
	return fs.parallel(paths, fs.SafePath)
}

// ParallelSafeLeaf is the SafeLeaf equivalent of ParallelSafePath.
func (fs *Filesystem) ParallelSafeLeaf(paths []string) ([]string, error) {
	return fs.parallel(paths, fs.SafeLeaf)
}

func (fs *Filesystem) parallel(paths []string, fn func(string) (string, error)) ([]string, error) {
	cleaned := make([]string, len(paths))

	// Create an error group that we can use to run processes in parallel while retaining
	// the ability to cancel the entire process immediately should any of it fail.
	g, ctx := errgroup.WithContext(context.Background())
	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				c, err := fn(p)
				if err != nil {
					return err
				}
				cleaned[i] = c
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return cleaned, nil
}
