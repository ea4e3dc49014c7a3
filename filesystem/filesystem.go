package filesystem

import (
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"emperror.dev/errors"
)

// The kinds of item Create knows how to make.
const (
	KindFile      = "file"
	KindDirectory = "dir"
)

// Settings controls the tunable behaviour of a Filesystem. Zero values are
// replaced with sensible defaults by New.
type Settings struct {
	// The maximum depth Tree will descend to before it stops enumerating
	// children.
	TreeDepth int
	// The number of workers used to stat and detect the type of entries when
	// listing a directory.
	ListingWorkers int
	// The compression level used when building zip archives, one of "none",
	// "best_speed" or "best_compression".
	CompressionLevel string
	// The maximum number of bytes per second written when building an archive,
	// or zero for no limit.
	WriteLimit int64
}

type Filesystem struct {
	// The canonical (symlink resolved) root directory for this Filesystem
	// instance. Nothing outside of this directory is ever touched.
	root     string
	settings Settings
}

// New creates a new Filesystem instance confined to the given root directory,
// creating the directory if it does not exist yet.
func New(root string, s Settings) (*Filesystem, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrap(err, "filesystem: failed to determine absolute root path")
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, errors.Wrap(err, "filesystem: failed to create root directory")
	}
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.Wrap(err, "filesystem: failed to resolve root directory")
	}
	if st, err := os.Stat(canonical); err != nil {
		return nil, errors.WithStack(err)
	} else if !st.IsDir() {
		return nil, errors.Errorf("filesystem: root path %s is not a directory", canonical)
	}
	if s.TreeDepth <= 0 {
		s.TreeDepth = 64
	}
	if s.ListingWorkers <= 0 {
		s.ListingWorkers = 8
	}
	if s.CompressionLevel == "" {
		s.CompressionLevel = "best_speed"
	}
	return &Filesystem{root: canonical, settings: s}, nil
}

// Path returns the root path for the Filesystem instance.
func (fs *Filesystem) Path() string {
	return fs.root
}

// Readfile returns the contents of a regular file as text. Byte sequences that
// are not valid UTF-8 are dropped rather than causing the read to fail, so
// binary files come back mangled but readable.
func (fs *Filesystem) Readfile(p string) (string, error) {
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return "", err
	}
	if err := fs.requireRegular(p, cleaned); err != nil {
		return "", err
	}
	b, err := os.ReadFile(cleaned)
	if err != nil {
		return "", classify(err, p)
	}
	return strings.ToValidUTF8(string(b), ""), nil
}

// Writefile replaces the contents of an existing regular file. Files are never
// created by this call, use Create or Upload for that. The new contents are
// written to a temporary file next to the target and then renamed over it so
// readers never observe a half written file.
func (fs *Filesystem) Writefile(p string, r io.Reader) error {
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return err
	}
	if err := fs.requireRegular(p, cleaned); err != nil {
		return err
	}
	// Write through to the file a symlink points at rather than replacing the
	// link itself with a regular file.
	target, err := filepath.EvalSymlinks(cleaned)
	if err != nil {
		return classify(err, p)
	}
	st, err := os.Stat(target)
	if err != nil {
		return classify(err, p)
	}
	return errors.WithMessage(replaceFile(target, r, st.Mode().Perm()), "filesystem: writefile: failed to replace file")
}

// Upload stores the contents of the reader as a file named "name" inside of
// the directory "dir". Unlike Writefile, the file is created if it does not
// already exist, and an existing file is overwritten.
func (fs *Filesystem) Upload(dir string, name string, r io.Reader) error {
	if !isBaseName(name) {
		return newPathError(ErrCodeInvalidName, name, nil)
	}
	d, err := fs.SafePath(dir)
	if err != nil {
		return err
	}
	if err := fs.requireDirectory(dir, d); err != nil {
		return err
	}
	cleaned, err := fs.SafeJoin(dir, name, false)
	if err != nil {
		return err
	}
	mode := os.FileMode(0o644)
	if st, err := os.Stat(cleaned); err == nil {
		if !st.Mode().IsRegular() {
			return newPathError(ErrCodeNotFile, path.Join(dir, name), nil)
		}
		mode = st.Mode().Perm()
		if cleaned, err = filepath.EvalSymlinks(cleaned); err != nil {
			return classify(err, name)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return classify(err, name)
	}
	return errors.WithMessage(replaceFile(cleaned, r, mode), "filesystem: upload: failed to write file")
}

// Open returns a reader for a regular file as well as the stat information
// for it. The caller is responsible for closing the file.
func (fs *Filesystem) Open(p string) (*os.File, *Stat, error) {
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return nil, nil, err
	}
	if err := fs.requireRegular(p, cleaned); err != nil {
		return nil, nil, err
	}
	st, err := fs.stat(cleaned, true)
	if err != nil {
		return nil, nil, classify(err, p)
	}
	f, err := os.Open(cleaned)
	if err != nil {
		return nil, nil, classify(err, p)
	}
	return f, st, nil
}

// Create makes a new, empty file or a new directory named "name" inside of
// the directory "dir". Directory names may contain separators, in which case
// any missing intermediate directories are created as well.
func (fs *Filesystem) Create(dir string, name string, kind string) error {
	if kind != KindFile && kind != KindDirectory {
		return newFilesystemError(ErrCodeInvalidKind, nil)
	}
	if strings.Trim(name, `/\`) == "" {
		return newPathError(ErrCodeInvalidName, name, nil)
	}
	if _, err := fs.SafePath(dir); err != nil {
		return err
	}
	rel := path.Join(dir, name)
	cleaned, err := fs.SafeJoin(dir, name, false)
	if err != nil {
		return err
	}
	if cleaned == fs.root {
		return newPathError(ErrCodeExist, rel, nil)
	}
	if _, err := os.Lstat(cleaned); err == nil {
		return newPathError(ErrCodeExist, rel, nil)
	} else if !errors.Is(err, os.ErrNotExist) {
		return classify(err, rel)
	}
	if kind == KindDirectory {
		return classify(os.MkdirAll(cleaned, 0o755), rel)
	}
	f, err := os.OpenFile(cleaned, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return classify(err, rel)
	}
	return classify(f.Close(), rel)
}

// Delete removes every one of the given paths, recursively removing any
// directories. All paths are resolved before anything is removed, after that
// the first failure stops the batch and earlier removals are not undone. The
// number of removed items is returned.
func (fs *Filesystem) Delete(paths []string) (int, error) {
	resolved, err := fs.ParallelSafeLeaf(paths)
	if err != nil {
		return 0, err
	}
	for i, p := range resolved {
		if p == fs.root {
			return i, newPathError(ErrCodeRootDirectory, paths[i], nil)
		}
		// Lstat so that a symlink is removed rather than the thing it points at.
		st, err := os.Lstat(p)
		if err != nil {
			return i, classify(err, paths[i])
		}
		if st.IsDir() {
			err = os.RemoveAll(p)
		} else {
			err = os.Remove(p)
		}
		if err != nil {
			return i, classify(err, paths[i])
		}
	}
	return len(resolved), nil
}

// Rename renames an item within the directory "dir". Both names are resolved
// through the sandbox so a new name containing traversal segments is rejected.
func (fs *Filesystem) Rename(dir string, oldName string, newName string) error {
	if oldName == "" {
		return newPathError(ErrCodeInvalidName, oldName, nil)
	}
	if newName == "" {
		return newPathError(ErrCodeInvalidName, newName, nil)
	}
	from, to := path.Join(dir, oldName), path.Join(dir, newName)
	cleanedFrom, err := fs.SafeJoin(dir, oldName, true)
	if err != nil {
		return err
	}
	cleanedTo, err := fs.SafeJoin(dir, newName, true)
	if err != nil {
		return err
	}
	if cleanedFrom == fs.root || cleanedTo == fs.root {
		return newFilesystemError(ErrCodeRootDirectory, nil)
	}
	if _, err := os.Lstat(cleanedFrom); err != nil {
		return classify(err, from)
	}
	// The rename call happily replaces an existing file, so check for it up
	// front and refuse.
	if _, err := os.Lstat(cleanedTo); err == nil {
		return newPathError(ErrCodeExist, to, nil)
	} else if !errors.Is(err, os.ErrNotExist) {
		return classify(err, to)
	}
	return classify(os.Rename(cleanedFrom, cleanedTo), from)
}

// Chmod applies the permissions described by the octal string "mode" to the
// given path, e.g. "755" or "0644".
func (fs *Filesystem) Chmod(p string, mode string) error {
	m, err := ParseMode(mode)
	if err != nil {
		return err
	}
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return err
	}
	return classify(os.Chmod(cleaned, m), p)
}

// ParseMode converts an octal permission string into an os.FileMode,
// translating the setuid, setgid, and sticky bits into their Go equivalents.
func ParseMode(mode string) (os.FileMode, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(mode), 8, 32)
	if err != nil || v > 0o7777 {
		return 0, newPathError(ErrCodeInvalidMode, mode, err)
	}
	m := os.FileMode(v) & os.ModePerm
	if v&0o4000 != 0 {
		m |= os.ModeSetuid
	}
	if v&0o2000 != 0 {
		m |= os.ModeSetgid
	}
	if v&0o1000 != 0 {
		m |= os.ModeSticky
	}
	return m, nil
}

// Chtimes changes the access and modification times of the given path.
func (fs *Filesystem) Chtimes(p string, atime, mtime time.Time) error {
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return err
	}
	return classify(os.Chtimes(cleaned, atime, mtime), p)
}

func (fs *Filesystem) requireRegular(p string, cleaned string) error {
	st, err := os.Stat(cleaned)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return newPathError(ErrCodeNotFile, p, err)
		}
		return classify(err, p)
	}
	if !st.Mode().IsRegular() {
		return newPathError(ErrCodeNotFile, p, nil)
	}
	return nil
}

func (fs *Filesystem) requireDirectory(p string, cleaned string) error {
	st, err := os.Stat(cleaned)
	if err != nil {
		return classify(err, p)
	}
	if !st.IsDir() {
		return newPathError(ErrCodeNotDirectory, p, nil)
	}
	return nil
}

// isBaseName reports if name is usable as a single path element.
func isBaseName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// replaceFile writes the contents of r into a temporary file in the same
// directory as dst and then renames it over dst.
func replaceFile(dst string, r io.Reader, mode os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return classify(err, filepath.Base(dst))
	}
	// Removing the temporary file after a successful rename fails harmlessly.
	defer os.Remove(tmp.Name())

	buf := pool.Get().([]byte)
	defer pool.Put(buf)
	if _, err := io.CopyBuffer(tmp, r, buf); err != nil {
		_ = tmp.Close()
		return errors.WithStack(err)
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return errors.WithStack(err)
	}
	if err := tmp.Close(); err != nil {
		return errors.WithStack(err)
	}
	return classify(os.Rename(tmp.Name(), dst), filepath.Base(dst))
}
