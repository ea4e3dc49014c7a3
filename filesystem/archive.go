package filesystem

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"

	"emperror.dev/errors"
	"github.com/juju/ratelimit"
	"github.com/karrick/godirwalk"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

const memory = 4 * 1024

var pool = sync.Pool{
	New: func() interface{} {
		b := make([]byte, memory)
		return b
	},
}

// DefaultArchiveName is used when CompressFiles is not given a name.
const DefaultArchiveName = "archive.zip"

type Archive struct {
	// Files are the absolute paths of the files and directories to place in the
	// archive. Each one ends up at the top level of the archive under its base
	// name.
	Files []string

	// Exclude lists absolute paths that are never added to the archive, even
	// when they are found within one of the directories being archived.
	Exclude []string

	// CompressionLevel is one of "none", "best_speed", or "best_compression".
	CompressionLevel string

	// WriteLimit is the maximum number of bytes per second written to the
	// archive, zero means unlimited.
	WriteLimit int64
}

// Create creates a zip archive at dst with all the files defined in the
// included Files array. The archive is built in a temporary file next to dst
// which is only renamed into place once it is complete, an existing file at
// dst is replaced.
func (a *Archive) Create(ctx context.Context, dst string) error {
	f, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*.tmp")
	if err != nil {
		return errors.WithStack(err)
	}
	defer os.Remove(f.Name())

	// Never archive the archive.
	exclude := map[string]struct{}{dst: {}, f.Name(): {}}
	for _, p := range a.Exclude {
		exclude[p] = struct{}{}
	}

	if err := a.write(ctx, f, exclude); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		return errors.WithStack(err)
	}
	if err := f.Close(); err != nil {
		return errors.WithStack(err)
	}
	return errors.WithStack(os.Rename(f.Name(), dst))
}

func (a *Archive) write(ctx context.Context, f *os.File, exclude map[string]struct{}) error {
	// Select a writer based off of the WriteLimit configuration option. If there is no
	// write limit, use the file as the writer.
	var writer io.Writer
	if a.WriteLimit > 0 {
		// Token bucket with a capacity of "WriteLimit" bytes, adding "WriteLimit" bytes/s
		// and then wrap the file writer with the token bucket limiter.
		writer = ratelimit.Writer(f, ratelimit.NewBucketWithRate(float64(a.WriteLimit), a.WriteLimit))
	} else {
		writer = f
	}

	// Choose which compression level to use based on the compression_level configuration option
	method := zip.Deflate
	var level int
	switch a.CompressionLevel {
	case "none":
		method = zip.Store
		level = flate.NoCompression
	case "best_compression":
		level = flate.BestCompression
	case "best_speed":
		fallthrough
	default:
		level = flate.BestSpeed
	}

	zw := zip.NewWriter(writer)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, level)
	})

	for _, p := range a.Files {
		if _, ok := exclude[p]; ok {
			continue
		}
		if err := a.addItem(ctx, zw, p, method, exclude); err != nil {
			_ = zw.Close()
			return err
		}
	}
	return errors.WithStack(zw.Close())
}

// addItem adds a single top level item to the archive. Directories are walked
// without following any symlinks found within them; a symlink given directly
// as an item is archived as whatever it points at.
func (a *Archive) addItem(ctx context.Context, zw *zip.Writer, p string, method uint16, exclude map[string]struct{}) error {
	st, err := os.Stat(p)
	if err != nil {
		return errors.WithStack(err)
	}
	base := filepath.Base(p)
	if !st.IsDir() {
		if !st.Mode().IsRegular() {
			return nil
		}
		return a.addToArchive(p, base, st, method, zw)
	}

	return godirwalk.Walk(p, &godirwalk.Options{
		FollowSymbolicLinks: false,
		Callback: func(sp string, de *godirwalk.Dirent) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			if _, ok := exclude[sp]; ok {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}
			if de.IsSymlink() {
				return nil
			}
			rel, err := filepath.Rel(p, sp)
			if err != nil {
				return errors.WithStack(err)
			}
			name := path.Join(base, filepath.ToSlash(rel))
			st, err := os.Lstat(sp)
			if err != nil {
				return errors.WithStack(err)
			}
			if de.IsDir() {
				return a.addDirectory(name, st, zw)
			}
			if !st.Mode().IsRegular() {
				return nil
			}
			return a.addToArchive(sp, name, st, method, zw)
		},
	})
}

func (a *Archive) addDirectory(name string, st os.FileInfo, zw *zip.Writer) error {
	header, err := zip.FileInfoHeader(st)
	if err != nil {
		return errors.WithStack(err)
	}
	header.Name = name + "/"
	header.Method = zip.Store
	_, err = zw.CreateHeader(header)
	return errors.WithStack(err)
}

// Adds a single file to the existing zip archive.
func (a *Archive) addToArchive(p string, name string, st os.FileInfo, method uint16, zw *zip.Writer) error {
	f, err := os.Open(p)
	if err != nil {
		// The file may have been removed between the walk and now, skip it rather
		// than failing the whole archive.
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return errors.WithStack(err)
	}
	defer f.Close()

	header, err := zip.FileInfoHeader(st)
	if err != nil {
		return errors.WithStack(err)
	}
	header.Name = name
	header.Method = method

	w, err := zw.CreateHeader(header)
	if err != nil {
		return errors.WithStack(err)
	}

	buf := pool.Get().([]byte)
	defer pool.Put(buf)

	if _, err := io.CopyBuffer(w, f, buf); err != nil {
		return errors.WrapIff(err, "failed to copy %s to archive", name)
	}
	return nil
}

// CompressFiles creates a zip archive named "name" inside of the directory
// "dir" holding every one of the given paths. All paths are relative to the
// root directory. An existing file with the same name is overwritten and the
// stat information of the new archive is returned.
func (fs *Filesystem) CompressFiles(paths []string, dir string, name string) (*Stat, error) {
	if name == "" {
		name = DefaultArchiveName
	}
	if !isBaseName(name) {
		return nil, newPathError(ErrCodeInvalidName, name, nil)
	}
	d, err := fs.SafePath(dir)
	if err != nil {
		return nil, err
	}
	if err := fs.requireDirectory(dir, d); err != nil {
		return nil, err
	}
	rel := path.Join(dir, name)
	dst, err := fs.SafeJoin(dir, name, false)
	if err != nil {
		return nil, err
	}
	if st, err := os.Lstat(dst); err == nil && !st.Mode().IsRegular() {
		return nil, newPathError(ErrCodeNotFile, rel, nil)
	}
	cleaned, err := fs.ParallelSafePath(paths)
	if err != nil {
		return nil, err
	}
	for i, p := range cleaned {
		if _, err := os.Stat(p); err != nil {
			return nil, classify(err, paths[i])
		}
	}

	a := &Archive{
		Files:            cleaned,
		CompressionLevel: fs.settings.CompressionLevel,
		WriteLimit:       fs.settings.WriteLimit,
	}
	if err := a.Create(context.Background(), dst); err != nil {
		return nil, classify(err, rel)
	}

	st, err := fs.stat(dst, false)
	if err != nil {
		return nil, classify(err, rel)
	}
	st.Mimetype = "application/zip"
	return st, nil
}
