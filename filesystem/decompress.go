package filesystem

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
	"github.com/klauspost/compress/zip"
	"github.com/mholt/archiver/v4"
)

// ExtractFile extracts the zip archive at the given path into a directory next
// to it named after the archive without its extension, "files/backup.zip"
// ends up in "files/backup". The directory is created when it does not exist
// and the base name of it is returned.
//
// The archive is identified by its contents rather than its name. Every entry
// is checked to ensure that it lands within the extraction directory, an entry
// that would escape it (a zip-slip attack) stops the extraction. Symlink
// entries are skipped. Cancelling the context stops the extraction before the
// next entry is written.
func (fs *Filesystem) ExtractFile(ctx context.Context, p string) (string, error) {
	source, err := fs.SafePath(p)
	if err != nil {
		return "", err
	}
	// Ensure that the archive actually exists on the system.
	st, err := os.Stat(source)
	if err != nil {
		return "", classify(err, p)
	}
	if !st.Mode().IsRegular() {
		return "", newPathError(ErrCodeNotFile, p, nil)
	}

	f, err := os.Open(source)
	if err != nil {
		return "", classify(err, p)
	}
	defer f.Close()

	if err := identifyZip(f, st.Size()); err != nil {
		return "", newPathError(ErrCodeNotZip, p, err)
	}

	ext := filepath.Ext(source)
	if ext == "" || ext == filepath.Base(source) {
		// Stripping the extension would leave the archive itself, or nothing.
		return "", newPathError(ErrCodeInvalidDestination, p, nil)
	}
	dir := strings.TrimSuffix(source, ext)
	if _, err := fs.SafePath(fs.relative(dir)); err != nil {
		return "", err
	}
	if st, err := os.Stat(dir); err == nil && !st.IsDir() {
		return "", newPathError(ErrCodeNotDirectory, fs.relative(dir), nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", classify(err, fs.relative(dir))
	}

	err = archiver.Zip{}.Extract(ctx, f, nil, func(ctx context.Context, af archiver.File) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return fs.extractEntry(dir, af)
	})
	if err != nil {
		return "", classify(err, p)
	}
	return filepath.Base(dir), nil
}

// identifyZip returns an error unless r holds a readable zip central
// directory. Only the contents are considered, never the file name, and an
// archive without any entries is still a valid one.
func identifyZip(r io.ReaderAt, size int64) error {
	_, err := zip.NewReader(r, size)
	return errors.WithStack(err)
}

func (fs *Filesystem) extractEntry(dir string, af archiver.File) error {
	name := ExtractNameFromArchive(af)
	p := filepath.Join(dir, filepath.FromSlash(name))
	if !isWithin(dir, p) {
		return NewBadPathResolution(name, p)
	}
	// A directory in the extraction path may be a symlink created before we got
	// here, so resolve the final location against the root as well.
	if _, err := fs.SafePath(fs.relative(p)); err != nil {
		return err
	}
	if af.IsDir() {
		return errors.WithStack(os.MkdirAll(p, 0o755))
	}
	if af.LinkTarget != "" || af.Mode()&os.ModeSymlink != 0 {
		return nil
	}
	if p == dir {
		return NewBadPathResolution(name, p)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return errors.WithStack(err)
	}
	r, err := af.Open()
	if err != nil {
		return errors.WithStack(err)
	}
	defer r.Close()
	mode := af.Mode().Perm()
	if mode == 0 {
		mode = 0o644
	}
	if err := replaceFile(p, r, mode); err != nil {
		return err
	}
	// Update the file modification time to the one set in the archive.
	return errors.WithStack(os.Chtimes(p, af.ModTime(), af.ModTime()))
}

// ExtractNameFromArchive returns the full path of an entry within the archive.
// The name of the embedded FileInfo is only the base name, so the path stored
// in the archive or its header is preferred.
func ExtractNameFromArchive(f archiver.File) string {
	if f.NameInArchive != "" {
		return f.NameInArchive
	}
	switch h := f.Header.(type) {
	case zip.FileHeader:
		return h.Name
	case *zip.FileHeader:
		return h.Name
	}
	return f.Name()
}
