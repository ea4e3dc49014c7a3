package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/goccy/go-json"
)

// Stat describes a single directory entry.
type Stat struct {
	os.FileInfo
	Mimetype string
}

func (s Stat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name         string  `json:"name"`
		Type         string  `json:"type"`
		Size         int64   `json:"size"`
		LastModified float64 `json:"last_modified"`
		Permissions  string  `json:"permissions"`
		FileType     string  `json:"file_type_str"`
		Mime         string  `json:"mime"`
	}{
		Name:         s.Name(),
		Type:         s.Kind(),
		Size:         s.Size(),
		LastModified: float64(s.ModTime().Unix()) + float64(s.ModTime().Nanosecond())/1e9,
		Permissions:  s.Permissions(),
		FileType:     s.FileType(),
		Mime:         s.Mimetype,
	})
}

// Kind returns "dir" for directories and "file" for everything else.
func (s *Stat) Kind() string {
	if s.IsDir() {
		return KindDirectory
	}
	return KindFile
}

// Permissions returns the permission bits of the entry as a three digit octal
// string, e.g. "644".
func (s *Stat) Permissions() string {
	return fmt.Sprintf("%03o", uint32(s.Mode().Perm()))
}

// FileType returns a display type for the entry: "Folder" for directories,
// the lowercased extension (".txt") for files that have one, and "File"
// otherwise.
func (s *Stat) FileType() string {
	if s.IsDir() {
		return "Folder"
	}
	if ext := filepath.Ext(s.Name()); ext != "" {
		return strings.ToLower(ext)
	}
	return "File"
}

// Stat stats a file or folder and returns the base stat object from go along
// with the MIME data for it.
func (fs *Filesystem) Stat(p string) (*Stat, error) {
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return nil, err
	}
	st, err := fs.stat(cleaned, true)
	if err != nil {
		return nil, classify(err, p)
	}
	return st, nil
}

func (fs *Filesystem) stat(p string, detect bool) (*Stat, error) {
	s, err := os.Stat(p)
	if err != nil {
		return nil, err
	}
	st := &Stat{FileInfo: s, Mimetype: "inode/directory"}
	if !s.IsDir() {
		st.Mimetype = "application/octet-stream"
		// Don't try to detect the type of a pipe or device, reading from it will
		// just hang.
		if detect && s.Mode().IsRegular() {
			if m, err := mimetype.DetectFile(p); err == nil {
				st.Mimetype = m.String()
			}
		}
	}
	return st, nil
}

// missingInfo stands in for an entry that disappeared between being listed
// and being stat'd.
type missingInfo struct {
	name string
}

func (m missingInfo) Name() string       { return m.name }
func (m missingInfo) Size() int64        { return 0 }
func (m missingInfo) Mode() os.FileMode  { return 0 }
func (m missingInfo) ModTime() time.Time { return time.Time{} }
func (m missingInfo) IsDir() bool        { return false }
func (m missingInfo) Sys() interface{}   { return nil }
