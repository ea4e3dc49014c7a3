package filesystem

import (
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/gammazero/workerpool"
	"github.com/karrick/godirwalk"
)

// TreeNode is a single directory within the directory tree. Files are never
// part of the tree.
type TreeNode struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Children []*TreeNode `json:"children"`
}

// ListDirectory lists the contents of a given directory and returns stat
// information about each file and folder within it. Directories are listed
// first, and entries are otherwise sorted by name.
func (fs *Filesystem) ListDirectory(p string) ([]Stat, error) {
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return nil, err
	}
	if err := fs.requireDirectory(p, cleaned); err != nil {
		return nil, err
	}

	files, err := os.ReadDir(cleaned)
	if err != nil {
		return nil, classify(err, p)
	}

	// You must initialize the output of this directory as a non-nil value otherwise
	// when it is marshaled into a JSON object you'll just get 'null' back.
	out := make([]Stat, len(files))

	// Detecting the mimetype means reading the start of every file, so spread
	// the work out over a limited number of workers.
	wp := workerpool.New(fs.settings.ListingWorkers)
	for i, f := range files {
		i, f := i, f
		wp.Submit(func() {
			out[i] = fs.statEntry(cleaned, f)
		})
	}
	wp.StopWait()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].IsDir() != out[j].IsDir() {
			return out[i].IsDir()
		}
		return out[i].Name() < out[j].Name()
	})

	return out, nil
}

// statEntry stats a single directory entry. Symlinks are followed when they
// point somewhere within the root, otherwise (or when they are dangling) the
// link itself is described.
func (fs *Filesystem) statEntry(dir string, e os.DirEntry) Stat {
	p := filepath.Join(dir, e.Name())
	if e.Type()&os.ModeSymlink != 0 {
		if ep, err := filepath.EvalSymlinks(p); err != nil || !fs.unsafeIsInDataDirectory(ep) {
			return fs.lstatEntry(e)
		}
	}
	st, err := fs.stat(p, true)
	if err != nil {
		return fs.lstatEntry(e)
	}
	return *st
}

func (fs *Filesystem) lstatEntry(e os.DirEntry) Stat {
	info, err := e.Info()
	if err != nil {
		fs.error(err).WithField("name", e.Name()).Debug("failed to stat directory entry")
		info = missingInfo{name: e.Name()}
	}
	return Stat{FileInfo: info, Mimetype: "application/octet-stream"}
}

// Tree returns the directory structure beneath the given path. When the path
// is the root directory the returned node is named "Root" with an empty path.
//
// Directory symlinks are followed as long as they point within the root. To
// stop a symlink loop from recursing forever, a directory is never descended
// into while it is already one of its own ancestors in the walk, and descent
// stops entirely once the configured maximum depth is reached.
func (fs *Filesystem) Tree(p string) (*TreeNode, error) {
	cleaned, err := fs.SafePath(p)
	if err != nil {
		return nil, err
	}
	if err := fs.requireDirectory(p, cleaned); err != nil {
		return nil, err
	}
	rel := fs.relative(cleaned)
	node := &TreeNode{Name: "Root", Path: rel, Children: []*TreeNode{}}
	if rel != "" {
		node.Name = path.Base(rel)
	}
	visited := make(map[fileID]struct{})
	if id, err := identify(cleaned); err == nil {
		visited[id] = struct{}{}
	}
	if err := fs.walkTree(cleaned, node, visited, 1); err != nil {
		return nil, classify(err, p)
	}
	return node, nil
}

func (fs *Filesystem) walkTree(dir string, node *TreeNode, visited map[fileID]struct{}, depth int) error {
	if depth > fs.settings.TreeDepth {
		return nil
	}
	dirents, err := godirwalk.ReadDirents(dir, nil)
	if err != nil {
		return err
	}
	sort.Sort(dirents)
	for _, de := range dirents {
		child := filepath.Join(dir, de.Name())
		if de.IsSymlink() {
			ok, err := de.IsDirOrSymlinkToDir()
			if err != nil || !ok {
				continue
			}
			ep, err := filepath.EvalSymlinks(child)
			if err != nil || !fs.unsafeIsInDataDirectory(ep) {
				continue
			}
		} else if !de.IsDir() {
			continue
		}
		id, err := identify(child)
		if err != nil {
			continue
		}
		if _, ok := visited[id]; ok {
			continue
		}
		visited[id] = struct{}{}
		n := &TreeNode{Name: de.Name(), Path: path.Join(node.Path, de.Name()), Children: []*TreeNode{}}
		err = fs.walkTree(child, n, visited, depth+1)
		delete(visited, id)
		if err != nil {
			return err
		}
		node.Children = append(node.Children, n)
	}
	return nil
}
