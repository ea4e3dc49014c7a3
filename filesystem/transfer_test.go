package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/franela/goblin"
	"golang.org/x/sys/unix"
)

func TestFilesystem_Move(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("Move", func() {
		g.It("moves files and folders into the destination", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.MkdirServer("folder/inner")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("folder/inner/file.txt", "nested")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("file.txt", "top")).IsNil()

			n, err := fs.Move([]string{"file.txt", "folder"}, "dest")
			g.Assert(err).IsNil()
			g.Assert(n).Equal(2)

			s, err := rfs.ReadServerFile("dest/file.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("top")

			s, err = rfs.ReadServerFile("dest/folder/inner/file.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("nested")

			_, err = rfs.StatServerFile("file.txt")
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
			_, err = rfs.StatServerFile("folder")
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
		})

		g.It("overwrites an existing item at the destination", func() {
			g.Assert(rfs.MkdirServer("dest/file.txt")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("dest/file.txt/old", "old")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("file.txt", "new")).IsNil()

			_, err := fs.Move([]string{"file.txt"}, "dest")
			g.Assert(err).IsNil()

			s, err := rfs.ReadServerFile("dest/file.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("new")
		})

		g.It("refuses to move a directory into itself", func() {
			g.Assert(rfs.MkdirServer("folder/child")).IsNil()

			_, err := fs.Move([]string{"folder"}, "folder/child")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidDestination)).IsTrue()

			_, err = fs.Move([]string{"folder"}, "folder")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidDestination)).IsTrue()

			st, err := rfs.StatServerFile("folder/child")
			g.Assert(err).IsNil()
			g.Assert(st.IsDir()).IsTrue()
		})

		g.It("does nothing when an item is moved into its own directory", func() {
			g.Assert(rfs.MkdirServer("notes")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("notes/todo.txt", "content")).IsNil()
			g.Assert(rfs.MkdirServer("notes/folder")).IsNil()

			n, err := fs.Move([]string{"notes/todo.txt", "notes/folder"}, "notes")
			g.Assert(err).IsNil()
			g.Assert(n).Equal(2)

			s, err := rfs.ReadServerFile("notes/todo.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("content")

			st, err := rfs.StatServerFile("notes/folder")
			g.Assert(err).IsNil()
			g.Assert(st.IsDir()).IsTrue()
		})

		g.It("refuses to replace a parent of the item being moved", func() {
			g.Assert(rfs.MkdirServer("x/x")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("x/x/keep.txt", "keep")).IsNil()

			n, err := fs.Move([]string{"x/x"}, "")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidDestination)).IsTrue()
			g.Assert(n).Equal(0)

			s, err := rfs.ReadServerFile("x/x/keep.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("keep")
		})

		g.It("copies and deletes when the destination is on another device", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.MkdirServer("folder/inner")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("folder/inner/file.txt", "nested")).IsNil()

			var calls int
			rename = func(oldpath, newpath string) error {
				calls++
				return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: unix.EXDEV}
			}
			defer func() {
				rename = os.Rename
			}()

			n, err := fs.Move([]string{"folder"}, "dest")
			g.Assert(err).IsNil()
			g.Assert(n).Equal(1)
			g.Assert(calls).Equal(1)

			s, err := rfs.ReadServerFile("dest/folder/inner/file.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("nested")

			_, err = rfs.StatServerFile("folder")
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
		})

		g.It("returns rename errors other than a cross device move", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("file.txt", "content")).IsNil()

			rename = func(oldpath, newpath string) error {
				return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: unix.EACCES}
			}
			defer func() {
				rename = os.Rename
			}()

			n, err := fs.Move([]string{"file.txt"}, "dest")
			g.Assert(err).IsNotNil()
			g.Assert(n).Equal(0)

			_, err = rfs.StatServerFile("dest/file.txt")
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
			_, err = rfs.StatServerFile("file.txt")
			g.Assert(err).IsNil()
		})

		g.It("requires the destination to be a directory", func() {
			g.Assert(rfs.CreateServerFileFromString("file.txt", "")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("other.txt", "")).IsNil()

			_, err := fs.Move([]string{"file.txt"}, "other.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeNotDirectory)).IsTrue()

			_, err = fs.Move([]string{"file.txt"}, "missing")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeNotExist)).IsTrue()
		})

		g.It("does not move the root directory", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()

			_, err := fs.Move([]string{"/"}, "dest")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeRootDirectory)).IsTrue()
		})

		g.It("stops at the first missing item", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("a.txt", "")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("c.txt", "")).IsNil()

			n, err := fs.Move([]string{"a.txt", "b.txt", "c.txt"}, "dest")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeNotExist)).IsTrue()
			g.Assert(n).Equal(1)

			_, err = rfs.StatServerFile("c.txt")
			g.Assert(err).IsNil()
		})

		g.It("cannot move items from outside the root", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("/../ext-move.txt", "external")).IsNil()

			_, err := fs.Move([]string{"../ext-move.txt"}, "dest")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.AfterEach(func() {
			rfs.reset()
		})
	})
}

func TestFilesystem_Copy(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("Copy", func() {
		g.It("copies a file keeping its mode and modification time", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("run.sh", "#!/bin/sh")).IsNil()
			p := filepath.Join(rfs.root, "/server/run.sh")
			g.Assert(os.Chmod(p, 0o751)).IsNil()
			mt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
			g.Assert(os.Chtimes(p, mt, mt)).IsNil()

			n, err := fs.Copy([]string{"run.sh"}, "dest")
			g.Assert(err).IsNil()
			g.Assert(n).Equal(1)

			st, err := rfs.StatServerFile("dest/run.sh")
			g.Assert(err).IsNil()
			g.Assert(st.Mode().Perm()).Equal(os.FileMode(0o751))
			g.Assert(st.ModTime().Equal(mt)).IsTrue()

			// The source is left in place.
			_, err = rfs.StatServerFile("run.sh")
			g.Assert(err).IsNil()
		})

		g.It("copies a directory recursively", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.MkdirServer("src/a/empty")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("src/top.txt", "top")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("src/a/deep.txt", "deep")).IsNil()
			g.Assert(os.Chmod(filepath.Join(rfs.root, "/server/src/a"), 0o700)).IsNil()
			g.Assert(os.Symlink("top.txt", filepath.Join(rfs.root, "/server/src/link"))).IsNil()
			mt := time.Date(2019, 6, 7, 8, 9, 10, 0, time.UTC)
			g.Assert(os.Chtimes(filepath.Join(rfs.root, "/server/src/a"), mt, mt)).IsNil()

			_, err := fs.Copy([]string{"src"}, "dest")
			g.Assert(err).IsNil()

			s, err := rfs.ReadServerFile("dest/src/top.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("top")

			s, err = rfs.ReadServerFile("dest/src/a/deep.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("deep")

			st, err := rfs.StatServerFile("dest/src/a/empty")
			g.Assert(err).IsNil()
			g.Assert(st.IsDir()).IsTrue()

			st, err = rfs.StatServerFile("dest/src/a")
			g.Assert(err).IsNil()
			g.Assert(st.Mode().Perm()).Equal(os.FileMode(0o700))
			g.Assert(st.ModTime().Equal(mt)).IsTrue()

			st, err = rfs.StatServerFile("dest/src/link")
			g.Assert(err).IsNil()
			g.Assert(st.Mode()&os.ModeSymlink != 0).IsTrue()
			target, err := os.Readlink(filepath.Join(rfs.root, "/server/dest/src/link"))
			g.Assert(err).IsNil()
			g.Assert(target).Equal("top.txt")
		})

		g.It("overwrites an existing item at the destination", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("dest/file.txt", "old")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("file.txt", "new")).IsNil()

			_, err := fs.Copy([]string{"file.txt"}, "dest")
			g.Assert(err).IsNil()

			s, err := rfs.ReadServerFile("dest/file.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("new")
		})

		g.It("refuses to copy a directory into itself", func() {
			g.Assert(rfs.MkdirServer("folder/child")).IsNil()

			_, err := fs.Copy([]string{"folder"}, "folder/child")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidDestination)).IsTrue()

			_, err = rfs.StatServerFile("folder/child/folder")
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
		})

		g.It("refuses to copy an item onto itself", func() {
			g.Assert(rfs.CreateServerFileFromString("file.txt", "content")).IsNil()

			_, err := fs.Copy([]string{"file.txt"}, "/")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidDestination)).IsTrue()

			s, err := rfs.ReadServerFile("file.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("content")
		})

		g.It("refuses to replace a parent of the item being copied", func() {
			g.Assert(rfs.MkdirServer("y/y")).IsNil()
			g.Assert(rfs.CreateServerFileFromString("y/y/keep.txt", "keep")).IsNil()

			_, err := fs.Copy([]string{"y/y"}, "")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidDestination)).IsTrue()

			s, err := rfs.ReadServerFile("y/y/keep.txt")
			g.Assert(err).IsNil()
			g.Assert(s).Equal("keep")
		})

		g.It("refuses to copy into itself through a symlinked destination", func() {
			g.Assert(rfs.MkdirServer("folder/child")).IsNil()
			g.Assert(os.Symlink("folder/child", filepath.Join(rfs.root, "/server/shortcut"))).IsNil()

			_, err := fs.Copy([]string{"folder"}, "shortcut")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidDestination)).IsTrue()
		})

		g.It("returns an error if the source does not exist", func() {
			g.Assert(rfs.MkdirServer("dest")).IsNil()

			_, err := fs.Copy([]string{"missing.txt"}, "dest")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeNotExist)).IsTrue()
		})

		g.AfterEach(func() {
			rfs.reset()
		})
	})
}
