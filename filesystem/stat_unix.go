//go:build unix

package filesystem

import (
	"golang.org/x/sys/unix"
)

// fileID identifies a directory on the host regardless of the path used to
// reach it.
type fileID struct {
	dev uint64
	ino uint64
}

func identify(p string) (fileID, error) {
	var st unix.Stat_t
	if err := unix.Stat(p, &st); err != nil {
		return fileID{}, err
	}
	// Do not remove these "redundant" type-casts, Dev and Ino differ in size
	// between platforms.
	return fileID{dev: uint64(st.Dev), ino: uint64(st.Ino)}, nil
}
