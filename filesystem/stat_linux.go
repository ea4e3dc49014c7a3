package filesystem

import (
	"syscall"
	"time"
)

// ATime returns the last access time of the file or folder.
func (s *Stat) ATime() time.Time {
	return accessTime(s.FileInfo.Sys())
}

func accessTime(sys interface{}) time.Time {
	if st, ok := sys.(*syscall.Stat_t); ok {
		// Do not remove these "redundant" type-casts, they are required for 32-bit builds to work.
		return time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
	}
	return time.Time{}
}
