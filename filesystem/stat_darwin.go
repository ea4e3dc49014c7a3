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
		return time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec)
	}
	return time.Time{}
}
