//go:build darwin

package scan

import (
	"io/fs"
	"syscall"
	"time"
)

// BirthTime returns the creation time recorded by the filesystem in UTC,
// falling back to the modification time.
func BirthTime(path string, info fs.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime().UTC()
	}
	return time.Unix(stat.Birthtimespec.Sec, stat.Birthtimespec.Nsec).UTC()
}
