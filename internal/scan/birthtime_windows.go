//go:build windows

package scan

import (
	"io/fs"
	"syscall"
	"time"
)

// BirthTime returns the file's creation time in UTC, falling back to the
// modification time.
func BirthTime(path string, info fs.FileInfo) time.Time {
	attrs, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return info.ModTime().UTC()
	}
	return time.Unix(0, attrs.CreationTime.Nanoseconds()).UTC()
}
