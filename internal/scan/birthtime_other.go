//go:build !linux && !darwin && !windows

package scan

import (
	"io/fs"
	"time"
)

// BirthTime falls back to the modification time where creation time is not
// exposed.
func BirthTime(path string, info fs.FileInfo) time.Time {
	return info.ModTime().UTC()
}
