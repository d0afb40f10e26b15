//go:build linux

package scan

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// BirthTime returns the creation time of path in UTC. Linux only exposes it
// through statx, and not every filesystem records it; the modification time
// from info is used when it is unavailable.
func BirthTime(path string, info fs.FileInfo) time.Time {
	var stx unix.Statx_t
	err := unix.Statx(unix.AT_FDCWD, path, unix.AT_SYMLINK_NOFOLLOW, unix.STATX_BTIME, &stx)
	if err != nil || stx.Mask&unix.STATX_BTIME == 0 {
		return info.ModTime().UTC()
	}
	return time.Unix(stx.Btime.Sec, int64(stx.Btime.Nsec)).UTC()
}
