package hostops

import (
	"golang.org/x/sys/unix"
)

// Usage is the space of a filesystem in bytes.
type Usage struct {
	Total uint64
	Used  uint64
	Free  uint64
}

// DiskUsage returns the space of the filesystem holding path. Free counts
// only the blocks available to unprivileged users.
func DiskUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, err
	}

	bsize := uint64(stat.Bsize)
	return Usage{
		Total: stat.Blocks * bsize,
		Used:  (stat.Blocks - stat.Bfree) * bsize,
		Free:  stat.Bavail * bsize,
	}, nil
}
