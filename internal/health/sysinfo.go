package health

import (
	"fmt"
	"syscall"
)

// minFileDescriptors is the soft-limit floor below which indexing
// large trees starts failing on open().
const minFileDescriptors = 1024

func freeBytes(dir string) (uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(dir, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

func (c *Checker) checkFileDescriptors() Check {
	var lim syscall.Rlimit
	if err := syscall.Getrlimit(syscall.RLIMIT_NOFILE, &lim); err != nil {
		return Check{Name: "file_descriptors", Status: StatusDegraded, Detail: err.Error()}
	}
	if lim.Cur < minFileDescriptors {
		return Check{
			Name:   "file_descriptors",
			Status: StatusDegraded,
			Detail: fmt.Sprintf("soft limit %d, want at least %d (ulimit -n)", lim.Cur, minFileDescriptors),
		}
	}
	return Check{Name: "file_descriptors", Status: StatusOK, Detail: fmt.Sprintf("limit %d", lim.Cur)}
}
