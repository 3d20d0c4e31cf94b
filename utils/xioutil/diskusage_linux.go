package xioutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// ErrDiskFull is returned once the filesystem is fuller than allowed.
var ErrDiskFull = errors.New("no enough space")

// DiskUsageCheck refuses writes once the filesystem holding fd uses more
// than maxPct percent of its blocks.
func DiskUsageCheck(fd int, maxPct uint) CheckFunc {
	return func([]byte) error {
		var stat unix.Statfs_t
		if err := unix.Fstatfs(fd, &stat); err != nil {
			return err
		}
		if stat.Blocks == 0 {
			return nil
		}
		blocksUsed := stat.Blocks - stat.Bavail // exclude Bfree
		usagePct := uint(float64(blocksUsed) / float64(stat.Blocks) * 100)
		if usagePct > maxPct {
			return ErrDiskFull
		}
		return nil
	}
}
