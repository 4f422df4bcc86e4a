//go:build !windows

package identity

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockShared takes a shared advisory lock on f for the duration of a
// passwd.md5 read, so a concurrent rewrite of the file (e.g. lppasswd)
// cannot be observed mid-write. The returned func releases the lock.
func lockShared(f *os.File) func() {
	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return func() {}
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}
}
