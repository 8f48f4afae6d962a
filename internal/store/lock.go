package store

import (
	"os"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Unlock releases a lock acquired by lockPath.
type Unlock func() error

// lockPath takes an advisory exclusive lock on a ".lock" file alongside
// dir, creating dir and the lock file if necessary. This is the mechanism
// behind the at-most-one-concurrent-build invariant (one lock per package
// cache directory) and the per-environment composition/purge lock (one per
// environment directory).
func lockPath(dir string) (Unlock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, xerrors.Errorf("creating %s: %w", dir, err)
	}
	lockFile := dir + ".lock"
	f, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, xerrors.Errorf("opening lock %s: %w", lockFile, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, xerrors.Errorf("locking %s: %w", lockFile, err)
	}
	return func() error {
		defer f.Close()
		return unix.Flock(int(f.Fd()), unix.LOCK_UN)
	}, nil
}
