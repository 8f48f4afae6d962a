package compose

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/cubicleerr"
	"github.com/ongardie/cubicle/internal/store"
)

// RunningGuard marks one environment RUNNING for the lifetime of an
// enter/exec invocation, so a concurrent purge can detect it and refuse
// (EnvBusy) instead of deleting a sandbox a shell is attached to. It is a
// separate, non-blocking advisory lock from Store's LockEnv (which
// serializes composition/purge against each other, not against a running
// shell).
type RunningGuard struct {
	f *os.File
}

func runningLockPath(s *store.Store, env string) string {
	return filepath.Join(s.WorkDir(env), ".running")
}

// AcquireRunning takes the RUNNING marker for env. It fails immediately
// (rather than blocking) if another invocation already holds it, since two
// concurrent shells attached to one environment is not a state this
// composer models.
func AcquireRunning(s *store.Store, env string) (*RunningGuard, error) {
	path := runningLockPath(s, env)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, xerrors.Errorf("marking %s running: %w", env, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, &cubicleerr.EnvBusy{Name: env}
	}
	return &RunningGuard{f: f}, nil
}

// Release clears the RUNNING marker.
func (g *RunningGuard) Release() error {
	if err := unix.Flock(int(g.f.Fd()), unix.LOCK_UN); err != nil {
		g.f.Close()
		return err
	}
	return g.f.Close()
}

// isHeld reports whether path is currently flock'd by another process,
// without blocking and without disturbing an existing lock.
func isHeld(path string) (bool, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return false, xerrors.Errorf("checking running state at %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return true, nil
	}
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return false, nil
}
