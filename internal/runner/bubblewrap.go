package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/ongardie/cubicle/internal/archive"
	"github.com/ongardie/cubicle/internal/cubicleerr"
	"golang.org/x/xerrors"
)

// Bubblewrap runs every environment as a plain directory tree on the host,
// isolated at exec time by re-executing the configured sandbox binary
// (conventionally bwrap) with a mount namespace that binds the
// environment's home and work directories into place and hides the rest of
// the host filesystem as read-only. There is no daemon and no separate
// image format: an environment's state IS its home and work directories,
// the same shape distri's own build processes use when they re-exec
// themselves under CLONE_NEWNS|CLONE_NEWUSER (distri's internal/build/build.go).
//
// Home and work paths are resolved by the caller-supplied HomeDir/WorkDir
// functions rather than owned by Bubblewrap itself, so that the ephemeral
// home (short-lived, freely destroyed by reset) and the long-lived work
// directory (preserved across reset, per the state-store layout) are
// whatever the Store says they are — not a separate path scheme the Runner
// invents on its own, which would otherwise disconnect "work survives
// reset" from what actually gets bind-mounted into the sandbox.
type Bubblewrap struct {
	// Binary is the sandbox helper to exec, usually "bwrap" resolved from
	// PATH. Tests may point this at a stub script.
	Binary string
	// HomeDir and WorkDir resolve an environment ID to the host paths
	// bind-mounted into the sandbox as /home/cubicle and
	// /home/cubicle/work respectively.
	HomeDir func(envID string) string
	WorkDir func(envID string) string
	// ListRoot is the parent directory holding one home subdirectory per
	// environment, consulted only by List.
	ListRoot string

	mu sync.Mutex
}

var _ Runner = (*Bubblewrap)(nil)

func NewBubblewrap(binary string, homeDir, workDir func(string) string, listRoot string) *Bubblewrap {
	return &Bubblewrap{Binary: binary, HomeDir: homeDir, WorkDir: workDir, ListRoot: listRoot}
}

func (b *Bubblewrap) Create(ctx context.Context, envID string, seedArchive io.Reader) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, dir := range []string{b.HomeDir(envID), b.WorkDir(envID)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return &cubicleerr.IOError{Path: dir, Detail: "creating sandbox directory", Err: err}
		}
	}
	if seedArchive != nil {
		if err := archive.Unpack(seedArchive, b.HomeDir(envID)); err != nil {
			return &cubicleerr.RunnerError{Kind: string(KindBubblewrap), Detail: "seeding " + envID, Err: err}
		}
	}
	return nil
}

func (b *Bubblewrap) Exists(ctx context.Context, envID string) (bool, error) {
	_, err := os.Stat(b.HomeDir(envID))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, &cubicleerr.IOError{Path: b.HomeDir(envID), Detail: "stat", Err: err}
	}
	return true, nil
}

// Run invokes the sandbox binary with a bind-mount layout exposing only
// home (writable) and work (writable) under conventional paths, plus the
// host's /usr and /etc read-only so dynamic linking and DNS keep working
// (bubblewrap's usual "share everything from the host except what you
// explicitly unshare" default, the inverse of distri's from-scratch
// squashfs roots).
func (b *Bubblewrap) Run(ctx context.Context, envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error) {
	exists, err := b.Exists(ctx, envID)
	if err != nil {
		return ExitStatus{}, err
	}
	if !exists {
		return ExitStatus{}, &cubicleerr.NoSuchEnv{Name: envID}
	}

	args := []string{
		"--die-with-parent",
		"--unshare-pid",
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/etc", "/etc",
		"--symlink", "usr/bin", "/bin",
		"--proc", "/proc",
		"--dev", "/dev",
		"--bind", b.HomeDir(envID), "/home/cubicle",
		"--bind", b.WorkDir(envID), "/home/cubicle/work",
		"--chdir", "/home/cubicle/work",
		"--setenv", "HOME", "/home/cubicle",
	}
	for k, v := range envVars {
		args = append(args, "--setenv", k, v)
	}
	args = append(args, command...)

	cmd := exec.CommandContext(ctx, b.Binary, args...)
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr

	runErr := cmd.Run()
	if runErr == nil {
		return ExitStatus{Code: 0}, nil
	}
	var exitErr *exec.ExitError
	if ok := xerrors.As(runErr, &exitErr); ok {
		return ExitStatus{Code: exitErr.ExitCode()}, nil
	}
	return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindBubblewrap), Detail: fmt.Sprintf("running %v", command), Err: runErr}
}

func (b *Bubblewrap) CopyOut(ctx context.Context, envID string, relativePath string) (io.ReadCloser, error) {
	path := filepath.Join(b.HomeDir(envID), relativePath)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &cubicleerr.MissingArtifact{Name: relativePath}
		}
		return nil, &cubicleerr.IOError{Path: path, Detail: "copying out", Err: err}
	}
	return f, nil
}

// Purge removes only the sandbox's home directory. The work directory
// outlives the sandbox: deleting it is the composer's job (reset preserves
// it; purge deletes it explicitly and separately), not this Runner's.
func (b *Bubblewrap) Purge(ctx context.Context, envID string) error {
	if err := os.RemoveAll(b.HomeDir(envID)); err != nil {
		return &cubicleerr.IOError{Path: b.HomeDir(envID), Detail: "purging", Err: err}
	}
	return nil
}

func (b *Bubblewrap) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(b.ListRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &cubicleerr.IOError{Path: b.ListRoot, Detail: "listing", Err: err}
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && (prefix == "" || len(e.Name()) >= len(prefix) && e.Name()[:len(prefix)] == prefix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}
