package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"

	"github.com/ongardie/cubicle/internal/archive"
	"github.com/ongardie/cubicle/internal/cubicleerr"
	"golang.org/x/xerrors"
)

// UserAccount isolates environments using a dedicated, unprivileged system
// user account per environment rather than any kind of container. Commands
// run as that account via a SysProcAttr.Credential the way
// distri's internal/build/build.go sets Cloneflags on its re-exec's
// SysProcAttr to drop into a fresh namespace; here the isolation unit is a
// uid/gid pair instead of a namespace, and account provisioning goes
// through useradd/userdel since Go's standard library has no portable way
// to create accounts.
//
// This backend genuinely needs root (or suitable capabilities) to run
// useradd/userdel and to set Credential on exec'd processes, and is meant
// for hosts that already run cubicle as a privileged service rather than
// for a developer's own workstation.
type UserAccount struct {
	// GroupPrefix is prepended (with a "-") to every cubicle-managed
	// account name, so stray accounts are easy to audit and reap. Each
	// account gets its own user group from useradd --user-group.
	GroupPrefix string

	mu sync.Mutex
}

var _ Runner = (*UserAccount)(nil)

func NewUserAccount(groupPrefix string) *UserAccount {
	return &UserAccount{GroupPrefix: groupPrefix}
}

func (u *UserAccount) accountName(envID string) string {
	return u.GroupPrefix + "-" + envID
}

func (u *UserAccount) Create(ctx context.Context, envID string, seedArchive io.Reader) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	name := u.accountName(envID)
	if _, err := user.Lookup(name); err == nil {
		return &cubicleerr.EnvAlreadyExists{Name: envID}
	}

	cmd := exec.CommandContext(ctx, "useradd",
		"--create-home",
		"--shell", "/bin/bash",
		"--user-group",
		name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "useradd: " + string(out), Err: err}
	}

	u2, err := user.Lookup(name)
	if err != nil {
		return &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "looking up freshly created account", Err: err}
	}
	home := u2.HomeDir
	if err := os.MkdirAll(filepath.Join(home, "work"), 0755); err != nil {
		return &cubicleerr.IOError{Path: home, Detail: "creating work directory", Err: err}
	}
	if seedArchive != nil {
		if err := archive.Unpack(seedArchive, home); err != nil {
			return &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "seeding " + envID, Err: err}
		}
	}
	if err := chownTree(home, u2); err != nil {
		return err
	}
	return nil
}

func (u *UserAccount) Exists(ctx context.Context, envID string) (bool, error) {
	_, err := user.Lookup(u.accountName(envID))
	if err != nil {
		if _, ok := err.(user.UnknownUserError); ok {
			return false, nil
		}
		return false, &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "looking up " + envID, Err: err}
	}
	return true, nil
}

func (u *UserAccount) Run(ctx context.Context, envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error) {
	acct, err := user.Lookup(u.accountName(envID))
	if err != nil {
		if _, ok := err.(user.UnknownUserError); ok {
			return ExitStatus{}, &cubicleerr.NoSuchEnv{Name: envID}
		}
		return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "looking up " + envID, Err: err}
	}
	uid, err := strconv.Atoi(acct.Uid)
	if err != nil {
		return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "parsing uid", Err: err}
	}
	gid, err := strconv.Atoi(acct.Gid)
	if err != nil {
		return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "parsing gid", Err: err}
	}

	if len(command) == 0 {
		return ExitStatus{}, xerrors.New("empty command")
	}
	cmd := exec.CommandContext(ctx, command[0], command[1:]...)
	cmd.Dir = filepath.Join(acct.HomeDir, "work")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Credential: &syscall.Credential{Uid: uint32(uid), Gid: uint32(gid)},
	}
	env := []string{"HOME=" + acct.HomeDir, "USER=" + acct.Username, "PATH=/usr/bin:/bin"}
	for k, v := range envVars {
		env = append(env, k+"="+v)
	}
	cmd.Env = env
	cmd.Stdin = stdio.Stdin
	cmd.Stdout = stdio.Stdout
	cmd.Stderr = stdio.Stderr

	runErr := cmd.Run()
	if runErr == nil {
		return ExitStatus{Code: 0}, nil
	}
	var exitErr *exec.ExitError
	if xerrors.As(runErr, &exitErr) {
		return ExitStatus{Code: exitErr.ExitCode()}, nil
	}
	return ExitStatus{}, &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: fmt.Sprintf("running %v", command), Err: runErr}
}

func (u *UserAccount) CopyOut(ctx context.Context, envID string, relativePath string) (io.ReadCloser, error) {
	acct, err := user.Lookup(u.accountName(envID))
	if err != nil {
		return nil, &cubicleerr.NoSuchEnv{Name: envID}
	}
	path := filepath.Join(acct.HomeDir, relativePath)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &cubicleerr.MissingArtifact{Name: relativePath}
		}
		return nil, &cubicleerr.IOError{Path: path, Detail: "copying out", Err: err}
	}
	return f, nil
}

func (u *UserAccount) Purge(ctx context.Context, envID string) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	name := u.accountName(envID)
	if _, err := user.Lookup(name); err != nil {
		if _, ok := err.(user.UnknownUserError); ok {
			return nil // already gone: idempotent
		}
		return &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "looking up " + envID, Err: err}
	}
	cmd := exec.CommandContext(ctx, "userdel", "--remove", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return &cubicleerr.RunnerError{Kind: string(KindUserAccount), Detail: "userdel: " + string(out), Err: err}
	}
	return nil
}

func (u *UserAccount) List(ctx context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir("/home")
	if err != nil {
		return nil, &cubicleerr.IOError{Path: "/home", Detail: "listing", Err: err}
	}
	acctPrefix := u.GroupPrefix + "-"
	want := acctPrefix + prefix
	var names []string
	for _, e := range entries {
		name := e.Name()
		if len(name) >= len(want) && name[:len(want)] == want {
			names = append(names, name[len(acctPrefix):])
		}
	}
	return names, nil
}

func chownTree(root string, acct *user.User) error {
	uid, err := strconv.Atoi(acct.Uid)
	if err != nil {
		return err
	}
	gid, err := strconv.Atoi(acct.Gid)
	if err != nil {
		return err
	}
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		return os.Lchown(path, uid, gid)
	})
}
