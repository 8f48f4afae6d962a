// Package runner defines the Runner capability the core depends on to
// create/destroy sandboxes, inject seed archives, run commands inside them,
// and capture output archives, plus the three concrete backends: a
// shared-root lightweight container (bubblewrap), a full OCI-style
// container (Docker-compatible engine), and system-user-account isolation.
//
// The core holds exactly one Runner for the process lifetime (selected via
// config.RunnerKind) and never switches backends at runtime; concrete
// backends are otherwise outside the scope this module's tests exercise in
// depth (see fakerunner.go, used by internal/build and internal/compose
// tests instead of a real sandbox).
package runner

import (
	"context"
	"io"
)

// Stdio carries the three standard streams a command run inside a sandbox
// should be connected to. Any of them may be nil, meaning "discard"
// (Stdout/Stderr) or "no input" (Stdin).
type Stdio struct {
	Stdin          io.Reader
	Stdout, Stderr io.Writer
}

// ExitStatus is the result of running a command inside a sandbox.
type ExitStatus struct {
	Code int
}

func (e ExitStatus) Success() bool { return e.Code == 0 }

// Runner is the abstract sandbox capability the core depends on. It never
// assumes a particular isolation strength, and Purge must be idempotent
// (purging an already-purged or never-created sandbox is not an error).
type Runner interface {
	// Create makes a new, empty sandbox identified by envID, with both its
	// home and work directories present. If seedArchive is non-nil, its
	// contents are unpacked into home before any user script runs.
	Create(ctx context.Context, envID string, seedArchive io.Reader) error

	// Exists reports whether a sandbox with this ID currently exists.
	Exists(ctx context.Context, envID string) (bool, error)

	// Run executes command inside the sandbox, with work visible at a
	// conventional path and home as the sandbox's home directory. envVars
	// are injected in addition to whatever baseline environment the
	// backend provides.
	Run(ctx context.Context, envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error)

	// CopyOut reads a file produced inside the sandbox by relative path
	// from home (e.g. "provides.tar").
	CopyOut(ctx context.Context, envID string, relativePath string) (io.ReadCloser, error)

	// Purge destroys the sandbox and any storage the runner owns for it.
	// Purging a nonexistent sandbox is not an error.
	Purge(ctx context.Context, envID string) error

	// List returns every sandbox ID with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// Kind is the short tag a backend reports in RunnerError for diagnostics.
type Kind string

const (
	KindBubblewrap  Kind = "bubblewrap"
	KindOCI         Kind = "oci"
	KindUserAccount Kind = "user"
)
