// Package cubicleerr defines the closed enumeration of error kinds the core
// can return, per the error handling design: every failure mode the core
// recognizes has a distinct type here, and nothing else is recovered by
// silent retry.
package cubicleerr

import (
	"fmt"
	"strings"
)

// NoSuchPackage is returned when the resolver cannot find a definition for a
// requested reference.
type NoSuchPackage struct {
	Ref string
}

func (e *NoSuchPackage) Error() string {
	return fmt.Sprintf("no such package: %s", e.Ref)
}

// CyclicDependency is returned when the dependency graph contains a cycle.
// Cycle lists every package name on the cycle, in traversal order.
type CyclicDependency struct {
	Cycle []string
}

func (e *CyclicDependency) Error() string {
	return fmt.Sprintf("cyclic dependency: %s", strings.Join(e.Cycle, " -> "))
}

// ShadowedAmbiguity signals an internal consistency violation: the index
// produced two candidates for one name that neither shadowing rule picked
// between. This should never occur given a correctly built index.
type ShadowedAmbiguity struct {
	Name string
}

func (e *ShadowedAmbiguity) Error() string {
	return fmt.Sprintf("internal error: ambiguous shadowing for package %s", e.Name)
}

// BuildFailed is returned when a package's build script exits non-zero.
type BuildFailed struct {
	Name     string
	ExitCode int
}

func (e *BuildFailed) Error() string {
	return fmt.Sprintf("build of %s failed (exit code %d)", e.Name, e.ExitCode)
}

// MissingArtifact is returned when a build script exits zero but does not
// leave a provides.tar behind.
type MissingArtifact struct {
	Name string
}

func (e *MissingArtifact) Error() string {
	return fmt.Sprintf("build of %s succeeded but left no provides.tar", e.Name)
}

// TestFailed is returned when a package's test script fails. The provides
// archive built just before the test run remains cached.
type TestFailed struct {
	Name     string
	ExitCode int
}

func (e *TestFailed) Error() string {
	return fmt.Sprintf("tests for %s failed (exit code %d)", e.Name, e.ExitCode)
}

// EnvAlreadyExists is returned by new() when the requested name is taken.
type EnvAlreadyExists struct {
	Name string
}

func (e *EnvAlreadyExists) Error() string {
	return fmt.Sprintf("environment %s already exists", e.Name)
}

// NoSuchEnv is returned by reset()/enter()/exec() for an unknown
// environment name; purge() of an unknown name succeeds instead.
type NoSuchEnv struct {
	Name string
}

func (e *NoSuchEnv) Error() string {
	return fmt.Sprintf("no such environment: %s", e.Name)
}

// EnvBusy is returned by purge() when the target environment is RUNNING.
type EnvBusy struct {
	Name string
}

func (e *EnvBusy) Error() string {
	return fmt.Sprintf("environment %s is running; stop it before purging", e.Name)
}

// RunnerError wraps an opaque failure surfaced by the Runner backend. Kind
// is the backend's own short tag (e.g. "bubblewrap", "oci", "user"),
// Detail is the backend-specific message.
type RunnerError struct {
	Kind   string
	Detail string
	Err    error
}

func (e *RunnerError) Error() string {
	return fmt.Sprintf("runner (%s): %s", e.Kind, e.Detail)
}

func (e *RunnerError) Unwrap() error { return e.Err }

// IOError wraps a state-store or archive failure that doesn't already carry
// enough context as a plain *os.PathError.
type IOError struct {
	Path   string
	Detail string
	Err    error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Detail)
}

func (e *IOError) Unwrap() error { return e.Err }
