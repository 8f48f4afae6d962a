package compose

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ongardie/cubicle/internal/archive"
	"github.com/ongardie/cubicle/internal/build"
	"github.com/ongardie/cubicle/internal/cubicleerr"
	"github.com/ongardie/cubicle/internal/oracle"
	"github.com/ongardie/cubicle/internal/pkgindex"
	"github.com/ongardie/cubicle/internal/runner"
	"github.com/ongardie/cubicle/internal/store"
)

func writePackage(t *testing.T, root, name string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "build.sh"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
}

// fakeRunnerProducingArtifacts returns a Fake whose build.sh invocations
// deposit a provides.tar containing one marker file, and whose other
// invocations (composer init sequence) are treated as no-op successes.
func fakeRunnerProducingArtifacts() *runner.Fake {
	fr := runner.NewFake()
	fr.OnRun = func(envID string, command []string, envVars map[string]string, stdio runner.Stdio) (runner.ExitStatus, error) {
		joined := strings.Join(command, " ")
		if !strings.Contains(joined, "build.sh") {
			return runner.ExitStatus{Code: 0}, nil
		}
		dir, err := os.MkdirTemp("", "fake-provides-")
		if err != nil {
			return runner.ExitStatus{}, err
		}
		defer os.RemoveAll(dir)
		if err := os.MkdirAll(filepath.Join(dir, "bin"), 0755); err != nil {
			return runner.ExitStatus{}, err
		}
		if err := os.WriteFile(filepath.Join(dir, "bin", "tool"), []byte("tool"), 0755); err != nil {
			return runner.ExitStatus{}, err
		}
		var buf bytes.Buffer
		if err := archive.Pack(&buf, dir); err != nil {
			return runner.ExitStatus{}, err
		}
		fr.PutFile(envID, "provides.tar", buf.Bytes())
		return runner.ExitStatus{Code: 0}, nil
	}
	return fr
}

func newTestComposer(t *testing.T) (*Composer, *store.Store) {
	t.Helper()
	root := t.TempDir()
	writePackage(t, root, "hello")
	idx, err := pkgindex.Load([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	s := store.New(t.TempDir(), t.TempDir())
	fr := fakeRunnerProducingArtifacts()
	b := build.New(s, idx, fr, oracle.Never)
	c := New(s, idx, fr, b)
	return c, s
}

func TestNewEnvThenAlreadyExists(t *testing.T) {
	c, _ := newTestComposer(t)
	ctx := context.Background()
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}
	err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{})
	var exists *cubicleerr.EnvAlreadyExists
	if !errors.As(err, &exists) {
		t.Fatalf("got %v, want EnvAlreadyExists", err)
	}
}

func TestResetMissingEnvIsNoSuchEnv(t *testing.T) {
	c, _ := newTestComposer(t)
	err := c.ResetEnv(context.Background(), "never-created", nil, build.Options{})
	var nse *cubicleerr.NoSuchEnv
	if !errors.As(err, &nse) {
		t.Fatalf("got %v, want NoSuchEnv", err)
	}
}

// TestResetPreservesWork verifies that a file written under the work
// directory survives a home recomposition byte-for-byte.
func TestResetPreservesWork(t *testing.T) {
	c, s := newTestComposer(t)
	ctx := context.Background()
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}

	marker := filepath.Join(s.WorkDir("e1"), "scratch.txt")
	if err := os.WriteFile(marker, []byte("work in progress"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := c.ResetEnv(ctx, "e1", nil, build.Options{}); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(marker)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "work in progress" {
		t.Errorf("work file mutated across reset: got %q", got)
	}
}

// TestPackagesTxtIsAuthoritativeOnReset verifies that a reset without
// --packages reuses the previously written packages.txt.
func TestPackagesTxtIsAuthoritativeOnReset(t *testing.T) {
	c, s := newTestComposer(t)
	ctx := context.Background()
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}

	if err := c.ResetEnv(ctx, "e1", nil, build.Options{}); err != nil {
		t.Fatal(err)
	}

	refs, err := s.ReadPackagesTxt("e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "hello" {
		t.Errorf("got %v, want [hello]", refs)
	}
}

func TestResetOverwritesPackagesTxtWhenRefsGiven(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "hello")
	writePackage(t, root, "world")
	idx, err := pkgindex.Load([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	s := store.New(t.TempDir(), t.TempDir())
	fr := fakeRunnerProducingArtifacts()
	b := build.New(s, idx, fr, oracle.Never)
	c := New(s, idx, fr, b)

	ctx := context.Background()
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := c.ResetEnv(ctx, "e1", []string{"world"}, build.Options{}); err != nil {
		t.Fatal(err)
	}
	refs, err := s.ReadPackagesTxt("e1")
	if err != nil {
		t.Fatal(err)
	}
	if len(refs) != 1 || refs[0] != "world" {
		t.Errorf("got %v, want [world]", refs)
	}
}

func TestPurgeIsIdempotent(t *testing.T) {
	c, _ := newTestComposer(t)
	ctx := context.Background()
	if err := c.PurgeEnv(ctx, "never-created"); err != nil {
		t.Fatalf("purging nonexistent env should not error: %v", err)
	}
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := c.PurgeEnv(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if err := c.PurgeEnv(ctx, "e1"); err != nil {
		t.Fatalf("second purge should still be idempotent: %v", err)
	}
	if c.Store.EnvExists("e1") {
		t.Error("work directory should be gone after purge")
	}
}

func TestPurgeRefusesRunningEnv(t *testing.T) {
	c, s := newTestComposer(t)
	ctx := context.Background()
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}

	guard, err := AcquireRunning(s, "e1")
	if err != nil {
		t.Fatal(err)
	}
	defer guard.Release()

	err = c.PurgeEnv(ctx, "e1")
	var busy *cubicleerr.EnvBusy
	if !errors.As(err, &busy) {
		t.Fatalf("got %v, want EnvBusy", err)
	}
}

func TestAcquireRunningTwiceIsEnvBusy(t *testing.T) {
	c, s := newTestComposer(t)
	ctx := context.Background()
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}

	guard, err := AcquireRunning(s, "e1")
	if err != nil {
		t.Fatal(err)
	}
	defer guard.Release()

	_, err = AcquireRunning(s, "e1")
	var busy *cubicleerr.EnvBusy
	if !errors.As(err, &busy) {
		t.Fatalf("got %v, want EnvBusy", err)
	}
}

func TestTmpEnvAllocatesUniqueName(t *testing.T) {
	c, _ := newTestComposer(t)
	ctx := context.Background()
	name, err := c.TmpEnv(ctx, []string{"hello"}, build.Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(name, "tmp-") {
		t.Errorf("got name %q, want tmp-<random> prefix", name)
	}
	if !c.Store.EnvExists(name) {
		t.Error("tmp environment was not actually created")
	}
}

func TestNewEnvSeedsHomeFromProvidesArtifact(t *testing.T) {
	c, _ := newTestComposer(t)
	fr := c.Runner.(*runner.Fake)
	ctx := context.Background()
	if err := c.NewEnv(ctx, "e1", []string{"hello"}, build.Options{}); err != nil {
		t.Fatal(err)
	}

	rc, err := fr.CopyOut(ctx, "e1", "_seed")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()

	dest := t.TempDir()
	if err := archive.Unpack(rc, dest); err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(filepath.Join(dest, "bin", "tool"))
	if err != nil {
		t.Fatalf("home seed missing hello's provides.tar contents: %v", err)
	}
	if string(got) != "tool" {
		t.Errorf("got %q, want %q", got, "tool")
	}
}
