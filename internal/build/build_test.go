package build

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ongardie/cubicle/internal/archive"
	"github.com/ongardie/cubicle/internal/cubicleerr"
	"github.com/ongardie/cubicle/internal/oracle"
	"github.com/ongardie/cubicle/internal/pkgindex"
	"github.com/ongardie/cubicle/internal/resolve"
	"github.com/ongardie/cubicle/internal/runner"
	"github.com/ongardie/cubicle/internal/store"
)

// writePackage creates a minimal on-disk package directory with an
// executable build.sh (and, optionally, test.sh), the shape pkgindex.Load
// expects to find under a root.
func writePackage(t *testing.T, root, name, manifestTOML string, buildOK, withTest bool) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if manifestTOML != "" {
		if err := os.WriteFile(filepath.Join(dir, "package.toml"), []byte(manifestTOML), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "build.sh"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}
	_ = buildOK
	if withTest {
		if err := os.WriteFile(filepath.Join(dir, "test.sh"), []byte("#!/bin/sh\n"), 0755); err != nil {
			t.Fatal(err)
		}
	}
}

func loadIndex(t *testing.T, root string) *pkgindex.Index {
	t.Helper()
	idx, err := pkgindex.Load([]string{root})
	if err != nil {
		t.Fatal(err)
	}
	return idx
}

func newTestBuilder(t *testing.T, idx *pkgindex.Index) (*Builder, *runner.Fake, *store.Store) {
	t.Helper()
	s := store.New(t.TempDir(), t.TempDir())
	fr := runner.NewFake()
	b := New(s, idx, fr, oracle.Never)
	return b, fr, s
}

// fakeProvidesOnBuild arranges for the fake runner to deposit a provides.tar
// at envID's home after every Run call, mimicking a build.sh that actually
// produces output, regardless of which package is building.
func fakeProvidesOnBuild(fr *runner.Fake, contents map[string]string) {
	fr.OnRun = func(envID string, command []string, envVars map[string]string, stdio runner.Stdio) (runner.ExitStatus, error) {
		dir, err := os.MkdirTemp("", "fake-provides-")
		if err != nil {
			return runner.ExitStatus{}, err
		}
		defer os.RemoveAll(dir)
		for rel, body := range contents {
			p := filepath.Join(dir, rel)
			os.MkdirAll(filepath.Dir(p), 0755)
			os.WriteFile(p, []byte(body), 0644)
		}
		var buf bytes.Buffer
		if err := archive.Pack(&buf, dir); err != nil {
			return runner.ExitStatus{}, err
		}
		fr.PutFile(envID, "provides.tar", buf.Bytes())
		return runner.ExitStatus{Code: 0}, nil
	}
}

func TestBuildSuccessCachesArtifactAndMeta(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "hello", "", true, false)
	idx := loadIndex(t, root)
	b, fr, s := newTestBuilder(t, idx)
	fakeProvidesOnBuild(fr, map[string]string{"bin/hello": "#!/bin/sh\necho hi\n"})

	plan, err := resolve.Resolve(idx, []string{"hello"}, resolve.Builder)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Build(context.Background(), "hello", plan, Options{}); err != nil {
		t.Fatal(err)
	}

	meta, err := s.ReadArtifactMeta("hello")
	if err != nil {
		t.Fatal(err)
	}
	if meta.BuiltAt.IsZero() {
		t.Error("expected BuiltAt to be recorded")
	}
	if meta.SourceHash == "" {
		t.Error("expected SourceHash to be recorded")
	}
	if _, err := os.Stat(s.ProvidesPath("hello")); err != nil {
		t.Errorf("provides.tar not cached: %v", err)
	}
}

func TestBuildFailedScriptReturnsError(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "broken", "", true, false)
	idx := loadIndex(t, root)
	b, fr, _ := newTestBuilder(t, idx)
	fr.OnRun = func(envID string, command []string, envVars map[string]string, stdio runner.Stdio) (runner.ExitStatus, error) {
		return runner.ExitStatus{Code: 1}, nil
	}

	plan, err := resolve.Resolve(idx, []string{"broken"}, resolve.Builder)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Build(context.Background(), "broken", plan, Options{})
	var bf *cubicleerr.BuildFailed
	if !errors.As(err, &bf) {
		t.Fatalf("got %v, want BuildFailed", err)
	}
}

func TestBuildMissingArtifactAfterSuccess(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "empty", "", true, false)
	idx := loadIndex(t, root)
	b, fr, _ := newTestBuilder(t, idx)
	fr.OnRun = func(envID string, command []string, envVars map[string]string, stdio runner.Stdio) (runner.ExitStatus, error) {
		return runner.ExitStatus{Code: 0}, nil // no provides.tar deposited
	}

	plan, err := resolve.Resolve(idx, []string{"empty"}, resolve.Builder)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Build(context.Background(), "empty", plan, Options{})
	var missing *cubicleerr.MissingArtifact
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want MissingArtifact", err)
	}
}

func TestEnsureSkipsFreshPackages(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "hello", "", true, false)
	idx := loadIndex(t, root)
	b, fr, _ := newTestBuilder(t, idx)
	fakeProvidesOnBuild(fr, map[string]string{"f": "x"})

	plan, err := resolve.Resolve(idx, []string{"hello"}, resolve.Builder)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatal(err)
	}
	firstCalls := len(fr.Calls)
	if firstCalls == 0 {
		t.Fatal("expected at least one build invocation")
	}

	if err := b.Ensure(context.Background(), plan, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(fr.Calls) != firstCalls {
		t.Errorf("expected no new invocations for an already-fresh package, got %d new", len(fr.Calls)-firstCalls)
	}
}

func TestBuildInjectsPackageEnvForParameterizedPackage(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "crates-io", `package_manager = true`, true, false)
	idx := loadIndex(t, root)
	b, fr, _ := newTestBuilder(t, idx)
	fakeProvidesOnBuild(fr, map[string]string{"f": "x"})

	plan, err := resolve.Resolve(idx, []string{"crates-io.ripgrep"}, resolve.Builder)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Build(context.Background(), "crates-io.ripgrep", plan, Options{}); err != nil {
		t.Fatal(err)
	}
	if len(fr.Calls) == 0 {
		t.Fatal("expected a build invocation")
	}
	last := fr.Calls[len(fr.Calls)-1]
	if last.Env["PACKAGE"] != "ripgrep" {
		t.Errorf("PACKAGE env = %q, want %q", last.Env["PACKAGE"], "ripgrep")
	}
}

func TestBuildFailedTestsStillCachesArtifact(t *testing.T) {
	root := t.TempDir()
	writePackage(t, root, "flaky", "", true, true)
	idx := loadIndex(t, root)
	b, fr, s := newTestBuilder(t, idx)

	fr.OnRun = func(envID string, command []string, envVars map[string]string, stdio runner.Stdio) (runner.ExitStatus, error) {
		for _, c := range command {
			if c == `cd "$HOME/src" && ./test.sh` {
				return runner.ExitStatus{Code: 1}, nil
			}
		}
		dir, err := os.MkdirTemp("", "fake-provides-")
		if err != nil {
			return runner.ExitStatus{}, err
		}
		defer os.RemoveAll(dir)
		os.WriteFile(filepath.Join(dir, "f"), []byte("x"), 0644)
		var buf bytes.Buffer
		if err := archive.Pack(&buf, dir); err != nil {
			return runner.ExitStatus{}, err
		}
		fr.PutFile(envID, "provides.tar", buf.Bytes())
		return runner.ExitStatus{Code: 0}, nil
	}

	plan, err := resolve.Resolve(idx, []string{"flaky"}, resolve.Builder)
	if err != nil {
		t.Fatal(err)
	}
	err = b.Build(context.Background(), "flaky", plan, Options{RunTests: true})
	var tf *cubicleerr.TestFailed
	if !errors.As(err, &tf) {
		t.Fatalf("got %v, want TestFailed", err)
	}
	if _, err := os.Stat(s.ProvidesPath("flaky")); err != nil {
		t.Errorf("provides.tar should remain cached despite test failure: %v", err)
	}
}
