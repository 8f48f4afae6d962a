package runner

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ongardie/cubicle/internal/cubicleerr"
)

func TestFakeCreateThenRunRecordsInvocation(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.Create(ctx, "e1", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Run(ctx, "e1", []string{"./build.sh"}, map[string]string{"PACKAGE": "inner"}, Stdio{}); err != nil {
		t.Fatal(err)
	}
	if len(f.Calls) != 1 {
		t.Fatalf("got %d calls, want 1", len(f.Calls))
	}
	if f.Calls[0].Env["PACKAGE"] != "inner" {
		t.Errorf("PACKAGE env not recorded: %+v", f.Calls[0])
	}
}

func TestFakeRunMissingEnvIsNoSuchEnv(t *testing.T) {
	f := NewFake()
	_, err := f.Run(context.Background(), "nope", []string{"true"}, nil, Stdio{})
	var nse *cubicleerr.NoSuchEnv
	if !errors.As(err, &nse) {
		t.Fatalf("got %v, want NoSuchEnv", err)
	}
}

func TestFakeCreateTwiceIsEnvAlreadyExists(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.Create(ctx, "e1", nil); err != nil {
		t.Fatal(err)
	}
	err := f.Create(ctx, "e1", nil)
	var exists *cubicleerr.EnvAlreadyExists
	if !errors.As(err, &exists) {
		t.Fatalf("got %v, want EnvAlreadyExists", err)
	}
}

func TestFakeCopyOutMissingArtifact(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.Create(ctx, "e1", nil); err != nil {
		t.Fatal(err)
	}
	_, err := f.CopyOut(ctx, "e1", "provides.tar")
	var missing *cubicleerr.MissingArtifact
	if !errors.As(err, &missing) {
		t.Fatalf("got %v, want MissingArtifact", err)
	}
}

func TestFakeCopyOutAfterPutFile(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.Create(ctx, "e1", nil); err != nil {
		t.Fatal(err)
	}
	f.PutFile("e1", "provides.tar", []byte("tar-bytes"))
	rc, err := f.CopyOut(ctx, "e1", "provides.tar")
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	buf := make([]byte, 16)
	n, _ := rc.Read(buf)
	if string(buf[:n]) != "tar-bytes" {
		t.Errorf("got %q", buf[:n])
	}
}

func TestFakePurgeIsIdempotent(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.Purge(ctx, "never-created"); err != nil {
		t.Fatalf("purging nonexistent env should not error: %v", err)
	}
	if err := f.Create(ctx, "e1", nil); err != nil {
		t.Fatal(err)
	}
	if err := f.Purge(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	if err := f.Purge(ctx, "e1"); err != nil {
		t.Fatalf("second purge should still be idempotent: %v", err)
	}
	exists, err := f.Exists(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("env still exists after purge")
	}
}

func TestFakeListFiltersByPrefix(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	for _, name := range []string{"proj-a", "proj-b", "other"} {
		if err := f.Create(ctx, name, nil); err != nil {
			t.Fatal(err)
		}
	}
	got, err := f.List(ctx, "proj-")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "proj-a" || got[1] != "proj-b" {
		t.Errorf("got %v", got)
	}
}

func TestFakeOnRunOverride(t *testing.T) {
	f := NewFake()
	ctx := context.Background()
	if err := f.Create(ctx, "e1", nil); err != nil {
		t.Fatal(err)
	}
	f.OnRun = func(envID string, command []string, envVars map[string]string, stdio Stdio) (ExitStatus, error) {
		if strings.Join(command, " ") == "./test.sh" {
			return ExitStatus{Code: 1}, nil
		}
		return ExitStatus{Code: 0}, nil
	}
	status, err := f.Run(ctx, "e1", []string{"./test.sh"}, nil, Stdio{})
	if err != nil {
		t.Fatal(err)
	}
	if status.Success() {
		t.Error("expected failing exit status")
	}
}
