package runner

import (
	"testing"

	"github.com/ongardie/cubicle/internal/config"
	"github.com/ongardie/cubicle/internal/store"
)

func TestNewBubblewrapBindsStorePaths(t *testing.T) {
	s := store.New(t.TempDir(), t.TempDir())
	cfg := config.Default()
	cfg.Runner = config.RunnerBubblewrap

	r, err := New(cfg, s)
	if err != nil {
		t.Fatal(err)
	}
	bw, ok := r.(*Bubblewrap)
	if !ok {
		t.Fatalf("got %T, want *Bubblewrap", r)
	}
	if got, want := bw.HomeDir("e1"), s.HomeDir("e1"); got != want {
		t.Errorf("HomeDir(e1) = %q, want %q (Store-backed)", got, want)
	}
	if got, want := bw.WorkDir("e1"), s.WorkDir("e1"); got != want {
		t.Errorf("WorkDir(e1) = %q, want %q (Store-backed)", got, want)
	}
}

func TestNewUnknownRunnerKind(t *testing.T) {
	s := store.New(t.TempDir(), t.TempDir())
	cfg := config.Default()
	cfg.Runner = config.RunnerKind("bogus")
	if _, err := New(cfg, s); err == nil {
		t.Fatal("expected an error for an unknown runner kind")
	}
}
