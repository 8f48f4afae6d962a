package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cubicle.toml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner != RunnerBubblewrap {
		t.Errorf("Runner = %v, want %v", cfg.Runner, RunnerBubblewrap)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
runner = "oci"
auto_update = "3.5 days"
builtin_package_dir = "/opt/cubicle/packages"

[oci]
host = "unix:///var/run/docker.sock"
image = "debian:bookworm"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Runner != RunnerOCI {
		t.Errorf("Runner = %v, want %v", cfg.Runner, RunnerOCI)
	}
	if cfg.OCI.Image != "debian:bookworm" {
		t.Errorf("OCI.Image = %q", cfg.OCI.Image)
	}
}

func TestLoadUnknownRunnerIsError(t *testing.T) {
	path := writeConfig(t, `runner = "qemu"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown runner")
	}
}

func TestLoadUnknownKeyIsError(t *testing.T) {
	path := writeConfig(t, `bogus_key = "x"`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown top-level key")
	}
}
