// Package config parses the cubicle configuration file: runner selection,
// the auto-update threshold, and the built-in package directory, plus one
// runner-specific subsection per runner kind. Parsing uses
// github.com/BurntSushi/toml throughout, matching the decoder the
// tsukumogami pack repo uses for its own structured configuration.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/oracle"
)

// RunnerKind identifies which Runner backend to construct.
type RunnerKind string

const (
	RunnerBubblewrap  RunnerKind = "bubblewrap"
	RunnerOCI         RunnerKind = "oci"
	RunnerUserAccount RunnerKind = "user"
)

// rawConfig mirrors the on-disk TOML shape; toml.MetaData.Undecoded then
// reports any key this struct doesn't know about.
type rawConfig struct {
	Runner            string `toml:"runner"`
	AutoUpdate        string `toml:"auto_update"`
	BuiltinPackageDir string `toml:"builtin_package_dir"`

	Bubblewrap  BubblewrapConfig  `toml:"bubblewrap"`
	OCI         OCIConfig         `toml:"oci"`
	UserAccount UserAccountConfig `toml:"user"`
}

// BubblewrapConfig configures the shared-root lightweight container runner.
type BubblewrapConfig struct {
	// Binary is the bwrap executable to invoke; defaults to "bwrap" on PATH.
	Binary string `toml:"binary"`
}

// OCIConfig configures the full OCI-style container runner.
type OCIConfig struct {
	// Host is the Docker-compatible engine endpoint, e.g.
	// "unix:///var/run/docker.sock". Empty means use the client library's
	// environment-based default (DOCKER_HOST, etc.).
	Host string `toml:"host"`
	// Image is the base image new builder/target sandboxes are created
	// from.
	Image string `toml:"image"`
}

// UserAccountConfig configures the system-user-account isolation runner.
type UserAccountConfig struct {
	// GroupPrefix namespaces the throwaway system accounts cubicle creates,
	// e.g. "cub" produces users named "cub-work", "cub-tmp-a1b2c3".
	GroupPrefix string `toml:"group_prefix"`
}

// Config is the parsed, validated configuration.
type Config struct {
	Runner            RunnerKind
	AutoUpdate        oracle.Threshold
	BuiltinPackageDir string

	Bubblewrap  BubblewrapConfig
	OCI         OCIConfig
	UserAccount UserAccountConfig
}

// Default returns the configuration used when no config file is present.
func Default() Config {
	return Config{
		Runner:            RunnerBubblewrap,
		AutoUpdate:        mustParse("12h"),
		BuiltinPackageDir: "/usr/share/cubicle/packages",
		Bubblewrap:        BubblewrapConfig{Binary: "bwrap"},
	}
}

func mustParse(s string) oracle.Threshold {
	t, err := oracle.ParseThreshold(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Load reads and parses the configuration file at path. A missing file is
// not an error: it yields the Default configuration.
func Load(path string) (Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	var raw rawConfig
	raw.Bubblewrap = cfg.Bubblewrap
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, xerrors.Errorf("parsing config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, xerrors.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}

	if raw.Runner != "" {
		switch RunnerKind(raw.Runner) {
		case RunnerBubblewrap, RunnerOCI, RunnerUserAccount:
			cfg.Runner = RunnerKind(raw.Runner)
		default:
			return Config{}, xerrors.Errorf("config %s: unknown runner %q", path, raw.Runner)
		}
	}
	if raw.AutoUpdate != "" {
		threshold, err := oracle.ParseThreshold(raw.AutoUpdate)
		if err != nil {
			return Config{}, xerrors.Errorf("config %s: %w", path, err)
		}
		cfg.AutoUpdate = threshold
	}
	if raw.BuiltinPackageDir != "" {
		cfg.BuiltinPackageDir = raw.BuiltinPackageDir
	}
	cfg.Bubblewrap = raw.Bubblewrap
	cfg.OCI = raw.OCI
	cfg.UserAccount = raw.UserAccount

	return cfg, nil
}
