// Package xdg resolves the base directories cubicle stores its state under.
// `cubicle list` prints the resolved home and work paths of each environment.
package xdg

import (
	"os"
	"path/filepath"
)

// CacheHome is the root of the cache hierarchy: ephemeral environment homes
// and the package artifact cache both live here, and are safe to delete
// entirely (the next operation recreates whatever it needs).
var CacheHome = findCacheHome()

// DataHome is the root of the data hierarchy: environment work directories
// and user-supplied package sources live here, and are never recreated by
// the core.
var DataHome = findDataHome()

// ConfigHome is where the cubicle configuration file lives.
var ConfigHome = findConfigHome()

func findCacheHome() string {
	if v := os.Getenv("CUBICLE_CACHE_HOME"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_CACHE_HOME"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.cache")
}

func findDataHome() string {
	if v := os.Getenv("CUBICLE_DATA_HOME"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_DATA_HOME"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.local/share")
}

func findConfigHome() string {
	if v := os.Getenv("CUBICLE_CONFIG_HOME"); v != "" {
		return v
	}
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return os.ExpandEnv("$HOME/.config")
}

// HomeDir returns <cache>/cubicle/home/<env>.
func HomeDir(env string) string {
	return filepath.Join(CacheHome, "cubicle", "home", env)
}

// WorkDir returns <data>/cubicle/work/<env>.
func WorkDir(env string) string {
	return filepath.Join(DataHome, "cubicle", "work", env)
}

// PackagesDir returns <data>/cubicle/packages, the root of user-supplied
// package sources (the highest-precedence local search root by convention).
func PackagesDir() string {
	return filepath.Join(DataHome, "cubicle", "packages")
}

// PackageCacheDir returns <cache>/cubicle/package.cache/<name>.
func PackageCacheDir(name string) string {
	return filepath.Join(CacheHome, "cubicle", "package.cache", name)
}

// ConfigFile returns <config>/cubicle/cubicle.toml.
func ConfigFile() string {
	return filepath.Join(ConfigHome, "cubicle", "cubicle.toml")
}
