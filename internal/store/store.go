// Package store implements the on-disk state-store layout: the
// environment home/work directories, the user package-source directory, the
// package artifact cache (provides.tar, built_at, source_hash), and the
// packages.txt file that makes reset's default package set work. All
// metadata writes go through github.com/google/renameio for
// write-to-tempfile-then-rename crash safety, and both per-package and
// per-environment directories are protected by an advisory flock-based
// lock.
package store

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/oracle"
)

// Store is constructed once per invocation (never a singleton, per the
// design notes) and passed by reference to every component that touches
// disk.
type Store struct {
	CacheRoot string // e.g. $XDG_CACHE_HOME
	DataRoot  string // e.g. $XDG_DATA_HOME
}

// New builds a Store rooted at the given cache and data directories.
func New(cacheRoot, dataRoot string) *Store {
	return &Store{CacheRoot: cacheRoot, DataRoot: dataRoot}
}

// HomeDir returns <cache>/cubicle/home/<env>.
func (s *Store) HomeDir(env string) string {
	return filepath.Join(s.CacheRoot, "cubicle", "home", env)
}

// WorkDir returns <data>/cubicle/work/<env>.
func (s *Store) WorkDir(env string) string {
	return filepath.Join(s.DataRoot, "cubicle", "work", env)
}

// PackagesDir returns <data>/cubicle/packages, the user-supplied package
// source root.
func (s *Store) PackagesDir() string {
	return filepath.Join(s.DataRoot, "cubicle", "packages")
}

// PackageCacheDir returns <cache>/cubicle/package.cache/<name>.
func (s *Store) PackageCacheDir(name string) string {
	return filepath.Join(s.CacheRoot, "cubicle", "package.cache", name)
}

// EnvExists reports whether env has a work directory, the one piece of an
// environment that reset never destroys and purge always removes; this
// makes it the right existence check for new()/reset()/purge().
func (s *Store) EnvExists(env string) bool {
	_, err := os.Stat(s.WorkDir(env))
	return err == nil
}

// Environments lists every environment with a work directory, sorted by
// name.
func (s *Store) Environments() ([]string, error) {
	root := filepath.Join(s.DataRoot, "cubicle", "work")
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("listing environments: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// LockEnv takes the per-environment exclusive lock serializing
// composition/purge of one environment.
func (s *Store) LockEnv(env string) (Unlock, error) {
	return lockPath(filepath.Join(s.DataRoot, "cubicle", "lock", "env-"+env))
}

// LockPackage takes the per-package exclusive lock serializing builds of
// one package identity (the at-most-one-concurrent-build invariant).
func (s *Store) LockPackage(identity string) (Unlock, error) {
	return lockPath(filepath.Join(s.PackageCacheDir(identity), ".building"))
}

// ArtifactMeta is the cached build metadata for one package.
type ArtifactMeta struct {
	BuiltAt    time.Time
	SourceHash string
}

// ToOracle converts cache metadata into the oracle's input shape.
func (m ArtifactMeta) ToOracle() oracle.Meta {
	return oracle.Meta{BuiltAt: m.BuiltAt, SourceHash: m.SourceHash}
}

// ProvidesPath returns the cached provides.tar path for a package identity.
func (s *Store) ProvidesPath(identity string) string {
	return filepath.Join(s.PackageCacheDir(identity), "provides.tar")
}

// ReadArtifactMeta reads built_at/source_hash for a package identity. A
// package with no cached artifact (directory absent, or built_at absent)
// returns the zero ArtifactMeta and a nil error: the freshness oracle
// treats that as simply "always Stale", not a failure.
func (s *Store) ReadArtifactMeta(identity string) (ArtifactMeta, error) {
	dir := s.PackageCacheDir(identity)

	builtAtRaw, err := os.ReadFile(filepath.Join(dir, "built_at"))
	if err != nil {
		if os.IsNotExist(err) {
			return ArtifactMeta{}, nil
		}
		return ArtifactMeta{}, xerrors.Errorf("reading built_at for %s: %w", identity, err)
	}
	builtAt, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(string(builtAtRaw)))
	if err != nil {
		return ArtifactMeta{}, xerrors.Errorf("parsing built_at for %s: %w", identity, err)
	}

	sourceHashRaw, err := os.ReadFile(filepath.Join(dir, "source_hash"))
	if err != nil {
		if os.IsNotExist(err) {
			return ArtifactMeta{}, nil
		}
		return ArtifactMeta{}, xerrors.Errorf("reading source_hash for %s: %w", identity, err)
	}

	return ArtifactMeta{
		BuiltAt:    builtAt,
		SourceHash: strings.TrimSpace(string(sourceHashRaw)),
	}, nil
}

// WriteArtifactMeta records a successful build. Writes are crash-safe
// (write-to-tempfile-then-rename); callers must hold LockPackage(identity)
// while calling this.
func (s *Store) WriteArtifactMeta(identity string, meta ArtifactMeta) error {
	dir := s.PackageCacheDir(identity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("creating %s: %w", dir, err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, "built_at"), []byte(meta.BuiltAt.Format(time.RFC3339Nano)+"\n"), 0644); err != nil {
		return xerrors.Errorf("writing built_at for %s: %w", identity, err)
	}
	if err := renameio.WriteFile(filepath.Join(dir, "source_hash"), []byte(meta.SourceHash+"\n"), 0644); err != nil {
		return xerrors.Errorf("writing source_hash for %s: %w", identity, err)
	}
	return nil
}

// ReadPackagesTxt reads the newline-separated default package set for env.
// A missing file yields (nil, nil): callers distinguish "no packages.txt
// yet" from "empty packages.txt" only by checking existence themselves
// beforehand, since cub new never overrides a caller-supplied --packages
// list with an empty file.
func (s *Store) ReadPackagesTxt(env string) ([]string, error) {
	path := filepath.Join(s.WorkDir(env), "packages.txt")
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, xerrors.Errorf("reading %s: %w", path, err)
	}
	var refs []string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		refs = append(refs, line)
	}
	return refs, nil
}

// WritePackagesTxt overwrites env's default package set, crash-safely.
func (s *Store) WritePackagesTxt(env string, refs []string) error {
	path := filepath.Join(s.WorkDir(env), "packages.txt")
	body := strings.Join(refs, "\n")
	if len(refs) > 0 {
		body += "\n"
	}
	if err := renameio.WriteFile(path, []byte(body), 0644); err != nil {
		return xerrors.Errorf("writing %s: %w", path, err)
	}
	return nil
}
