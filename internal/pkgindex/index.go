// Package pkgindex discovers package definitions across ordered search
// roots, resolves name shadowing between them, and parses each candidate's
// manifest.
package pkgindex

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/cubicleerr"
	"github.com/ongardie/cubicle/internal/manifest"
)

// Origin records where a package definition was found: RootIndex is its
// position in the search path (lower shadows higher), RootPath is the
// containing root directory.
type Origin struct {
	RootIndex int
	RootPath  string
	BuiltIn   bool
}

// Package is one resolved package definition.
type Package struct {
	Name       string
	SourceDir  string
	Manifest   manifest.Manifest
	BuildScript string // path to build.sh, "" if absent
	TestScript  string // path to test.sh, "" if absent
	Origin      Origin

	// IsParameterized is true for synthetic packages produced by
	// Index.Resolve on a namespaced reference (e.g. "crates-io.ripgrep").
	// Manager is the underlying package-manager package's name, Parameter
	// the third-party name.
	IsParameterized bool
	Manager         string
	Parameter       string
}

// Identity is the string used as the package's cache/builder-environment
// key: the plain name for ordinary packages, "manager.parameter" for
// parameterized ones (each (manager, parameter) pair gets its own builder
// environment and provides_tar, even though they share one definition).
func (p *Package) Identity() string {
	if p.IsParameterized {
		return p.Manager + "." + p.Parameter
	}
	return p.Name
}

// Index is a name table built from one or more ordered search roots. The
// first occurrence of a name, scanning roots in order and directories
// lexicographically within a root, wins; later occurrences are invisible.
type Index struct {
	byName map[string]*Package
	order  []string // names, in discovery order (for deterministic List)
}

// Load enumerates immediate subdirectories of each root in roots (local
// roots first, built-in root last) and parses each candidate's manifest.
// A manifest parse failure aborts the whole load with a diagnostic naming
// the offending file.
func Load(roots []string) (*Index, error) {
	idx := &Index{byName: make(map[string]*Package)}
	for rootIdx, root := range roots {
		entries, err := os.ReadDir(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue // a configured root need not exist
			}
			return nil, xerrors.Errorf("reading package root %s: %w", root, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)

		for _, name := range names {
			if _, shadowed := idx.byName[name]; shadowed {
				continue // an earlier (lower-indexed) root already claimed this name
			}
			dir := filepath.Join(root, name)
			pkg, err := loadOne(name, dir, Origin{RootIndex: rootIdx, RootPath: root, BuiltIn: rootIdx == len(roots)-1})
			if err != nil {
				return nil, err
			}
			idx.byName[name] = pkg
			idx.order = append(idx.order, name)
		}
	}
	return idx, nil
}

func loadOne(name, dir string, origin Origin) (*Package, error) {
	mf, err := manifest.Parse(filepath.Join(dir, "package.toml"))
	if err != nil {
		return nil, xerrors.Errorf("loading package %s: %w", name, err)
	}
	pkg := &Package{
		Name:      name,
		SourceDir: dir,
		Manifest:  mf,
		Origin:    origin,
	}
	if fi, err := os.Stat(filepath.Join(dir, "build.sh")); err == nil && fi.Mode()&0111 != 0 {
		pkg.BuildScript = filepath.Join(dir, "build.sh")
	}
	if fi, err := os.Stat(filepath.Join(dir, "test.sh")); err == nil && fi.Mode()&0111 != 0 {
		pkg.TestScript = filepath.Join(dir, "test.sh")
	}
	return pkg, nil
}

// Get returns the package named name, or nil if none is visible.
func (idx *Index) Get(name string) *Package {
	return idx.byName[name]
}

// List returns every visible package, in discovery order.
func (idx *Index) List() []*Package {
	pkgs := make([]*Package, 0, len(idx.order))
	for _, name := range idx.order {
		pkgs = append(pkgs, idx.byName[name])
	}
	return pkgs
}

// Resolve looks up a fully qualified reference. A simple name resolves
// directly via Get. A namespaced reference ("namespace.inner") resolves to
// a synthetic parameterized package derived from the package-manager
// package "namespace" (which must have Manifest.PackageManager set) plus
// parameter "inner".
func (idx *Index) Resolve(ref string) (*Package, error) {
	if manager, parameter, ok := splitNamespaced(ref); ok {
		base := idx.byName[manager]
		if base == nil {
			return nil, xerrors.Errorf("resolving %s: %w", ref, &cubicleerr.NoSuchPackage{Ref: manager})
		}
		if !base.Manifest.PackageManager {
			return nil, xerrors.Errorf("resolving %s: %s is not a package-manager package", ref, manager)
		}
		synth := *base
		synth.IsParameterized = true
		synth.Manager = manager
		synth.Parameter = parameter
		return &synth, nil
	}
	pkg := idx.byName[ref]
	if pkg == nil {
		return nil, &cubicleerr.NoSuchPackage{Ref: ref}
	}
	return pkg, nil
}

func splitNamespaced(ref string) (manager, parameter string, ok bool) {
	idx := strings.IndexByte(ref, '.')
	if idx < 0 {
		return "", "", false
	}
	return ref[:idx], ref[idx+1:], true
}
