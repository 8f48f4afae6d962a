// Package resolve implements the dependency resolver: expanding a requested
// set of packages into a topologically ordered build plan, merging
// build-only and runtime dependencies, applying the implicit
// "auto"/"auto-batch" anchors, and handling third-party (package-manager)
// namespaces.
//
// The graph itself is a gonum/graph/simple.DirectedGraph, the same
// structure distri's own build-order logic builds for its distro-wide
// build problem; ordering is produced by a deterministic Kahn's algorithm
// (kahn.go) rather than gonum's topo.Sort so that tie-breaking by name is
// pinned down explicitly rather than left to library internals.
package resolve

import (
	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/pkgindex"
)

// Mode selects which implicit anchor package is seeded alongside the
// request: "auto" for environments a human will interact with, "auto-batch"
// for builder/test environments.
type Mode int

const (
	Interactive Mode = iota
	Builder
)

const (
	autoName      = "auto"
	autoBatchName = "auto-batch"
)

// Plan is the resolver's output for one request.
type Plan struct {
	// Build is every package that must be built: the union of transitive
	// depends and build_depends from the requested set (plus the implicit
	// anchor), in topological order.
	Build []string

	// Runtime is the subset actually unpacked into the target environment:
	// the transitive depends-only closure of the requested set, plus the
	// implicit "auto" anchor (interactive mode only), in topological order.
	Runtime []string

	// BuildDeps maps a package identity (as it appears in Build) to the
	// identities of its immediate dependencies for build purposes (its
	// manifest's depends plus build_depends, resolved). internal/build uses
	// this to compute what a single package's builder environment must be
	// seeded with.
	BuildDeps map[string][]string

	// RuntimeDeps maps a package identity to the identities of its
	// immediate runtime-only dependencies (manifest depends, resolved).
	RuntimeDeps map[string][]string
}

// Resolve expands refs into a Plan. idx must already have every relevant
// root loaded.
func Resolve(idx *pkgindex.Index, refs []string, mode Mode) (*Plan, error) {
	r := &resolver{
		idx:       idx,
		pkgs:      make(map[string]*pkgindex.Package),
		buildG:    newNodeGraph(),
		runtG:     newNodeGraph(),
		buildDeps: make(map[string][]string),
		runtDeps:  make(map[string][]string),
	}

	buildSeeds := append([]string{}, refs...)
	runtimeSeeds := append([]string{}, refs...)

	anchor := autoName
	if mode == Builder {
		anchor = autoBatchName
	}
	if _, err := idx.Resolve(anchor); err == nil {
		needed, err := r.anchorNeeded(anchor, refs)
		if err != nil {
			return nil, err
		}
		if needed {
			buildSeeds = append(buildSeeds, anchor)
			if mode == Interactive {
				runtimeSeeds = append(runtimeSeeds, anchor)
			}
		}
	}
	// A deployment need not define "auto"/"auto-batch" at all; in that case
	// there is nothing to anchor and the plain request stands.

	if err := r.expand(r.buildG, r.buildDeps, buildSeeds, true); err != nil {
		return nil, err
	}
	if err := r.expand(r.runtG, r.runtDeps, runtimeSeeds, false); err != nil {
		return nil, err
	}

	buildOrder, err := r.buildG.sorted()
	if err != nil {
		return nil, xerrors.Errorf("resolving build plan: %w", err)
	}
	runtimeOrder, err := r.runtG.sorted()
	if err != nil {
		return nil, xerrors.Errorf("resolving runtime plan: %w", err)
	}

	return &Plan{
		Build:       buildOrder,
		Runtime:     runtimeOrder,
		BuildDeps:   r.buildDeps,
		RuntimeDeps: r.runtDeps,
	}, nil
}

type resolver struct {
	idx  *pkgindex.Index
	pkgs map[string]*pkgindex.Package // ref or identity -> resolved package

	buildG *nodeGraph
	runtG  *nodeGraph

	buildDeps map[string][]string
	runtDeps  map[string][]string
}

func (r *resolver) resolve(ref string) (*pkgindex.Package, error) {
	if pkg, ok := r.pkgs[ref]; ok {
		return pkg, nil
	}
	pkg, err := r.idx.Resolve(ref)
	if err != nil {
		return nil, xerrors.Errorf("resolving %s: %w", ref, err)
	}
	r.pkgs[ref] = pkg
	r.pkgs[pkg.Identity()] = pkg
	return pkg, nil
}

// anchorNeeded implements invariant 6's short-circuit: the anchor is seeded
// unless a requested package is already a transitive ancestor of it (i.e. building
// the anchor would require building one of the requested packages first,
// which would make seeding it circular).
func (r *resolver) anchorNeeded(anchor string, refs []string) (bool, error) {
	ancestors, err := r.ancestorsOf(anchor)
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		pkg, err := r.resolve(ref)
		if err != nil {
			return false, err
		}
		if ancestors[pkg.Identity()] {
			return false, nil
		}
	}
	return true, nil
}

// ancestorsOf returns every package (by identity) that must be built to
// build and run name itself: its transitive depends+build_depends closure.
func (r *resolver) ancestorsOf(name string) (map[string]bool, error) {
	seen := make(map[string]bool)
	var frontier []string
	root, err := r.resolve(name)
	if err != nil {
		return nil, err
	}
	for _, dep := range allDeps(root) {
		frontier = append(frontier, dep)
	}
	for len(frontier) > 0 {
		ref := frontier[0]
		frontier = frontier[1:]
		pkg, err := r.resolve(ref)
		if err != nil {
			return nil, err
		}
		if seen[pkg.Identity()] {
			continue
		}
		seen[pkg.Identity()] = true
		frontier = append(frontier, allDeps(pkg)...)
	}
	return seen, nil
}

func allDeps(pkg *pkgindex.Package) []string {
	deps := append([]string{}, pkg.Manifest.DependsNames()...)
	deps = append(deps, pkg.Manifest.BuildDependsNames()...)
	return deps
}

// expand performs the frontier walk: pop a reference, resolve it, and push
// its dependencies (depends always; build_depends too
// when includeBuildDeps is set, i.e. while building the Build plan). Every
// dependency edge discovered is recorded both in g (for topological
// ordering) and in directDeps (for internal/build's per-package seeding).
func (r *resolver) expand(g *nodeGraph, directDeps map[string][]string, seeds []string, includeBuildDeps bool) error {
	seen := make(map[string]bool)
	var frontier []string
	for _, s := range seeds {
		if !seen[s] {
			seen[s] = true
			frontier = append(frontier, s)
		}
	}
	for len(frontier) > 0 {
		ref := frontier[0]
		frontier = frontier[1:]

		pkg, err := r.resolve(ref)
		if err != nil {
			return err
		}
		identity := pkg.Identity()
		g.node(identity)

		deps := append([]string{}, pkg.Manifest.DependsNames()...)
		if includeBuildDeps {
			deps = append(deps, pkg.Manifest.BuildDependsNames()...)
		}

		for _, dep := range deps {
			if dep == pkg.Name || dep == identity {
				continue // skip circular self-dependencies
			}
			depPkg, err := r.resolve(dep)
			if err != nil {
				return err
			}
			depIdentity := depPkg.Identity()
			g.edge(depIdentity, identity)
			directDeps[identity] = append(directDeps[identity], depIdentity)

			if !seen[dep] {
				seen[dep] = true
				frontier = append(frontier, dep)
			}
		}
	}
	return nil
}
