// Package build implements the package builder: producing one package's
// provides.tar by creating or refreshing a builder environment through a
// Runner, seeding it with dependencies' provides.tars and the package's own
// source, invoking build.sh, caching the result, and optionally running
// test.sh in a clean environment.
//
// This plays the same role as distri's own internal/build package (a
// from-scratch distro build system built around squashfs images and
// loop-mounted dependency trees), keeping the same overall shape — resolve
// steps, run a script inside an isolated environment, capture the result —
// adapted to cubicle's Runner abstraction and provides.tar artifacts
// instead of squashfs packages.
package build

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/pgzip"
	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/archive"
	"github.com/ongardie/cubicle/internal/cubicleerr"
	"github.com/ongardie/cubicle/internal/oracle"
	"github.com/ongardie/cubicle/internal/pkgindex"
	"github.com/ongardie/cubicle/internal/resolve"
	"github.com/ongardie/cubicle/internal/runner"
	"github.com/ongardie/cubicle/internal/store"
)

// srcSubdir is the fixed home-relative path a package's source tree is
// copied to inside its builder or test environment. It deliberately does
// not live under "work": a Runner's work directory is a distinct bind
// mount layered over $HOME/work for composed dev environments, and a
// builder/test environment's seeded source would be hidden under it if
// the two shared a path. A builder environment is per-package-identity,
// so there is never more than one source tree live in it at once and no
// naming collision to worry about.
const srcSubdir = "src"

// Options controls optional behavior of Ensure.
type Options struct {
	// RunTests requests the test.sh pass (step 6) after a successful
	// build. Skipped packages without a TestScript are unaffected either
	// way.
	RunTests bool
	// Clean makes Ensure rebuild every package in the plan, including ones
	// the oracle reports Fresh.
	Clean bool
	// Stdio is forwarded to every script invocation; the zero value
	// discards all three streams.
	Stdio runner.Stdio
}

// Builder drives the build protocol against one Store, one package Index,
// and one Runner.
type Builder struct {
	Store     *store.Store
	Index     *pkgindex.Index
	Runner    runner.Runner
	Threshold oracle.Threshold
}

func New(s *store.Store, idx *pkgindex.Index, r runner.Runner, threshold oracle.Threshold) *Builder {
	return &Builder{Store: s, Index: idx, Runner: r, Threshold: threshold}
}

// Ensure walks plan.Build in order and rebuilds every package that the
// freshness oracle reports Stale, so that dependents always see a fresh
// artifact from their own dependencies before they are built in turn.
func (b *Builder) Ensure(ctx context.Context, plan *resolve.Plan, opts Options) error {
	for _, identity := range plan.Build {
		if err := ctx.Err(); err != nil {
			return err
		}
		stale, err := b.isStale(identity, plan)
		if err != nil {
			return err
		}
		if !stale && !opts.Clean {
			continue
		}
		if err := b.Build(ctx, identity, plan, opts); err != nil {
			return err
		}
	}
	return nil
}

func (b *Builder) isStale(identity string, plan *resolve.Plan) (bool, error) {
	pkg, err := b.resolveIdentity(identity)
	if err != nil {
		return false, err
	}
	meta, err := b.Store.ReadArtifactMeta(identity)
	if err != nil {
		return false, err
	}
	currentHash, err := b.sourceHash(pkg, plan)
	if err != nil {
		return false, err
	}
	var depBuiltAt []time.Time
	for _, dep := range plan.BuildDeps[identity] {
		depMeta, err := b.Store.ReadArtifactMeta(dep)
		if err != nil {
			return false, err
		}
		depBuiltAt = append(depBuiltAt, depMeta.BuiltAt)
	}
	verdict := oracle.Evaluate(meta.ToOracle(), currentHash, depBuiltAt, b.Threshold, time.Now())
	return verdict == oracle.Stale, nil
}

// sourceHash computes the package's current source fingerprint, folding in
// the identities and cached source hashes of its direct build dependencies
// so that a transitive change below still invalidates this package. A
// change to the package's own manifest (including its package_manager flag)
// changes the source tree and therefore the fingerprint; a different
// parameter is a different identity and so a different cache entry.
func (b *Builder) sourceHash(pkg *pkgindex.Package, plan *resolve.Plan) (string, error) {
	deps := append([]string(nil), plan.BuildDeps[pkg.Identity()]...)
	sort.Strings(deps)

	var depHashes []string
	for _, dep := range deps {
		meta, err := b.Store.ReadArtifactMeta(dep)
		if err != nil {
			return "", err
		}
		depHashes = append(depHashes, dep, meta.SourceHash)
	}
	return store.SourceFingerprint(pkg.SourceDir, depHashes)
}

func (b *Builder) resolveIdentity(identity string) (*pkgindex.Package, error) {
	pkg, err := b.Index.Resolve(identity)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

// Build unconditionally (re)builds one package, per the six-step protocol.
// Callers that want freshness-gated behavior should use Ensure instead;
// Build is exposed directly for explicit rebuilds (e.g. `cub package
// update`).
func (b *Builder) Build(ctx context.Context, identity string, plan *resolve.Plan, opts Options) error {
	pkg, err := b.resolveIdentity(identity)
	if err != nil {
		return err
	}
	if pkg.BuildScript == "" {
		return xerrors.Errorf("package %s has no build.sh", identity)
	}

	unlock, err := b.Store.LockPackage(identity)
	if err != nil {
		return xerrors.Errorf("locking package %s: %w", identity, err)
	}
	defer unlock()

	envID := "pkgbuild-" + identity
	if err := b.createOrRefresh(ctx, envID, pkg, plan); err != nil {
		return err
	}

	envVars := map[string]string{}
	if pkg.IsParameterized {
		envVars["PACKAGE"] = pkg.Parameter
	}
	status, err := b.Runner.Run(ctx, envID, []string{"sh", "-c", `cd "$HOME/` + srcSubdir + `" && ./build.sh`}, envVars, opts.Stdio)
	if err != nil {
		return xerrors.Errorf("building %s: %w", identity, err)
	}
	if !status.Success() {
		return &cubicleerr.BuildFailed{Name: identity, ExitCode: status.Code}
	}

	sourceHash, err := b.sourceHash(pkg, plan)
	if err != nil {
		return err
	}
	if err := b.captureArtifact(ctx, envID, identity, sourceHash); err != nil {
		return err
	}

	if opts.RunTests && pkg.TestScript != "" {
		if err := b.runTests(ctx, pkg, identity, plan, opts); err != nil {
			return err
		}
	}
	return nil
}

// createOrRefresh implements protocol steps 1-2: create a builder
// environment if none exists, or wipe and re-seed the existing one.
// Either way the result is a freshly-seeded environment, so the same seed
// construction serves both branches.
func (b *Builder) createOrRefresh(ctx context.Context, envID string, pkg *pkgindex.Package, plan *resolve.Plan) error {
	seed, cleanup, err := b.buildSeed(pkg, plan)
	if err != nil {
		return err
	}
	defer cleanup()

	exists, err := b.Runner.Exists(ctx, envID)
	if err != nil {
		return err
	}
	if exists {
		if err := b.Runner.Purge(ctx, envID); err != nil {
			return xerrors.Errorf("refreshing builder environment for %s: %w", pkg.Identity(), err)
		}
	}
	if err := b.Runner.Create(ctx, envID, seed); err != nil {
		return xerrors.Errorf("creating builder environment for %s: %w", pkg.Identity(), err)
	}
	return nil
}

// buildSeed materializes, in a scratch directory, the merged contents of
// every transitive build dependency's cached provides.tar (later/closer
// dependencies overwriting earlier/farther ones, via archive.ConcatUnpack)
// plus the package's own source tree under srcSubdir, then packs the whole
// tree into a single uncompressed tar stream for Runner.Create/seedArchive.
// The returned cleanup must be called once the returned reader has been
// fully drained.
func (b *Builder) buildSeed(pkg *pkgindex.Package, plan *resolve.Plan) (io.Reader, func(), error) {
	scratch, err := os.MkdirTemp("", "cubicle-build-seed-")
	if err != nil {
		return nil, nil, xerrors.Errorf("staging build seed: %w", err)
	}
	cleanup := func() { os.RemoveAll(scratch) }

	var tarPaths []string
	for _, dep := range orderedAncestors(pkg.Identity(), plan) {
		tarPaths = append(tarPaths, b.Store.ProvidesPath(dep))
	}
	if err := archive.ConcatUnpack(tarPaths, scratch); err != nil {
		cleanup()
		return nil, nil, xerrors.Errorf("seeding builder environment for %s: %w", pkg.Identity(), err)
	}

	if err := archive.CopyTree(pkg.SourceDir, filepath.Join(scratch, srcSubdir)); err != nil {
		cleanup()
		return nil, nil, xerrors.Errorf("copying source for %s: %w", pkg.Identity(), err)
	}

	pr, pw := io.Pipe()
	go func() {
		err := archive.Pack(pw, scratch)
		pw.CloseWithError(err)
	}()
	return pr, cleanup, nil
}

// orderedAncestors returns every transitive build dependency of identity,
// in the same topological order as plan.Build, so that ConcatUnpack
// applies them dependency-first and the package's more specific
// dependencies win conflicts over its more distant ones.
func orderedAncestors(identity string, plan *resolve.Plan) []string {
	ancestors := make(map[string]bool)
	var frontier []string
	frontier = append(frontier, plan.BuildDeps[identity]...)
	for len(frontier) > 0 {
		dep := frontier[0]
		frontier = frontier[1:]
		if ancestors[dep] {
			continue
		}
		ancestors[dep] = true
		frontier = append(frontier, plan.BuildDeps[dep]...)
	}
	var ordered []string
	for _, id := range plan.Build {
		if ancestors[id] {
			ordered = append(ordered, id)
		}
	}
	return ordered
}

// captureArtifact implements protocol step 5: read back provides.tar,
// cache it, and record fresh metadata. The runner hands back a plain
// (uncompressed) tar, the same as archive.Pack produces; captureArtifact
// gzip-compresses it on the way into the cache, matching the format
// archive.UnpackFile/ConcatUnpack expect when a cached provides.tar is
// later read back during seeding. Caller must already hold the package's
// lock.
func (b *Builder) captureArtifact(ctx context.Context, envID, identity, sourceHash string) error {
	rc, err := b.Runner.CopyOut(ctx, envID, "provides.tar")
	if err != nil {
		var missing *cubicleerr.MissingArtifact
		if xerrors.As(err, &missing) {
			return &cubicleerr.MissingArtifact{Name: identity}
		}
		return xerrors.Errorf("capturing artifact for %s: %w", identity, err)
	}
	defer rc.Close()

	dir := b.Store.PackageCacheDir(identity)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return xerrors.Errorf("creating cache dir for %s: %w", identity, err)
	}
	dest := b.Store.ProvidesPath(identity)
	tmp := dest + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return xerrors.Errorf("caching artifact for %s: %w", identity, err)
	}
	gz, err := pgzip.NewWriterLevel(f, pgzip.DefaultCompression)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("caching artifact for %s: %w", identity, err)
	}
	if _, err := io.Copy(gz, rc); err != nil {
		gz.Close()
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("caching artifact for %s: %w", identity, err)
	}
	if err := gz.Close(); err != nil {
		f.Close()
		os.Remove(tmp)
		return xerrors.Errorf("caching artifact for %s: %w", identity, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return xerrors.Errorf("caching artifact for %s: %w", identity, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return xerrors.Errorf("caching artifact for %s: %w", identity, err)
	}

	return b.Store.WriteArtifactMeta(identity, store.ArtifactMeta{
		BuiltAt:    time.Now(),
		SourceHash: sourceHash,
	})
}

// runTests implements protocol step 6: run test.sh in a clean, disposable
// environment seeded with the package's runtime dependency closure, its
// own just-built provides.tar, and its source directory with build.sh
// removed. The environment is purged afterwards regardless of outcome.
func (b *Builder) runTests(ctx context.Context, pkg *pkgindex.Package, identity string, plan *resolve.Plan, opts Options) error {
	runtimePlan, err := resolve.Resolve(b.Index, []string{identity}, resolve.Builder)
	if err != nil {
		return xerrors.Errorf("resolving runtime closure for %s tests: %w", identity, err)
	}

	scratch, err := os.MkdirTemp("", "cubicle-test-seed-")
	if err != nil {
		return xerrors.Errorf("staging test environment for %s: %w", identity, err)
	}
	defer os.RemoveAll(scratch)

	var tarPaths []string
	for _, dep := range runtimePlan.Runtime {
		if dep == identity {
			continue
		}
		tarPaths = append(tarPaths, b.Store.ProvidesPath(dep))
	}
	if err := archive.ConcatUnpack(tarPaths, scratch); err != nil {
		return xerrors.Errorf("seeding test environment for %s: %w", identity, err)
	}
	if err := archive.UnpackFile(b.Store.ProvidesPath(identity), scratch); err != nil {
		return xerrors.Errorf("seeding test environment for %s with its own artifact: %w", identity, err)
	}
	if err := archive.CopyTree(pkg.SourceDir, filepath.Join(scratch, srcSubdir)); err != nil {
		return xerrors.Errorf("copying source for %s tests: %w", identity, err)
	}
	if err := os.Remove(filepath.Join(scratch, srcSubdir, "build.sh")); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("excluding build.sh from %s test environment: %w", identity, err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.Pack(pw, scratch))
	}()

	envID := "pkgtest-" + identity
	if err := b.Runner.Create(ctx, envID, pr); err != nil {
		return xerrors.Errorf("creating test environment for %s: %w", identity, err)
	}
	defer b.Runner.Purge(ctx, envID)

	status, err := b.Runner.Run(ctx, envID, []string{"sh", "-c", `cd "$HOME/` + srcSubdir + `" && ./test.sh`}, nil, opts.Stdio)
	if err != nil {
		return xerrors.Errorf("testing %s: %w", identity, err)
	}
	if !status.Success() {
		return &cubicleerr.TestFailed{Name: identity, ExitCode: status.Code}
	}
	return nil
}
