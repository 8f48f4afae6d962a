// Package compose implements the environment composer: the
// new/reset/tmp/purge state transitions, the standard init sequence run
// inside a freshly composed sandbox, and the large-file (physical-copy,
// never hardlink) policy that keeps a home directory "replaceable at any
// time".
package compose

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"os"

	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/archive"
	"github.com/ongardie/cubicle/internal/build"
	"github.com/ongardie/cubicle/internal/cubicleerr"
	"github.com/ongardie/cubicle/internal/pkgindex"
	"github.com/ongardie/cubicle/internal/resolve"
	"github.com/ongardie/cubicle/internal/runner"
	"github.com/ongardie/cubicle/internal/store"
)

// scratchDirs are the conventional home-relative directories the standard
// init sequence guarantees exist before any user script runs.
var scratchDirs = []string{".dev-init", "bin", "opt", "tmp", "w"}

// Composer drives new/reset/tmp/purge against one Store, Index, Runner, and
// Builder (to ensure the packages a composition needs are Fresh first).
type Composer struct {
	Store   *store.Store
	Index   *pkgindex.Index
	Runner  runner.Runner
	Builder *build.Builder
}

func New(s *store.Store, idx *pkgindex.Index, r runner.Runner, b *build.Builder) *Composer {
	return &Composer{Store: s, Index: idx, Runner: r, Builder: b}
}

// NewEnv implements the new() transition: env must not already exist.
func (c *Composer) NewEnv(ctx context.Context, env string, refs []string, opts build.Options) error {
	unlock, err := c.Store.LockEnv(env)
	if err != nil {
		return xerrors.Errorf("locking %s: %w", env, err)
	}
	defer unlock()

	if c.Store.EnvExists(env) {
		return &cubicleerr.EnvAlreadyExists{Name: env}
	}

	plan, err := resolve.Resolve(c.Index, refs, resolve.Interactive)
	if err != nil {
		return xerrors.Errorf("resolving %s: %w", env, err)
	}
	if err := c.Builder.Ensure(ctx, plan, opts); err != nil {
		return err
	}

	if err := os.MkdirAll(c.Store.WorkDir(env), 0755); err != nil {
		return &cubicleerr.IOError{Path: c.Store.WorkDir(env), Detail: "creating work directory", Err: err}
	}
	if err := c.Store.WritePackagesTxt(env, refs); err != nil {
		return err
	}

	return c.compose(ctx, env, plan, opts)
}

// ResetEnv implements the reset() transition: env must already exist. If
// refs is nil, the previous packages.txt is reused unchanged; otherwise it
// is overwritten. Only home is rebuilt; work is untouched.
func (c *Composer) ResetEnv(ctx context.Context, env string, refs []string, opts build.Options) error {
	unlock, err := c.Store.LockEnv(env)
	if err != nil {
		return xerrors.Errorf("locking %s: %w", env, err)
	}
	defer unlock()

	if !c.Store.EnvExists(env) {
		return &cubicleerr.NoSuchEnv{Name: env}
	}

	if refs == nil {
		refs, err = c.Store.ReadPackagesTxt(env)
		if err != nil {
			return err
		}
	} else if err := c.Store.WritePackagesTxt(env, refs); err != nil {
		return err
	}

	plan, err := resolve.Resolve(c.Index, refs, resolve.Interactive)
	if err != nil {
		return xerrors.Errorf("resolving %s: %w", env, err)
	}
	if err := c.Builder.Ensure(ctx, plan, opts); err != nil {
		return err
	}

	return c.compose(ctx, env, plan, opts)
}

// TmpEnv implements tmp(): allocate a random unused name of the form
// "tmp-<random>" and create a fresh environment under it.
func (c *Composer) TmpEnv(ctx context.Context, refs []string, opts build.Options) (string, error) {
	for attempt := 0; attempt < 10; attempt++ {
		name, err := randomTmpName()
		if err != nil {
			return "", err
		}
		if c.Store.EnvExists(name) {
			continue
		}
		if err := c.NewEnv(ctx, name, refs, opts); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", xerrors.New("could not allocate an unused tmp environment name")
}

func randomTmpName() (string, error) {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", xerrors.Errorf("generating tmp name: %w", err)
	}
	return "tmp-" + hex.EncodeToString(b[:]), nil
}

// PurgeEnv implements purge(): deletes home, work, and sandbox. Absent
// environments are not an error (idempotent); a RUNNING environment
// refuses with EnvBusy.
func (c *Composer) PurgeEnv(ctx context.Context, env string) error {
	unlock, err := c.Store.LockEnv(env)
	if err != nil {
		return xerrors.Errorf("locking %s: %w", env, err)
	}
	defer unlock()

	if !c.Store.EnvExists(env) {
		return nil
	}

	running, err := c.isRunning(ctx, env)
	if err != nil {
		return err
	}
	if running {
		return &cubicleerr.EnvBusy{Name: env}
	}

	if err := c.Runner.Purge(ctx, env); err != nil {
		return err
	}
	if err := os.RemoveAll(c.Store.WorkDir(env)); err != nil {
		return &cubicleerr.IOError{Path: c.Store.WorkDir(env), Detail: "purging work directory", Err: err}
	}
	if err := os.RemoveAll(c.Store.HomeDir(env)); err != nil {
		return &cubicleerr.IOError{Path: c.Store.HomeDir(env), Detail: "purging home directory", Err: err}
	}
	return nil
}

// isRunning has no dedicated Runner signal for "a shell is attached right
// now"; cubicle treats an environment as RUNNING only while an enter/exec
// invocation of this process holds it, which is tracked by a lock file
// rather than by asking the Runner. See RunningGuard.
func (c *Composer) isRunning(ctx context.Context, env string) (bool, error) {
	return isHeld(runningLockPath(c.Store, env))
}

// compose (re)builds env's home: physically copies the runtime plan's
// provides.tars into a scratch tree (dependency order, later wins), hands
// that tree to the Runner as the sandbox's seed, then runs the standard
// init sequence inside it.
func (c *Composer) compose(ctx context.Context, env string, plan *resolve.Plan, opts build.Options) error {
	exists, err := c.Runner.Exists(ctx, env)
	if err != nil {
		return err
	}
	if exists {
		if err := c.Runner.Purge(ctx, env); err != nil {
			return xerrors.Errorf("recomposing %s: %w", env, err)
		}
	}

	seed, cleanup, err := c.buildHomeSeed(plan)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := c.Runner.Create(ctx, env, seed); err != nil {
		return xerrors.Errorf("creating sandbox for %s: %w", env, err)
	}

	return c.runInitSequence(ctx, env, opts)
}

// buildHomeSeed materializes the merged runtime provides trees into a
// scratch directory via archive.ConcatUnpack (large-file policy: physical
// copy/reflink only, never hard or soft links to another environment's
// files, the same invariant archive.CopyTree and archive.Unpack enforce
// individually), then packs it as a single uncompressed tar stream.
func (c *Composer) buildHomeSeed(plan *resolve.Plan) (io.Reader, func(), error) {
	scratch, err := os.MkdirTemp("", "cubicle-compose-seed-")
	if err != nil {
		return nil, nil, xerrors.Errorf("staging home: %w", err)
	}
	cleanup := func() { os.RemoveAll(scratch) }

	var tarPaths []string
	for _, identity := range plan.Runtime {
		tarPaths = append(tarPaths, c.Store.ProvidesPath(identity))
	}
	if err := archive.ConcatUnpack(tarPaths, scratch); err != nil {
		cleanup()
		return nil, nil, xerrors.Errorf("seeding home: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(archive.Pack(pw, scratch))
	}()
	return pr, cleanup, nil
}

// runInitSequence implements the standard init sequence: ensure scratch
// directories exist, source .profile if present, run every executable
// under .dev-init in lexicographic order, then run w/update.sh as a
// warning (not an abort) on failure.
func (c *Composer) runInitSequence(ctx context.Context, env string, opts build.Options) error {
	var mkdirs []string
	for _, d := range scratchDirs {
		mkdirs = append(mkdirs, "mkdir -p "+d)
	}
	status, err := c.Runner.Run(ctx, env, []string{"sh", "-c", joinAnd(mkdirs)}, nil, opts.Stdio)
	if err != nil {
		return xerrors.Errorf("initializing %s: %w", env, err)
	}
	if !status.Success() {
		return xerrors.Errorf("initializing %s: scratch directory setup exited %d", env, status.Code)
	}

	script := `
if [ -f .profile ]; then . ./.profile; fi
if [ -d .dev-init ]; then
  for f in $(find .dev-init -maxdepth 1 -type f -perm -u+x | sort); do
    "$f"
  done
fi
if [ -x w/update.sh ]; then
  w/update.sh || echo "update.sh failed (continuing)" 1>&2
fi
`
	status, err = c.Runner.Run(ctx, env, []string{"sh", "-c", script}, nil, opts.Stdio)
	if err != nil {
		return xerrors.Errorf("running init sequence for %s: %w", env, err)
	}
	if !status.Success() {
		return xerrors.Errorf("init sequence for %s exited %d", env, status.Code)
	}
	return nil
}

func joinAnd(cmds []string) string {
	out := ""
	for i, c := range cmds {
		if i > 0 {
			out += " && "
		}
		out += c
	}
	return out
}
