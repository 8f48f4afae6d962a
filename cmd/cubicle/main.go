// Command cubicle manages lightweight, isolated development environments
// on a single host. See `cubicle help` for the command surface.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle"
	"github.com/ongardie/cubicle/internal/build"
	"github.com/ongardie/cubicle/internal/compose"
	"github.com/ongardie/cubicle/internal/config"
	"github.com/ongardie/cubicle/internal/pkgindex"
	"github.com/ongardie/cubicle/internal/runner"
	"github.com/ongardie/cubicle/internal/store"
	"github.com/ongardie/cubicle/internal/xdg"
)

var debug = flag.Bool("debug", false, "format error messages with additional detail")

// app bundles the wiring every verb needs: one Store, Index, Runner,
// Builder, and Composer per invocation (never a singleton, per
// internal/store's design notes).
type app struct {
	cfg      config.Config
	store    *store.Store
	idx      *pkgindex.Index
	runner   runner.Runner
	builder  *build.Builder
	composer *compose.Composer
}

func newApp() (*app, error) {
	cfg, err := config.Load(xdg.ConfigFile())
	if err != nil {
		return nil, err
	}

	s := store.New(xdg.CacheHome, xdg.DataHome)

	idx, err := pkgindex.Load([]string{s.PackagesDir(), cfg.BuiltinPackageDir})
	if err != nil {
		return nil, err
	}

	r, err := runner.New(cfg, s)
	if err != nil {
		return nil, err
	}

	b := build.New(s, idx, r, cfg.AutoUpdate)
	c := compose.New(s, idx, r, b)

	return &app{cfg: cfg, store: s, idx: idx, runner: r, builder: b, composer: c}, nil
}

type verb struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	verbs := map[string]verb{
		"list":        {cmdList},
		"new":         {cmdNew},
		"reset":       {cmdReset},
		"tmp":         {cmdTmp},
		"purge":       {cmdPurge},
		"enter":       {cmdEnter},
		"exec":        {cmdExec},
		"package":     {cmdPackage},
		"completions": {cmdCompletions},
	}

	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}
	verbName, args := args[0], args[1:]

	if verbName == "help" {
		usage()
		return nil
	}

	v, ok := verbs[verbName]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verbName)
		usage()
		os.Exit(2)
	}

	ctx, cancel := cubicle.InterruptibleContext()
	defer cancel()

	if err := v.fn(ctx, args); err != nil {
		if *debug {
			return xerrors.Errorf("%s: %+v", verbName, err)
		}
		return xerrors.Errorf("%s: %v", verbName, err)
	}
	return nil
}

func usage() {
	fmt.Fprintf(os.Stderr, `cubicle [-flags] <command> [-flags] <args>

Commands:
	list                list environments
	new NAME            create a fresh environment
	reset NAME...       recompose home, preserve work
	tmp                 create a random-named environment and enter it
	purge NAME...       delete environment(s)
	enter NAME          start an interactive shell in an environment
	exec NAME CMD...    run a command inside an environment
	package list        list known packages
	package update NAME...   force rebuild of one or more packages
	completions SHELL   emit a shell completion script

Run "cubicle <command> -help" for flags specific to a command.
`)
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
