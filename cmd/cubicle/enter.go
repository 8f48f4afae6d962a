package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/compose"
	"github.com/ongardie/cubicle/internal/cubicleerr"
)

const enterHelp = `cubicle enter NAME

Start an interactive shell inside an environment.
`

// sandboxEnv returns the CUBICLE/SANDBOX environment variables that enter
// and exec pass to Runner.Run (SANDBOX is a legacy alias for CUBICLE). The
// composer's init sequence runs without them.
func sandboxEnv(name string) map[string]string {
	return map[string]string{"CUBICLE": name, "SANDBOX": name}
}

func cmdEnter(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("enter", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, enterHelp); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: cubicle enter NAME")
	}

	a, err := newApp()
	if err != nil {
		return err
	}
	return a.enter(ctx, fs.Arg(0))
}

func (a *app) enter(ctx context.Context, name string) error {
	if !a.store.EnvExists(name) {
		return &cubicleerr.NoSuchEnv{Name: name}
	}
	if !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		fmt.Fprintln(os.Stderr, "warning: stdin is not a terminal; consider cubicle exec instead")
	}

	guard, err := compose.AcquireRunning(a.store, name)
	if err != nil {
		return err
	}
	defer guard.Release()

	status, err := a.runner.Run(ctx, name,
		[]string{"sh", "-c", `export TMPDIR="$HOME/tmp"; exec sh -l`},
		sandboxEnv(name), stdioToTerminal())
	if err != nil {
		return xerrors.Errorf("entering %s: %w", name, err)
	}
	if !status.Success() {
		os.Exit(status.Code)
	}
	return nil
}
