package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/ongardie/cubicle/internal/compose"
	"github.com/ongardie/cubicle/internal/cubicleerr"
)

const execHelp = `cubicle exec NAME CMD...

Run a command inside an environment.
`

func cmdExec(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, execHelp); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("usage: cubicle exec NAME CMD...")
	}
	name := fs.Arg(0)
	command := fs.Args()[1:]

	a, err := newApp()
	if err != nil {
		return err
	}
	if !a.store.EnvExists(name) {
		return &cubicleerr.NoSuchEnv{Name: name}
	}

	guard, err := compose.AcquireRunning(a.store, name)
	if err != nil {
		return err
	}
	defer guard.Release()

	status, err := a.runner.Run(ctx, name, command, sandboxEnv(name), stdioToTerminal())
	if err != nil {
		return xerrors.Errorf("running in %s: %w", name, err)
	}
	if !status.Success() {
		os.Exit(status.Code)
	}
	return nil
}
