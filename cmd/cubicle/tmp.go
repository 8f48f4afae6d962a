package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ongardie/cubicle/internal/build"
)

const tmpHelp = `cubicle tmp [-flags]

Create a random-named environment and enter it.
`

func cmdTmp(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("tmp", flag.ExitOnError)
	packages := fs.String("packages", "", "comma-separated package set")
	fs.Usage = func() { fmt.Fprint(os.Stderr, tmpHelp); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	opts := build.Options{Stdio: stdioToTerminal()}
	name, err := a.composer.TmpEnv(ctx, splitPackages(*packages), opts)
	if err != nil {
		return err
	}

	return a.enter(ctx, name)
}
