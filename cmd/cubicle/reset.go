package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/ongardie/cubicle/internal/build"
)

const resetHelp = `cubicle reset NAME... [-flags]

Recompose home, preserving work. Without -packages, the environment's
previous packages.txt is reused.
`

func cmdReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	packages := fs.String("packages", "", "comma-separated package set (default: reuse previous)")
	fs.Usage = func() { fmt.Fprint(os.Stderr, resetHelp); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: cubicle reset NAME... [-packages P1,P2]")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	var refs []string
	if *packages != "" {
		refs = splitPackages(*packages)
	}

	opts := build.Options{Stdio: stdioToTerminal()}
	for _, name := range fs.Args() {
		if err := a.composer.ResetEnv(ctx, name, refs, opts); err != nil {
			return err
		}
	}
	return nil
}
