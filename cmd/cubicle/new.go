package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/ongardie/cubicle/internal/build"
	"github.com/ongardie/cubicle/internal/runner"
)

const newHelp = `cubicle new NAME [-flags]

Create a fresh environment named NAME.
`

func splitPackages(s string) []string {
	if s == "" {
		return nil
	}
	var refs []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			refs = append(refs, p)
		}
	}
	return refs
}

func stdioToTerminal() runner.Stdio {
	return runner.Stdio{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

func cmdNew(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("new", flag.ExitOnError)
	packages := fs.String("packages", "", "comma-separated package set")
	enter := fs.Bool("enter", false, "enter the environment after creating it")
	fs.Usage = func() { fmt.Fprint(os.Stderr, newHelp); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: cubicle new NAME [-packages P1,P2] [-enter]")
	}
	name := fs.Arg(0)

	a, err := newApp()
	if err != nil {
		return err
	}

	opts := build.Options{Stdio: stdioToTerminal()}
	if err := a.composer.NewEnv(ctx, name, splitPackages(*packages), opts); err != nil {
		return err
	}

	if *enter {
		return a.enter(ctx, name)
	}
	return nil
}
