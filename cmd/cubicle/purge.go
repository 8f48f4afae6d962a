package main

import (
	"context"
	"flag"
	"fmt"
	"os"
)

const purgeHelp = `cubicle purge NAME... [-flags]

Delete environment(s). Missing environments are not an error.
`

func cmdPurge(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("purge", flag.ExitOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, purgeHelp); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: cubicle purge NAME...")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	for _, name := range fs.Args() {
		if err := a.composer.PurgeEnv(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
