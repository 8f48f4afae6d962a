package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"slices"

	"github.com/ongardie/cubicle/internal/build"
	"github.com/ongardie/cubicle/internal/resolve"
)

const packageHelp = `cubicle package list [-format=default|json|names]
cubicle package update NAME... [-clean] [-skip-deps]

list enumerates known packages; update forces a rebuild.
`

func cmdPackage(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, packageHelp)
		return fmt.Errorf("usage: cubicle package list|update ...")
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		return cmdPackageList(ctx, rest)
	case "update":
		return cmdPackageUpdate(ctx, rest)
	default:
		return fmt.Errorf("unknown package subcommand %q", sub)
	}
}

type packageInfo struct {
	Name     string `json:"name"`
	Identity string `json:"identity"`
	Origin   string `json:"origin"`
}

func cmdPackageList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("package list", flag.ExitOnError)
	format := fs.String("format", "default", "output format: default, json, or names")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	var infos []packageInfo
	for _, pkg := range a.idx.List() {
		origin := pkg.Origin.RootPath
		if pkg.Origin.BuiltIn {
			origin = "built-in: " + origin
		}
		infos = append(infos, packageInfo{Name: pkg.Name, Identity: pkg.Identity(), Origin: origin})
	}

	switch *format {
	case "names":
		for _, info := range infos {
			fmt.Println(info.Name)
		}
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(infos)
	case "default":
		for _, info := range infos {
			fmt.Printf("%s\t%s\n", info.Name, info.Origin)
		}
	default:
		return fmt.Errorf("unknown -format %q", *format)
	}
	return nil
}

func cmdPackageUpdate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("package update", flag.ExitOnError)
	clean := fs.Bool("clean", false, "also rebuild dependencies the oracle considers fresh")
	skipDeps := fs.Bool("skip-deps", false, "rebuild only the named packages, not their stale dependencies")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: cubicle package update NAME... [-clean] [-skip-deps]")
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	plan, err := resolve.Resolve(a.idx, fs.Args(), resolve.Builder)
	if err != nil {
		return err
	}
	opts := build.Options{Clean: *clean, Stdio: stdioToTerminal()}

	if !*skipDeps {
		deps := *plan
		deps.Build = nil
		for _, identity := range plan.Build {
			if !slices.Contains(fs.Args(), identity) {
				deps.Build = append(deps.Build, identity)
			}
		}
		if err := a.builder.Ensure(ctx, &deps, opts); err != nil {
			return err
		}
	}

	for _, ref := range fs.Args() {
		pkg, err := a.idx.Resolve(ref)
		if err != nil {
			return err
		}
		if err := a.builder.Build(ctx, pkg.Identity(), plan, opts); err != nil {
			return err
		}
	}
	return nil
}
