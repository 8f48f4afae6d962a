package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
)

const listHelp = `cubicle list [-flags]

List environments with their home/work paths and package set. Whether an
environment is currently running is not shown.
`

type envInfo struct {
	Name     string   `json:"name"`
	Home     string   `json:"home"`
	Work     string   `json:"work"`
	Packages []string `json:"packages"`
}

func cmdList(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	format := fs.String("format", "default", "output format: default, json, or names")
	fs.Usage = func() { fmt.Fprint(os.Stderr, listHelp); fs.PrintDefaults() }
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := newApp()
	if err != nil {
		return err
	}

	names, err := a.store.Environments()
	if err != nil {
		return err
	}

	infos := make([]envInfo, 0, len(names))
	for _, name := range names {
		refs, err := a.store.ReadPackagesTxt(name)
		if err != nil {
			return err
		}
		infos = append(infos, envInfo{
			Name:     name,
			Home:     a.store.HomeDir(name),
			Work:     a.store.WorkDir(name),
			Packages: refs,
		})
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
			fmt.Printf("%s\n\thome: %s\n\twork: %s\n\tpackages: %v\n", info.Name, info.Home, info.Work, info.Packages)
		}
	default:
		return fmt.Errorf("unknown -format %q", *format)
	}
	return nil
}
