package main

import (
	"context"
	"fmt"
	"os"
)

const completionsHelp = `cubicle completions SHELL

Emit a completion script for SHELL (bash, zsh, or fish) to stdout.
`

var verbNames = []string{
	"list", "new", "reset", "tmp", "purge", "enter", "exec", "package", "completions",
}

const bashCompletion = `_cubicle() {
	local cur="${COMP_WORDS[COMP_CWORD]}"
	COMPREPLY=($(compgen -W "%s" -- "$cur"))
}
complete -F _cubicle cubicle
`

const zshCompletion = `#compdef cubicle
_arguments '1: :(%s)'
`

const fishCompletion = `complete -c cubicle -f -n '__fish_use_subcommand' -a '%s'
`

func cmdCompletions(ctx context.Context, args []string) error {
	if len(args) != 1 {
		fmt.Fprint(os.Stderr, completionsHelp)
		return fmt.Errorf("usage: cubicle completions SHELL")
	}

	joined := ""
	for i, v := range verbNames {
		if i > 0 {
			joined += " "
		}
		joined += v
	}

	var tmpl string
	switch args[0] {
	case "bash":
		tmpl = bashCompletion
	case "zsh":
		tmpl = zshCompletion
	case "fish":
		tmpl = fishCompletion
	default:
		return fmt.Errorf("unsupported shell %q: want bash, zsh, or fish", args[0])
	}
	fmt.Printf(tmpl, joined)
	return nil
}
