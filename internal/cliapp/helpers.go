package cliapp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
)

// errAborted marks a user decline of a confirmation prompt, exiting 1
// without printing a traceback (spec.md §6 "commands that invoke
// click.confirm(..., abort=True) use code 1 on decline").
var errAborted = errors.New("aborted")

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return nil
}

// confirm prompts interactively via huh (the teacher's own interactive-
// prompt dependency, already used for setup wizards), defaulting to
// "no" when stdin isn't a terminal so a non-interactive invocation never
// hangs.
func confirm(cmd *cobra.Command, question string) bool {
	if !stdinIsTerminal() {
		return false
	}
	var ok bool
	err := huh.NewConfirm().
		Title(question).
		Value(&ok).
		Run()
	if err != nil {
		return false
	}
	return ok
}

// disambiguate asks which of candidates was meant, preferring huh's
// fancy select but falling back to a plain readline prompt when huh
// can't run (dumb terminal, no TUI support) the same way the teacher's
// chat REPL falls back from readline to bare stdin. Returns "" if
// stdin isn't a terminal at all.
func disambiguate(question string, candidates []string) string {
	if !stdinIsTerminal() {
		return ""
	}
	opts := make([]huh.Option[string], 0, len(candidates))
	for _, c := range candidates {
		opts = append(opts, huh.NewOption(c, c))
	}
	var choice string
	if err := huh.NewSelect[string]().
		Title(question).
		Options(opts...).
		Value(&choice).
		Run(); err == nil {
		return choice
	}

	rl, err := readline.New(fmt.Sprintf("%s [1-%d]: ", question, len(candidates)))
	if err != nil {
		return ""
	}
	defer rl.Close()
	for i, c := range candidates {
		fmt.Printf("  %d) %s\n", i+1, c)
	}
	line, err := rl.Readline()
	if err != nil {
		return ""
	}
	n, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || n < 1 || n > len(candidates) {
		return ""
	}
	return candidates[n-1]
}
