package cliapp

import (
	"os"

	"github.com/mattn/go-isatty"
)

// stdoutIsTerminal gates color and progress-bar output: piped or
// redirected stdout (CI logs, --machine-readable consumers) gets plain
// text instead.
func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// stdinIsTerminal gates interactive prompts: confirm() must never hang
// waiting on stdin that isn't actually a terminal.
func stdinIsTerminal() bool {
	return isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
}
