package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/openexhibit/curator/cmd"
)

const version = "0.1.0"

func main() {
	root := cmd.NewRootCmd()

	// fang wraps the CLI with completions, manpages, --version and
	// signal-driven context cancellation, which is what aborts
	// in-flight saves on Ctrl+C.
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, os.Kill),
	); err != nil {
		os.Exit(1)
	}
}
