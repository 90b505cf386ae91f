// Package main provides the restworkd CLI entrypoint: the worker process
// that hosts one or more partition processors, and a read-only inspector
// over the status snapshots a running worker emits.
//
// Usage:
//
//	restworkd <command> [options]
//
// serve hosts the configured partitions until signaled to stop. inspect
// reads the snapshot file a running (or previously run) serve process
// wrote and renders it; it never contacts a live worker process directly.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

// commit is set via ldflags at build time.
var commit = "unknown"

// version is the restworkd release version, kept in lockstep with the
// rest of this module.
const version = "0.1.0"

func main() {
	app := &cli.App{
		Name:           "restworkd",
		Usage:          "Durable-execution partition worker",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			serveCommand(),
			inspectCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(1)
	}
}

// exitErrHandler preserves exit codes carried by cli.Exit errors, falling
// back to 1 for anything unwrapped.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}

	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		msg := exitCoder.Error()
		if msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}

	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
