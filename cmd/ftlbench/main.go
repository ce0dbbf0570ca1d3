// Command ftlbench runs self-checking workloads on the fiber scheduler.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"go.uber.org/automaxprocs/maxprocs"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "ftlbench",
		Usage: "Benchmark the fiber task scheduler",
		Commands: []*cli.Command{
			RunCommand(),
			ConfigCommand(),
			WorkloadsCommand(),
		},
		Writer:    os.Stdout,
		ErrWriter: os.Stderr,
	}
}

func main() {
	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}))
	defer undo()
	if err != nil {
		fmt.Fprintf(os.Stderr, "maxprocs: %v\n", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
