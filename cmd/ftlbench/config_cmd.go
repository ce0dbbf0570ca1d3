package main

import (
	"fmt"

	"github.com/urfave/cli/v2"
)

func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Print the effective settings as TOML",

		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "TOML settings file"},
		},

		Action: ConfigAction,
	}
}

func ConfigAction(c *cli.Context) error {
	settings, err := resolveSettings(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	return writeSettings(c.App.Writer, settings)
}

func WorkloadsCommand() *cli.Command {
	return &cli.Command{
		Name:  "workloads",
		Usage: "List the built-in workloads",

		Action: func(c *cli.Context) error {
			for _, name := range workloadNames() {
				fmt.Fprintf(c.App.Writer, "%-18s %s (default size %d)\n", name, workloads[name].Description, workloads[name].DefaultSize)
			}
			return nil
		},
	}
}
