package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
)

func main() {
	if err := newApp().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:    "envbridge",
		Version: Version,
		Usage:   "Provision an isolated interpreter environment and run operations inside it",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML file overriding the built-in configuration",
				Sources: cli.EnvVars(ConfigEnvVar),
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (trace, debug, info, warn, error); overrides the config file",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text or json); overrides the config file",
			},
		},
		DisableSliceFlagSeparator: true,
		Before:                    setup,
		After:                     teardown,
		Commands: []*cli.Command{
			provisionCmd(),
			runCmd(),
			serveCmd(),
			statusCmd(),
			validateCmd(),
			dispatchCmd(),
			versionCmd(),
		},
	}
}
