package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/urfave/cli/v3"
)

func runCmd() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run one operation inside the environment, provisioning it first if needed",
		ArgsUsage: "<operation>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "arg",
				Aliases: []string{"a"},
				Usage:   "Operation argument as key=value (repeatable)",
			},
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Environment root directory (defaults to the configured root)",
			},
		},
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return cli.Exit("exactly one operation name is required", 1)
	}
	op := cmd.Args().First()

	args, err := parseArgs(cmd.StringSlice("arg"))
	if err != nil {
		return cli.Exit(err, 1)
	}

	st, err := stateFrom(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	client, err := st.newClient(nil)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if _, err := client.EnsureReady(ctx, cmd.String("root")); err != nil {
		return cli.Exit(fmt.Errorf("provisioning failed: %w", err), 1)
	}

	result, err := client.Run(ctx, op, args)
	if err != nil {
		return cli.Exit(fmt.Errorf("operation %s failed: %w", op, err), 1)
	}
	fmt.Fprintln(cmd.Root().Writer, result)
	return nil
}

// parseArgs turns key=value pairs into an argument map. Values may contain
// further '=' characters; a repeated key keeps the last value.
func parseArgs(pairs []string) (map[string]string, error) {
	args := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q: expected key=value", pair)
		}
		args[key] = value
	}
	return args, nil
}
