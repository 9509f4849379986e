package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/urfave/cli/v3"
)

func provisionCmd() *cli.Command {
	return &cli.Command{
		Name:  "provision",
		Usage: "Create the isolated environment, or resume an interrupted setup",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Environment root directory (defaults to the configured root)",
			},
			&cli.BoolFlag{
				Name:    "quiet",
				Aliases: []string{"q"},
				Usage:   "Suppress provisioning logs unless the attempt fails",
			},
		},
		Action: provisionAction,
	}
}

func provisionAction(ctx context.Context, cmd *cli.Command) error {
	st, err := stateFrom(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}

	var handler slog.Handler
	if cmd.Bool("quiet") {
		handler = slog.NewTextHandler(io.Discard, nil)
	}
	client, err := st.newClient(handler)
	if err != nil {
		return cli.Exit(err, 1)
	}

	desc, err := client.EnsureReady(ctx, cmd.String("root"))
	if err != nil {
		if attempt := client.LastAttempt(); attempt != nil && cmd.Bool("quiet") {
			if playErr := attempt.PlaybackLogs(st.handler); playErr != nil {
				st.logger.Warn("Failed to replay provisioning logs", "error", playErr)
			}
		}
		return cli.Exit(fmt.Errorf("provisioning failed: %w", err), 1)
	}

	w := cmd.Root().Writer
	fmt.Fprintf(w, "Environment ready at %s\n", desc.Root)
	fmt.Fprintln(w, descriptorTree(desc))
	return nil
}
