package main

import (
	"context"
	"fmt"
	"os"

	"github.com/atlanticdynamic/envbridge/internal/worker"
	"github.com/robbyt/go-supervisor/supervisor"
	"github.com/urfave/cli/v3"
)

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Provision the environment, then answer JSON-line requests from stdin on stdout",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "root",
				Aliases: []string{"r"},
				Usage:   "Environment root directory (defaults to the configured root)",
			},
			&cli.IntFlag{
				Name:  "depth",
				Usage: "Maximum number of requests waiting for the environment",
				Value: 16,
			},
		},
		Action: serveAction,
	}
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	st, err := stateFrom(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if err := st.requireStdoutFree(); err != nil {
		return cli.Exit(err, 1)
	}
	client, err := st.newClient(nil)
	if err != nil {
		return cli.Exit(err, 1)
	}
	if _, err := client.EnsureReady(ctx, cmd.String("root")); err != nil {
		return cli.Exit(fmt.Errorf("provisioning failed: %w", err), 1)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue, err := worker.NewQueue(client,
		worker.WithLogHandler(st.handler),
		worker.WithDepth(int(cmd.Int("depth"))),
	)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to create queue: %w", err), 1)
	}
	server, err := worker.NewServer(queue, os.Stdin, cmd.Root().Writer, st.handler)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to create server: %w", err), 1)
	}

	// Stdin closing ends the session.
	go func() {
		select {
		case <-server.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	super, err := supervisor.New(
		supervisor.WithRunnables(queue, server),
		supervisor.WithLogHandler(st.handler),
		supervisor.WithContext(runCtx),
	)
	if err != nil {
		return cli.Exit(fmt.Errorf("failed to create supervisor: %w", err), 1)
	}
	if err := super.Run(); err != nil {
		return cli.Exit(fmt.Errorf("serve failed: %w", err), 1)
	}

	st.logger.Info("Serve session finished")
	return nil
}
