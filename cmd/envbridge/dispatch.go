package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/atlanticdynamic/envbridge/internal/bridge"
	"github.com/atlanticdynamic/envbridge/internal/config"
	"github.com/atlanticdynamic/envbridge/internal/diskspace"
	"github.com/atlanticdynamic/envbridge/internal/dispatch"
	"github.com/atlanticdynamic/envbridge/internal/fetch"
	"github.com/atlanticdynamic/envbridge/internal/logging"
	"github.com/atlanticdynamic/envbridge/internal/logging/writers"
	"github.com/atlanticdynamic/envbridge/internal/platform"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
	"github.com/urfave/cli/v3"
)

// dispatchCmd is the entry point the bridge invokes inside the activated
// environment. Everything after "dispatch" is handed to the dispatcher
// untouched; stdout carries only the result line.
func dispatchCmd() *cli.Command {
	return &cli.Command{
		Name:            "dispatch",
		Usage:           "Run a named operation (invoked by the bridge inside the environment)",
		ArgsUsage:       "<operation> [--key value ...]",
		SkipFlagParsing: true,
		Action:          dispatchAction,
	}
}

func dispatchAction(ctx context.Context, cmd *cli.Command) error {
	st, err := stateFrom(ctx)
	if err != nil {
		return cli.Exit(err, 1)
	}

	root := os.Getenv(bridge.RootEnvVar)
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to resolve environment root: %w", err), 1)
		}
	}

	if err := st.requireStdoutFree(); err != nil {
		return cli.Exit(err, 1)
	}

	handler := st.handler
	if logPath := dispatchLogPath(root, st.cfg.Logging.DispatchLog); logPath != "" {
		file, err := writers.NewRotatingFile(logPath)
		if err != nil {
			return cli.Exit(fmt.Errorf("failed to open dispatch log: %w", err), 1)
		}
		defer func() { _ = file.Close() }()
		handler = logging.NewHandler(logging.Format(st.cfg.Logging.Format), st.cfg.Logging.Level, file)
	}

	guard := diskspace.New(diskspace.WithLogger(slog.New(handler).WithGroup("diskspace")))
	d, err := newDispatcher(st.cfg, root, os.Getenv("VIRTUAL_ENV"), guard, handler,
		cmd.Root().Writer, cmd.Root().ErrWriter)
	if err != nil {
		return cli.Exit(err, 1)
	}

	if code := d.Run(ctx, cmd.Args().Slice()); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

// dispatchLogPath resolves the dispatcher's log file relative to root. An
// empty setting disables the file log.
func dispatchLogPath(root, setting string) string {
	if setting == "" {
		return ""
	}
	if filepath.IsAbs(setting) {
		return setting
	}
	return filepath.Join(root, setting)
}

// newDispatcher registers the built-in operations. venvDir is the active
// environment; when empty the generator falls back to the base interpreter.
// fetch_asset checks guard for the configured space budget before downloading.
func newDispatcher(
	cfg *config.Config,
	root, venvDir string,
	guard *diskspace.Guard,
	handler slog.Handler,
	stdout, stderr io.Writer,
) (*dispatch.Dispatcher, error) {
	logger := slog.New(handler)

	interpreter := cfg.Environment.BaseInterpreter
	if venvDir != "" {
		layout, err := platform.NewLayout(runtime.GOOS, venvDir)
		if err != nil {
			return nil, err
		}
		interpreter = layout.Interpreter()
	}

	fetcher := fetch.New(
		fetch.WithLogger(logger.WithGroup("fetch")),
		fetch.WithChunkSize(cfg.Asset.ChunkSize),
		fetch.WithSpaceCheck(guard, cfg.Space.RequiredBytes, cfg.Space.BufferBytes),
		fetch.WithProgress(fetch.LogProgress(logger.WithGroup("fetch"), 0.05)),
	)
	generator := &dispatch.CommandGenerator{
		Command:     cfg.Generator.Command,
		Interpreter: interpreter,
		Root:        root,
		Runner:      procexec.NewExecRunner(logger),
		Logger:      logger.WithGroup("dispatch.CommandGenerator"),
	}

	return dispatch.New(
		dispatch.WithLogger(logger.WithGroup("dispatch.Dispatcher")),
		dispatch.WithOutput(stdout, stderr),
		dispatch.WithOperations(
			dispatch.FetchAsset(fetcher),
			dispatch.RunGeneration(generator),
		),
	)
}
