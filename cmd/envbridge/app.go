package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/atlanticdynamic/envbridge/internal/config"
	"github.com/atlanticdynamic/envbridge/internal/fetch"
	"github.com/atlanticdynamic/envbridge/internal/host"
	"github.com/atlanticdynamic/envbridge/internal/logging"
	"github.com/atlanticdynamic/envbridge/internal/logging/writers"
	"github.com/urfave/cli/v3"
)

// ConfigEnvVar carries the config path to child processes, so a dispatcher
// started by the bridge reads the same file as its host.
const ConfigEnvVar = "ENVBRIDGE_CONFIG"

var (
	errNoAppState     = errors.New("application state not initialized")
	errStdoutReserved = errors.New("stdout is reserved for results")
)

type appKey struct{}

// appState is built once by the root Before hook and shared by every
// subcommand.
type appState struct {
	cfg     *config.Config
	handler slog.Handler
	logger  *slog.Logger
	logOut  io.Writer
}

func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	configPath := cmd.String("config")
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return ctx, cli.Exit(fmt.Errorf("failed to resolve config path: %w", err), 1)
		}
		configPath = abs
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return ctx, cli.Exit(fmt.Errorf("failed to load config: %w", err), 1)
	}
	if configPath != "" {
		if err := os.Setenv(ConfigEnvVar, configPath); err != nil {
			return ctx, cli.Exit(fmt.Errorf("failed to export config path: %w", err), 1)
		}
	}

	level := cmd.String("log-level")
	if level == "" {
		level = cfg.Logging.Level
	}
	format := cmd.String("log-format")
	if format == "" {
		format = cfg.Logging.Format
	}

	out, err := writers.CreateWriter(cfg.Logging.Output)
	if err != nil {
		return ctx, cli.Exit(fmt.Errorf("failed to open log output: %w", err), 1)
	}
	logger := logging.SetupLogger(logging.Format(format), level, out)

	return context.WithValue(ctx, appKey{}, &appState{
		cfg:     cfg,
		handler: logger.Handler(),
		logger:  logger,
		logOut:  out,
	}), nil
}

func teardown(ctx context.Context, _ *cli.Command) error {
	st, err := stateFrom(ctx)
	if err != nil {
		return nil
	}
	return writers.Close(st.logOut)
}

func stateFrom(ctx context.Context) (*appState, error) {
	st, ok := ctx.Value(appKey{}).(*appState)
	if !ok || st == nil {
		return nil, errNoAppState
	}
	return st, nil
}

// newClient validates the configuration and wires a host client. A nil
// handler means the application's handler.
func (s *appState) newClient(handler slog.Handler, opts ...host.Option) (*host.Client, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if handler == nil {
		handler = s.handler
	}
	base := []host.Option{
		host.WithLogHandler(handler),
		host.WithProgress(fetch.ReporterFor(os.Stderr, slog.New(handler).WithGroup("fetch"))),
	}
	return host.New(s.cfg, append(base, opts...)...)
}

// requireStdoutFree rejects a stdout log output for commands whose stdout
// carries results.
func (s *appState) requireStdoutFree() error {
	if writers.ParseWriterType(s.cfg.Logging.Output) == writers.WriterTypeStdout {
		return fmt.Errorf("%w: logging output must not be stdout for this command", errStdoutReserved)
	}
	return nil
}
