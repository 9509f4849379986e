// Package bridge runs named operations inside an isolated interpreter
// environment from the host process and recovers their results.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/atlanticdynamic/envbridge/internal/platform"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
	"github.com/gofrs/uuid/v5"
)

// Activation is how the environment is entered before the dispatcher runs.
type Activation string

const (
	// ActivationDirect sets the activation variables on the child process.
	ActivationDirect Activation = "direct"
	// ActivationScript runs the dispatcher through the venv's activate script.
	ActivationScript Activation = "script"
)

// RootEnvVar tells the dispatcher which environment root it serves.
const RootEnvVar = "ENVBRIDGE_ROOT"

const defaultStderrLimit = 4096

// DefaultEntryPoint runs this binary's dispatch subcommand.
var DefaultEntryPoint = []string{"{self}", "dispatch"}

// Environment is the part of a provisioned environment the bridge needs.
type Environment struct {
	Root    string
	VenvDir string
	// Interpreter defaults to the layout's interpreter under VenvDir.
	Interpreter string
}

// Bridge invokes operations in isolated environments. It is safe for
// concurrent use; invocations against the same root run one at a time.
type Bridge struct {
	goos        string
	entryPoint  []string
	activation  Activation
	stderrLimit int
	baseEnv     []string
	self        string
	runner      procexec.Runner
	logger      *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a Bridge using direct activation and the default entry point.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		goos:        runtime.GOOS,
		entryPoint:  DefaultEntryPoint,
		activation:  ActivationDirect,
		stderrLimit: defaultStderrLimit,
		logger:      slog.Default().WithGroup("bridge.Bridge"),
		locks:       make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.runner == nil {
		b.runner = procexec.NewExecRunner(b.logger)
	}
	return b
}

// Invoke runs op with args inside env and returns its trimmed stdout. It
// blocks until the dispatcher exits; cancel ctx to kill it.
func (b *Bridge) Invoke(ctx context.Context, env Environment, op string, args map[string]string) (string, error) {
	req := Request{Operation: op, Arguments: args}
	if err := req.Validate(); err != nil {
		return "", err
	}

	layout, err := platform.NewLayout(b.goos, env.VenvDir)
	if err != nil {
		return "", err
	}
	if env.Interpreter == "" {
		env.Interpreter = layout.Interpreter()
	}

	argv, err := b.commandLine(env, req)
	if err != nil {
		return "", err
	}

	id := uuid.Must(uuid.NewV6()).String()
	logger := b.logger.With("invocation", id, "operation", op, "root", env.Root)

	unlock := b.lock(env.Root)
	defer unlock()

	var cmd procexec.Command
	switch b.activation {
	case ActivationDirect:
		cmd = b.directCommand(env, layout, argv)
	case ActivationScript:
		cmd, err = b.scriptCommand(env, layout, argv)
		if err != nil {
			return "", &Error{Operation: op, ExitCode: -1, InvocationID: id, Err: err}
		}
	default:
		return "", fmt.Errorf("%w: unknown activation %q", ErrInvalidRequest, b.activation)
	}

	logger.Debug("Invoking operation", "command", cmd.String(), "activation", b.activation)
	res, err := b.runner.Run(ctx, cmd)
	if err != nil {
		logger.Error("Operation did not complete", "error", err)
		out := &Error{Operation: op, ExitCode: -1, InvocationID: id, Err: err}
		if res != nil {
			out.StderrExcerpt = tail(res.Stderr, b.stderrLimit)
		}
		return "", out
	}
	if !res.Success() {
		excerpt := tail(res.Stderr, b.stderrLimit)
		logger.Warn("Operation failed", "exit_code", res.ExitCode, "stderr", lastLine(excerpt))
		return "", &Error{
			Operation:     op,
			ExitCode:      res.ExitCode,
			StderrExcerpt: excerpt,
			InvocationID:  id,
		}
	}

	logger.Info("Operation finished", "duration", res.Duration)
	return strings.TrimSpace(res.Stdout), nil
}

// commandLine expands the entry point and appends the operation and its
// argument tokens.
func (b *Bridge) commandLine(env Environment, req Request) ([]string, error) {
	if len(b.entryPoint) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrEntryPoint)
	}

	argv := make([]string, 0, len(b.entryPoint)+1+2*len(req.Arguments))
	for _, part := range b.entryPoint {
		if strings.Contains(part, "{self}") {
			self, err := b.executable()
			if err != nil {
				return nil, err
			}
			part = strings.ReplaceAll(part, "{self}", self)
		}
		part = strings.ReplaceAll(part, "{interpreter}", env.Interpreter)
		part = strings.ReplaceAll(part, "{root}", env.Root)
		argv = append(argv, part)
	}
	argv = append(argv, req.Operation)
	return append(argv, req.Tokens()...), nil
}

func (b *Bridge) executable() (string, error) {
	if b.self != "" {
		return b.self, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrEntryPoint, err)
	}
	return self, nil
}

// directCommand applies what an activate script would: VIRTUAL_ENV, the
// venv bin directory first on PATH, and no PYTHONHOME.
func (b *Bridge) directCommand(env Environment, layout platform.Layout, argv []string) procexec.Command {
	windows := layout.Family == platform.FamilyWindows

	path := layout.BinDir()
	if current, ok := b.lookupEnv("PATH", windows); ok && current != "" {
		path += listSeparator(windows) + current
	}

	return procexec.Command{
		Path: argv[0],
		Args: argv[1:],
		Dir:  env.Root,
		Env: procexec.Environ(b.baseEnv, map[string]string{
			"VIRTUAL_ENV": layout.VenvDir,
			"PATH":        path,
			RootEnvVar:    env.Root,
		}, []string{"PYTHONHOME"}, windows),
	}
}

func (b *Bridge) lookupEnv(key string, fold bool) (string, bool) {
	base := b.baseEnv
	if base == nil {
		base = os.Environ()
	}
	if fold {
		return procexec.LookupFold(base, key)
	}
	return procexec.Lookup(base, key)
}

func listSeparator(windows bool) string {
	if windows {
		return ";"
	}
	return ":"
}

// lock serializes invocations per environment root.
func (b *Bridge) lock(root string) func() {
	key := filepath.Clean(root)
	b.mu.Lock()
	m, ok := b.locks[key]
	if !ok {
		m = &sync.Mutex{}
		b.locks[key] = m
	}
	b.mu.Unlock()

	m.Lock()
	return m.Unlock
}
