// Package dispatch is the entry point that runs inside the isolated
// environment. It exposes registered operations as subcommands with keyword
// flags, prints the result on stdout and reports failures on stderr with a
// non-zero exit code.
package dispatch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"runtime/debug"
	"slices"
	"strings"
	"sync"

	"github.com/urfave/cli/v3"
)

// ListOperation is always registered and lists the others.
const ListOperation = "operations"

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// Param is one keyword parameter of an operation.
type Param struct {
	Name     string
	Usage    string
	Required bool
	Default  string
}

// Func runs an operation. args holds every declared parameter.
type Func func(ctx context.Context, args map[string]string) (string, error)

// Operation is a named callable exposed to the host.
type Operation struct {
	Name   string
	Usage  string
	Params []Param
	Func   Func
}

func (o Operation) validate() error {
	if !namePattern.MatchString(o.Name) {
		return fmt.Errorf("%w: name %q", ErrInvalidOperation, o.Name)
	}
	if o.Func == nil {
		return fmt.Errorf("%w: %s has no function", ErrInvalidOperation, o.Name)
	}
	seen := make(map[string]struct{}, len(o.Params))
	for _, p := range o.Params {
		if !namePattern.MatchString(p.Name) {
			return fmt.Errorf("%w: %s parameter %q", ErrInvalidOperation, o.Name, p.Name)
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("%w: %s parameter %q declared twice", ErrInvalidOperation, o.Name, p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}

// Dispatcher holds the operation registry.
type Dispatcher struct {
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger

	mu      sync.RWMutex
	ops     map[string]Operation
	pending []Operation
}

// New returns a Dispatcher with the operations listing registered.
func New(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		stdout: os.Stdout,
		stderr: os.Stderr,
		logger: slog.Default().WithGroup("dispatch.Dispatcher"),
		ops:    make(map[string]Operation),
	}
	for _, opt := range opts {
		opt(d)
	}

	list := Operation{
		Name:  ListOperation,
		Usage: "List the registered operations",
		Func: func(context.Context, map[string]string) (string, error) {
			return strings.Join(d.Names(), " "), nil
		},
	}
	for _, op := range append([]Operation{list}, d.pending...) {
		if err := d.Register(op); err != nil {
			return nil, err
		}
	}
	d.pending = nil
	return d, nil
}

// Register adds op to the registry.
func (d *Dispatcher) Register(op Operation) error {
	if err := op.validate(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.ops[op.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOperation, op.Name)
	}
	d.ops[op.Name] = op
	return nil
}

// Names returns the registered operation names in sorted order.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.ops))
	for name := range d.ops {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Operations returns the registered operations sorted by name.
func (d *Dispatcher) Operations() []Operation {
	names := d.Names()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Operation, 0, len(names))
	for _, name := range names {
		out = append(out, d.ops[name])
	}
	return out
}

// Run executes argv (operation name first, then --key value pairs), writes
// the result line to stdout and returns the process exit code. Errors and
// recovered panics are written to stderr and yield 1.
func (d *Dispatcher) Run(ctx context.Context, argv []string) (code int) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Operation panicked", "panic", r, "stack", string(debug.Stack()))
			fmt.Fprintf(d.stderr, "Error: %v: %v\n", ErrOperationPanic, r)
			code = 1
		}
	}()

	result, err := d.Execute(ctx, argv)
	if err != nil {
		d.logger.Error("Operation failed", "argv", argv, "error", err)
		fmt.Fprintf(d.stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Fprintln(d.stdout, result)
	return 0
}

// Execute parses argv and runs the named operation, returning its result.
// Panics are not recovered here.
func (d *Dispatcher) Execute(ctx context.Context, argv []string) (string, error) {
	// cli resolves a parent command from ctx. Run the tree on a detached
	// context so it stays its own root and help never reaches the caller's
	// stdout; cancellation still propagates.
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var result string
	root := d.command(&result)
	if err := root.Run(runCtx, append([]string{root.Name}, argv...)); err != nil {
		return "", err
	}
	return result, nil
}

// command builds a fresh cli tree: one subcommand per operation, one string
// flag per parameter. Help output goes to stderr so stdout carries only
// results.
func (d *Dispatcher) command(result *string) *cli.Command {
	ops := d.Operations()
	commands := make([]*cli.Command, 0, len(ops))
	for _, op := range ops {
		commands = append(commands, d.subcommand(op, result))
	}

	return &cli.Command{
		Name:            "dispatch",
		Usage:           "Run a named operation inside the environment",
		Commands:        commands,
		Writer:          d.stderr,
		ErrWriter:       d.stderr,
		HideHelpCommand: true,
		ExitErrHandler:  func(context.Context, *cli.Command, error) {},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() == 0 {
				return ErrNoOperation
			}
			return fmt.Errorf("%w: %q", ErrUnknownOperation, cmd.Args().First())
		},
	}
}

func (d *Dispatcher) subcommand(op Operation, result *string) *cli.Command {
	flags := make([]cli.Flag, 0, len(op.Params))
	for _, p := range op.Params {
		flags = append(flags, &cli.StringFlag{
			Name:     p.Name,
			Usage:    p.Usage,
			Required: p.Required,
			Value:    p.Default,
		})
	}

	return &cli.Command{
		Name:  op.Name,
		Usage: op.Usage,
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Present() {
				return fmt.Errorf("%s: unexpected positional arguments %v", op.Name, cmd.Args().Slice())
			}
			args := make(map[string]string, len(op.Params))
			for _, p := range op.Params {
				args[p.Name] = cmd.String(p.Name)
			}
			d.logger.Info("Running operation", "operation", op.Name)
			out, err := op.Func(ctx, args)
			if err != nil {
				return fmt.Errorf("%s: %w", op.Name, err)
			}
			*result = out
			return nil
		},
	}
}
