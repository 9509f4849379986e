package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/atlanticdynamic/envbridge/internal/pathutil"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// GenerationRequest is what the external generator is asked to produce.
type GenerationRequest struct {
	TextureName   string
	TexturePrompt string
	SavePath      string
	TextureFormat string
	ModelPath     string
	Device        string
	// Output is the unique file the generator must write.
	Output string
}

func (r GenerationRequest) tokens() []string {
	return []string{
		"--device", r.Device,
		"--model_path", r.ModelPath,
		"--output", r.Output,
		"--save_path", r.SavePath,
		"--texture_format", r.TextureFormat,
		"--texture_name", r.TextureName,
		"--texture_prompt", r.TexturePrompt,
	}
}

// Generator produces a texture file at req.Output.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) error
}

// CommandGenerator runs an external command as the generator. Command
// elements may contain {interpreter} and {root}; the request is appended as
// --key value pairs.
type CommandGenerator struct {
	Command     []string
	Interpreter string
	Root        string
	Runner      procexec.Runner
	Logger      *slog.Logger
}

var _ Generator = (*CommandGenerator)(nil)

// Generate runs the command and checks that it wrote req.Output.
func (g *CommandGenerator) Generate(ctx context.Context, req GenerationRequest) error {
	if len(g.Command) == 0 {
		return fmt.Errorf("%w: no generator command configured", ErrGeneratorFailed)
	}
	logger := g.Logger
	if logger == nil {
		logger = slog.Default().WithGroup("dispatch.CommandGenerator")
	}
	runner := g.Runner
	if runner == nil {
		runner = procexec.NewExecRunner(logger)
	}

	argv := make([]string, 0, len(g.Command)+14)
	for _, part := range g.Command {
		part = strings.ReplaceAll(part, "{interpreter}", g.Interpreter)
		part = strings.ReplaceAll(part, "{root}", g.Root)
		argv = append(argv, part)
	}
	argv = append(argv, req.tokens()...)

	logger.Info("Starting generator", "output", req.Output, "device", req.Device)
	res, err := runner.Run(ctx, procexec.Command{Path: argv[0], Args: argv[1:], Dir: g.Root})
	if err != nil {
		if errors.Is(err, procexec.ErrStart) {
			return g.missing(err.Error())
		}
		return fmt.Errorf("%w: %w", ErrGeneratorFailed, err)
	}
	if !res.Success() {
		stderr := strings.TrimSpace(res.Stderr)
		if moduleMissing(stderr) {
			return g.missing(lastLine(stderr))
		}
		return fmt.Errorf("%w: exit code %d: %s", ErrGeneratorFailed, res.ExitCode, stderr)
	}
	if !pathutil.Exists(req.Output) {
		return fmt.Errorf("%w: %s", ErrNoOutput, req.Output)
	}
	logger.Debug("Generator finished", "duration", res.Duration)
	return nil
}

// missing reports a generator command that cannot run at all, naming the
// setting that selects it.
func (g *CommandGenerator) missing(detail string) error {
	return fmt.Errorf("%w: %w: %q: %s; point [generator] command at an installed generator",
		ErrGeneratorFailed, ErrGeneratorMissing, strings.Join(g.Command, " "), detail)
}

// moduleMissing recognizes the interpreter's report for `-m <module>` when
// the module is not importable.
func moduleMissing(stderr string) bool {
	return strings.Contains(stderr, "No module named")
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[i+1:])
	}
	return s
}

// ensureDir creates the save directory so the generator can write into it.
func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create save directory %s: %w", dir, err)
	}
	return nil
}
