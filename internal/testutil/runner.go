package testutil

import (
	"context"
	"strings"
	"sync"

	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// RunFunc produces the outcome of a faked command.
type RunFunc func(cmd procexec.Command) (*procexec.Result, error)

type rule struct {
	contains string
	fn       RunFunc
}

// FakeRunner records every command and answers from scripted rules. Rules
// match on a substring of the rendered command line; the first match wins and
// unmatched commands succeed with empty output.
type FakeRunner struct {
	mu       sync.Mutex
	rules    []rule
	commands []procexec.Command
}

// NewFakeRunner returns a FakeRunner with no rules.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On answers commands containing substr with res.
func (f *FakeRunner) On(substr string, res procexec.Result) *FakeRunner {
	return f.OnFunc(substr, func(procexec.Command) (*procexec.Result, error) {
		out := res
		return &out, nil
	})
}

// Fail answers commands containing substr with a non-zero exit.
func (f *FakeRunner) Fail(substr string, exitCode int, stderr string) *FakeRunner {
	return f.On(substr, procexec.Result{ExitCode: exitCode, Stderr: stderr})
}

// OnFunc answers commands containing substr by calling fn, which may also
// produce side effects such as creating files.
func (f *FakeRunner) OnFunc(substr string, fn RunFunc) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{contains: substr, fn: fn})
	return f
}

// Run implements procexec.Runner.
func (f *FakeRunner) Run(ctx context.Context, cmd procexec.Command) (*procexec.Result, error) {
	f.mu.Lock()
	f.commands = append(f.commands, cmd)
	line := cmd.String()
	var fn RunFunc
	for _, r := range f.rules {
		if strings.Contains(line, r.contains) {
			fn = r.fn
			break
		}
	}
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return &procexec.Result{ExitCode: -1}, err
	}
	if fn == nil {
		return &procexec.Result{}, nil
	}
	return fn(cmd)
}

// Commands returns a copy of the recorded commands.
func (f *FakeRunner) Commands() []procexec.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]procexec.Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// Lines returns the recorded commands rendered as command lines.
func (f *FakeRunner) Lines() []string {
	cmds := f.Commands()
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.String()
	}
	return lines
}

// Count returns how many recorded commands contain substr.
func (f *FakeRunner) Count(substr string) int {
	n := 0
	for _, l := range f.Lines() {
		if strings.Contains(l, substr) {
			n++
		}
	}
	return n
}
