package dispatch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/urfave/cli/v3"
)

func echoOperation() Operation {
	return Operation{
		Name:  "echo",
		Usage: "Echo the message",
		Params: []Param{
			{Name: "message", Required: true},
			{Name: "suffix", Default: "!"},
		},
		Func: func(_ context.Context, args map[string]string) (string, error) {
			return args["message"] + args["suffix"], nil
		},
	}
}

type DispatcherTestSuite struct {
	suite.Suite
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	d      *Dispatcher
}

func (s *DispatcherTestSuite) SetupTest() {
	s.stdout = &bytes.Buffer{}
	s.stderr = &bytes.Buffer{}

	boom := Operation{
		Name: "boom",
		Func: func(context.Context, map[string]string) (string, error) {
			panic("generator exploded")
		},
	}
	failing := Operation{
		Name: "failing",
		Func: func(context.Context, map[string]string) (string, error) {
			return "", errors.New("CUDA out of memory")
		},
	}

	d, err := New(
		WithOutput(s.stdout, s.stderr),
		WithOperations(echoOperation(), boom, failing),
	)
	s.Require().NoError(err)
	s.d = d
}

func (s *DispatcherTestSuite) TestRunSuccess() {
	code := s.d.Run(s.T().Context(), []string{"echo", "--message", "hello world"})
	s.Equal(0, code)
	s.Equal("hello world!\n", s.stdout.String())
}

func (s *DispatcherTestSuite) TestRunPreservesValues() {
	value := `a "quoted" value; with $VARS & 100% symbols`
	code := s.d.Run(s.T().Context(), []string{"echo", "--message", value, "--suffix", ""})
	s.Equal(0, code)
	s.Equal(value+"\n", s.stdout.String())
}

func (s *DispatcherTestSuite) TestRunFailures() {
	tests := []struct {
		name       string
		argv       []string
		wantStderr string
	}{
		{"no operation", nil, ErrNoOperation.Error()},
		{"unknown operation", []string{"text2img"}, "text2img"},
		{"missing required parameter", []string{"echo"}, "message"},
		{"unknown flag", []string{"echo", "--message", "x", "--volume", "11"}, "volume"},
		{"positional argument", []string{"echo", "--message", "x", "stray"}, "stray"},
		{"operation error", []string{"failing"}, "CUDA out of memory"},
		{"panic", []string{"boom"}, "generator exploded"},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			s.stdout.Reset()
			s.stderr.Reset()
			code := s.d.Run(s.T().Context(), tt.argv)
			s.Equal(1, code)
			s.Contains(s.stderr.String(), tt.wantStderr)
			s.Empty(strings.TrimSpace(s.stdout.String()))
		})
	}
}

func (s *DispatcherTestSuite) TestOperationsListing() {
	code := s.d.Run(s.T().Context(), []string{ListOperation})
	s.Equal(0, code)
	s.Equal("boom echo failing operations\n", s.stdout.String())
}

func (s *DispatcherTestSuite) TestRegisterDuplicate() {
	err := s.d.Register(echoOperation())
	s.ErrorIs(err, ErrDuplicateOperation)
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherTestSuite))
}

func TestOperationValidation(t *testing.T) {
	t.Parallel()
	noop := func(context.Context, map[string]string) (string, error) { return "", nil }

	tests := []struct {
		name string
		op   Operation
	}{
		{"empty name", Operation{Func: noop}},
		{"name with space", Operation{Name: "run generation", Func: noop}},
		{"no func", Operation{Name: "x"}},
		{"bad param", Operation{Name: "x", Func: noop, Params: []Param{{Name: "--flag"}}}},
		{"duplicate param", Operation{Name: "x", Func: noop, Params: []Param{{Name: "a"}, {Name: "a"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(WithOperations(tt.op))
			require.ErrorIs(t, err, ErrInvalidOperation)
		})
	}
}

func TestExecute_PanicsPropagate(t *testing.T) {
	t.Parallel()
	d, err := New(WithOperations(Operation{
		Name: "boom",
		Func: func(context.Context, map[string]string) (string, error) { panic("raw") },
	}))
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = d.Execute(t.Context(), []string{"boom"})
	})
}

func TestNames(t *testing.T) {
	t.Parallel()
	d, err := New(WithOutput(&bytes.Buffer{}, &bytes.Buffer{}))
	require.NoError(t, err)
	assert.Equal(t, []string{ListOperation}, d.Names())

	require.NoError(t, d.Register(FetchAsset(nil)))
	require.NoError(t, d.Register(RunGeneration(nil)))
	assert.Equal(t, []string{FetchAssetOperation, ListOperation, RunGenerationOperation}, d.Names())
}

func TestRun_NestedUnderOuterCommand(t *testing.T) {
	t.Parallel()
	var outerOut, stdout, stderr bytes.Buffer
	d, err := New(WithOutput(&stdout, &stderr), WithOperations(echoOperation()))
	require.NoError(t, err)

	var code int
	outer := func() *cli.Command {
		return &cli.Command{
			Name:           "envbridge",
			Writer:         &outerOut,
			ErrWriter:      &outerOut,
			ExitErrHandler: func(context.Context, *cli.Command, error) {},
			Commands: []*cli.Command{{
				Name:            "dispatch",
				SkipFlagParsing: true,
				Action: func(ctx context.Context, cmd *cli.Command) error {
					code = d.Run(ctx, cmd.Args().Slice())
					return nil
				},
			}},
		}
	}

	require.NoError(t, outer().Run(t.Context(), []string{"envbridge", "dispatch", "echo"}))
	assert.Equal(t, 1, code)
	assert.Empty(t, outerOut.String())
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "message")
	assert.NotContains(t, stderr.String(), "envbridge dispatch dispatch")

	stderr.Reset()
	require.NoError(t, outer().Run(t.Context(), []string{"envbridge", "dispatch", "echo", "--message", "hi"}))
	assert.Equal(t, 0, code)
	assert.Equal(t, "hi!\n", stdout.String())
	assert.Empty(t, outerOut.String())
}

func TestExecute_PropagatesCancellation(t *testing.T) {
	t.Parallel()
	d, err := New(WithOperations(Operation{
		Name: "wait",
		Func: func(ctx context.Context, _ map[string]string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	_, err = d.Execute(ctx, []string{"wait"})
	require.ErrorIs(t, err, context.Canceled)
}
