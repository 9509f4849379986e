package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/atlanticdynamic/envbridge/internal/platform"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
	"github.com/atlanticdynamic/envbridge/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubEnv() []string {
	return append(os.Environ(), stubEnvVar+"=1", "PYTHONHOME=/should/not/leak")
}

func newEnvironment(t *testing.T) Environment {
	t.Helper()
	root := t.TempDir()
	venv := filepath.Join(root, "venv")
	layout, err := platform.NewLayout(runtime.GOOS, venv)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(layout.BinDir(), 0o755))
	return Environment{Root: root, VenvDir: venv}
}

func newStubBridge(opts ...Option) *Bridge {
	return New(append([]Option{
		WithEntryPoint("{self}"),
		WithBaseEnv(stubEnv()),
	}, opts...)...)
}

func TestInvoke_ArgumentsArriveIntact(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)
	args := map[string]string{
		"texture_prompt": `a "weathered" brick wall, 50% moss & ivy; $HOME`,
		"save_path":      filepath.Join(env.Root, "My Textures"),
		"empty":          "",
		"multi-line":     "first\nsecond",
	}

	out, err := newStubBridge().Invoke(t.Context(), env, "echo", args)
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, args, got)
}

func TestInvoke_ReturnsTrimmedStdout(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)
	saveDir := filepath.Join(env.Root, "out")

	out, err := newStubBridge().Invoke(t.Context(), env, "run_generation", map[string]string{
		"texture_name":   "brick",
		"texture_prompt": "red brick",
		"save_path":      saveDir,
		"texture_format": ".png",
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(saveDir, "brick.png"), out)
}

func TestInvoke_DirectActivationEnvironment(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)

	out, err := newStubBridge().Invoke(t.Context(), env, "env", nil)
	require.NoError(t, err)

	var got struct {
		VirtualEnv string `json:"virtual_env"`
		PathHead   string `json:"path_head"`
		PythonHome bool   `json:"pythonhome"`
		Cwd        string `json:"cwd"`
		Root       string `json:"root"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))

	layout, err := platform.NewLayout(runtime.GOOS, env.VenvDir)
	require.NoError(t, err)
	assert.Equal(t, env.VenvDir, got.VirtualEnv)
	assert.Equal(t, layout.BinDir(), got.PathHead)
	assert.False(t, got.PythonHome)
	assert.Equal(t, env.Root, got.Root)
	assert.Equal(t, evalSymlinks(t, env.Root), evalSymlinks(t, got.Cwd))
}

func TestInvoke_NonZeroExit(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)

	_, err := newStubBridge().Invoke(t.Context(), env, "fail", map[string]string{"texture_prompt": "x"})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrOperationFailed)

	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, "fail", bridgeErr.Operation)
	assert.Equal(t, 3, bridgeErr.ExitCode)
	assert.Contains(t, bridgeErr.StderrExcerpt, "Traceback")
	assert.Contains(t, bridgeErr.StderrExcerpt, "ValueError: bad prompt")
	assert.NotEmpty(t, bridgeErr.InvocationID)
	assert.Contains(t, err.Error(), "ValueError: bad prompt")
}

func TestInvoke_StderrExcerptKeepsTail(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)

	_, err := newStubBridge(WithStderrLimit(64)).Invoke(t.Context(), env, "noisy", nil)
	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.LessOrEqual(t, len(bridgeErr.StderrExcerpt), 64)
	assert.True(t, strings.HasSuffix(bridgeErr.StderrExcerpt, "END"))
}

func TestInvoke_UnknownOperation(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)

	_, err := newStubBridge().Invoke(t.Context(), env, "no_such_operation", nil)
	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, 2, bridgeErr.ExitCode)
	assert.Contains(t, bridgeErr.StderrExcerpt, "no_such_operation")
}

func TestInvoke_Canceled(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	_, err := newStubBridge().Invoke(ctx, env, "sleep", nil)
	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, -1, bridgeErr.ExitCode)
	require.ErrorIs(t, err, procexec.ErrCanceled)
}

func TestInvoke_SerializedPerRoot(t *testing.T) {
	t.Parallel()
	env := newEnvironment(t)
	b := newStubBridge()

	const callers = 4
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = b.Invoke(t.Context(), env, "exclusive", nil)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
}

func TestInvoke_InvalidRequestRunsNothing(t *testing.T) {
	t.Parallel()
	runner := testutil.NewFakeRunner()
	b := New(WithRunner(runner), WithGOOS("linux"), WithEntryPoint("python", "-m", "dispatch"))

	_, err := b.Invoke(t.Context(), Environment{Root: "/env", VenvDir: "/env/venv"},
		"run_generation", map[string]string{"bad key": "v"})
	require.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, runner.Commands())
}

func TestInvoke_UnsupportedPlatform(t *testing.T) {
	t.Parallel()
	runner := testutil.NewFakeRunner()
	b := New(WithRunner(runner), WithGOOS("plan9"))

	_, err := b.Invoke(t.Context(), Environment{Root: "/env", VenvDir: "/env/venv"}, "operations", nil)
	var unsupported *platform.UnsupportedError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "plan9", unsupported.GOOS)
	assert.Empty(t, runner.Commands())
}

func TestInvoke_EntryPointPlaceholders(t *testing.T) {
	t.Parallel()
	runner := testutil.NewFakeRunner()
	b := New(
		WithRunner(runner),
		WithGOOS("linux"),
		WithExecutable("/usr/local/bin/envbridge"),
		WithEntryPoint("{interpreter}", "{root}/sd_interface.py", "--host", "{self}"),
		WithBaseEnv([]string{"PATH=/usr/bin"}),
	)

	_, err := b.Invoke(t.Context(), Environment{Root: "/env", VenvDir: "/env/venv"},
		"fetch_asset", map[string]string{"remote_url": "https://example.com/a.zip", "local_path": "/env/assets"})
	require.NoError(t, err)

	cmds := runner.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, filepath.Join("/env/venv", "bin", "python"), cmds[0].Path)
	assert.Equal(t, []string{
		"/env/sd_interface.py", "--host", "/usr/local/bin/envbridge",
		"fetch_asset",
		"--local_path", "/env/assets",
		"--remote_url", "https://example.com/a.zip",
	}, cmds[0].Args)
	assert.Equal(t, "/env", cmds[0].Dir)
}

func TestInvoke_DirectEnvironmentOnWindows(t *testing.T) {
	t.Parallel()
	runner := testutil.NewFakeRunner()
	b := New(
		WithRunner(runner),
		WithGOOS("windows"),
		WithEntryPoint("{interpreter}", "-m", "dispatch"),
		WithBaseEnv([]string{`Path=C:\Windows`, `PYTHONHOME=C:\Python311`, "USERNAME=artist"}),
	)

	_, err := b.Invoke(t.Context(), Environment{Root: "env", VenvDir: "venv"}, "operations", nil)
	require.NoError(t, err)

	cmds := runner.Commands()
	require.Len(t, cmds, 1)
	bin := filepath.Join("venv", "Scripts")
	assert.Equal(t, filepath.Join(bin, "python.exe"), cmds[0].Path)
	assert.ElementsMatch(t, []string{
		"USERNAME=artist",
		`PATH=` + bin + `;C:\Windows`,
		"VIRTUAL_ENV=venv",
		RootEnvVar + "=env",
	}, cmds[0].Env)
}

func TestInvoke_ScriptActivationWindows(t *testing.T) {
	t.Parallel()
	venv := filepath.Join(t.TempDir(), "venv")
	layout, err := platform.NewLayout("windows", venv)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(layout.BinDir(), 0o755))
	require.NoError(t, os.WriteFile(layout.ActivateScript(), []byte("@echo off\r\nset VIRTUAL_ENV=venv\r\n"), 0o644))

	runner := testutil.NewFakeRunner().On("cmd.exe", procexec.Result{Stdout: "done\r\n"})
	b := New(
		WithRunner(runner),
		WithGOOS("windows"),
		WithActivation(ActivationScript),
		WithEntryPoint("{interpreter}", "sd_interface.py"),
	)
	env := Environment{Root: filepath.Dir(venv), VenvDir: venv}
	args := map[string]string{"texture_prompt": `50% "mossy" stone`}

	out, err := b.Invoke(t.Context(), env, "run_generation", args)
	require.NoError(t, err)
	assert.Equal(t, "done", out)
	_, err = b.Invoke(t.Context(), env, "run_generation", args)
	require.NoError(t, err)

	cmds := runner.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, "cmd.exe", cmds[0].Path)
	assert.Equal(t, []string{"/C", layout.ActivateScript()}, cmds[0].Args)

	script, err := os.ReadFile(layout.ActivateScript())
	require.NoError(t, err)
	line := BatchLine([]string{layout.Interpreter(), "sd_interface.py", "run_generation", "--texture_prompt", `50% "mossy" stone`})
	assert.True(t, strings.HasPrefix(string(script), "@echo off\r\n"))
	assert.Equal(t, 2, strings.Count(string(script), line), "the script grows by one line per invocation")
}

func TestInvoke_ScriptActivationPOSIX(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sources a POSIX activate script")
	}
	t.Parallel()
	env := newEnvironment(t)
	layout, err := platform.NewLayout(runtime.GOOS, env.VenvDir)
	require.NoError(t, err)
	activate := "ACTIVATED_BY_SCRIPT=yes\nexport ACTIVATED_BY_SCRIPT\n"
	require.NoError(t, os.WriteFile(layout.ActivateScript(), []byte(activate), 0o644))

	b := newStubBridge(WithActivation(ActivationScript))

	out, err := b.Invoke(t.Context(), env, "env", nil)
	require.NoError(t, err)
	var got struct {
		Activated string `json:"activated"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "yes", got.Activated)

	args := map[string]string{"prompt": `it's "quoted" $(whoami) && ls`}
	out, err = b.Invoke(t.Context(), env, "echo", args)
	require.NoError(t, err)
	var echoed map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &echoed))
	assert.Equal(t, args, echoed)

	content, err := os.ReadFile(layout.ActivateScript())
	require.NoError(t, err)
	assert.Equal(t, activate, string(content))
}

func TestInvoke_ScriptActivationMissingScript(t *testing.T) {
	t.Parallel()
	runner := testutil.NewFakeRunner()
	b := New(WithRunner(runner), WithGOOS("windows"), WithActivation(ActivationScript),
		WithEntryPoint("{interpreter}"))

	root := t.TempDir()
	_, err := b.Invoke(t.Context(), Environment{Root: root, VenvDir: filepath.Join(root, "venv")}, "operations", nil)
	var bridgeErr *Error
	require.ErrorAs(t, err, &bridgeErr)
	assert.Equal(t, -1, bridgeErr.ExitCode)
	assert.Empty(t, runner.Commands())
}

func TestInvoke_InvocationIDsAreUnique(t *testing.T) {
	t.Parallel()
	runner := testutil.NewFakeRunner().Fail("operations", 1, "boom")
	b := New(WithRunner(runner), WithGOOS("linux"), WithEntryPoint("python"))
	env := Environment{Root: "/env", VenvDir: "/env/venv"}

	var first, second *Error
	_, err := b.Invoke(t.Context(), env, "operations", nil)
	require.ErrorAs(t, err, &first)
	_, err = b.Invoke(t.Context(), env, "operations", nil)
	require.ErrorAs(t, err, &second)
	assert.NotEqual(t, first.InvocationID, second.InvocationID)
}

func evalSymlinks(t *testing.T, path string) string {
	t.Helper()
	resolved, err := filepath.EvalSymlinks(path)
	require.NoError(t, err)
	return resolved
}
