package bridge

import (
	"fmt"
	"os"

	"github.com/atlanticdynamic/envbridge/internal/platform"
	"github.com/atlanticdynamic/envbridge/internal/procexec"
)

// posixActivate sources the activate script named by $1 and then replaces
// the shell with the remaining arguments, so values never pass through
// shell parsing.
const posixActivate = `activate="$1"; shift; . "$activate" && exec "$@"`

func (b *Bridge) scriptCommand(env Environment, layout platform.Layout, argv []string) (procexec.Command, error) {
	childEnv := procexec.Environ(b.baseEnv, map[string]string{RootEnvVar: env.Root}, nil,
		layout.Family == platform.FamilyWindows)

	if layout.Family == platform.FamilyWindows {
		script := layout.ActivateScript()
		if err := appendBatch(script, layout.Drive(), argv); err != nil {
			return procexec.Command{}, err
		}
		return procexec.Command{
			Path: "cmd.exe",
			Args: []string{"/C", script},
			Dir:  env.Root,
			Env:  childEnv,
		}, nil
	}

	args := append([]string{"-c", posixActivate, "envbridge-activate", layout.ActivateScript()}, argv...)
	return procexec.Command{
		Path: "/bin/sh",
		Args: args,
		Dir:  env.Root,
		Env:  childEnv,
	}, nil
}

// appendBatch adds a drive switch and the quoted command line to the end of
// activate.bat. The script grows by one invocation each call.
func appendBatch(script, drive string, argv []string) error {
	f, err := os.OpenFile(script, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open activation script: %w", err)
	}
	lines := "\r\n"
	if drive != "" {
		lines += drive + "\r\n"
	}
	lines += BatchLine(argv) + "\r\n"
	if _, err := f.WriteString(lines); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to append to activation script: %w", err)
	}
	return f.Close()
}
