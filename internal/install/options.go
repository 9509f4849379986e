package install

import "log/slog"

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger for the installer.
func WithLogger(logger *slog.Logger) Option {
	return func(i *Installer) {
		if logger != nil {
			i.logger = logger
		}
	}
}

// WithBaseEnv replaces the inherited environment the child processes start
// from. caseInsensitive should be true on Windows.
func WithBaseEnv(env []string, caseInsensitive bool) Option {
	return func(i *Installer) {
		i.baseEnv = env
		i.caseInsensitive = caseInsensitive
	}
}
