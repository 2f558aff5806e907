//go:build !robotgo

package input

import "log/slog"

// NewInjector returns the injector compiled into this build.
func NewInjector(logger *slog.Logger) Injector {
	return NewExecInjector(logger)
}
