package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module, for example "pipeline" or
// "metadata", is administratively paused.
type PauseView interface {
	IsPaused(module string) bool
}

// StaticPauses is a fixed PauseView, typically loaded from service config.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool { return s[module] }

func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
