package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// PauseView reports the pause switch of a module's persisted state.
type PauseView interface {
	Paused() (bool, error)
}

// Guard returns ErrModulePaused when the view reports the module as paused.
// Read failures are surfaced unchanged.
func Guard(p PauseView) error {
	if p == nil {
		return nil
	}
	paused, err := p.Paused()
	if err != nil {
		return err
	}
	if paused {
		return ErrModulePaused
	}
	return nil
}
