package common

import "fmt"

// PauseView reports which modules configuration has paused.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects entry operations of a paused module. Withdrawals, repayments
// and other exits never call it.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" || !p.IsPaused(module) {
		return nil
	}
	return fmt.Errorf("%w: %s entry operations are disabled", ErrModulePaused, module)
}
