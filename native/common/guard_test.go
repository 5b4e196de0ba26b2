package common

import (
	"errors"
	"strings"
	"testing"
)

type pauseSet map[string]bool

func (p pauseSet) IsPaused(module string) bool { return p[module] }

func TestGuard(t *testing.T) {
	pauses := pauseSet{"lending": true}
	err := Guard(pauses, "lending")
	if !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if !strings.Contains(err.Error(), "lending") {
		t.Fatalf("expected error to name the module, got %q", err)
	}
	if err := Guard(pauses, "amm"); err != nil {
		t.Fatalf("unexpected error for active module: %v", err)
	}
	if err := Guard(nil, "lending"); err != nil {
		t.Fatalf("nil pause view must not block: %v", err)
	}
}

func TestValidationErrorsShareParent(t *testing.T) {
	for _, err := range []error{ErrInvalidAmount, ErrInvalidAddress, ErrIdenticalTokens, ErrInvalidPath, ErrInvalidConfig} {
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("%v should wrap ErrValidation", err)
		}
	}
	if errors.Is(ErrInsufficientFunds, ErrValidation) {
		t.Fatalf("funding errors are not validation errors")
	}
}
