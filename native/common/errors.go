package common

import (
	"errors"
	"fmt"
)

// ErrValidation is the parent of every input validation failure. Validation
// errors are raised before any state is read.
var ErrValidation = errors.New("validation failed")

var (
	ErrInvalidAmount   = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrInvalidAddress  = fmt.Errorf("%w: invalid address", ErrValidation)
	ErrIdenticalTokens = fmt.Errorf("%w: identical tokens", ErrValidation)
	ErrInvalidPath     = fmt.Errorf("%w: invalid swap path", ErrValidation)
	ErrInvalidConfig   = fmt.Errorf("%w: invalid configuration", ErrValidation)
)

var (
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrInsufficientLiquidity = errors.New("insufficient liquidity")
	ErrInsufficientShares    = errors.New("insufficient shares")
	ErrAccountUnhealthy      = errors.New("account unhealthy")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDeadlineExpired       = errors.New("deadline expired")
	ErrStaleOracle           = errors.New("stale oracle")
	ErrModulePaused          = errors.New("module paused")
	ErrOverflow              = errors.New("arithmetic overflow")
)
