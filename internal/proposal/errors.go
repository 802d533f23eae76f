package proposal

import (
	"errors"
	"fmt"
)

// State-machine precondition failures. Callers must not retry these blindly;
// the proposal is already past the requested transition.
var (
	ErrNotFound        = errors.New("proposal not found")
	ErrAlreadyDecided  = errors.New("proposal already decided")
	ErrAlreadyTerminal = errors.New("proposal already terminal")
	ErrExpired         = errors.New("proposal expired")
	ErrNotApproved     = errors.New("proposal not approved")
)

// BlockedError is a risk gate refusal. User-actionable, never auto-retried.
type BlockedError struct {
	Check  string
	Reason string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked by %s: %s", e.Check, e.Reason)
}

// ValidationError marks malformed caller input. Never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string {
	return e.Msg
}

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}
