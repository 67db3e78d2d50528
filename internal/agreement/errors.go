package agreement

import (
	"errors"
	"fmt"
)

// Rejection kinds. Every failed call returns a *RejectError wrapping one of these.
var (
	ErrArgumentCount    = errors.New("wrong number of arguments")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrUnauthorized     = errors.New("caller not authorized")
	ErrState            = errors.New("agreement not in required status")
	ErrSequence         = errors.New("milestone out of sequence")
	ErrIdentityMismatch = errors.New("party matches neither buyer nor seller")
	ErrPrecondition     = errors.New("execution preconditions not met")
	ErrUnknownAction    = errors.New("unknown action")
)

// RejectError reports why a call was rejected. The call had no effect.
type RejectError struct {
	Action Action
	Kind   error
	Detail string
}

func (e *RejectError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s rejected: %v", e.Action, e.Kind)
	}
	return fmt.Sprintf("%s rejected: %v: %s", e.Action, e.Kind, e.Detail)
}

func (e *RejectError) Unwrap() error { return e.Kind }

func reject(a Action, kind error, format string, args ...any) error {
	return &RejectError{Action: a, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Kind returns the rejection kind of err, or nil when err is not a rejection.
func Kind(err error) error {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Kind
	}
	return nil
}
