package capability

import (
	"errors"
	"strings"
)

var (
	ErrNotFound         = errors.New("capability not found")
	ErrMissingParameter = errors.New("missing parameter")
	ErrDenied           = errors.New("capability denied")
	ErrPanicked         = errors.New("capability panicked")
)

// Kind classifies an invocation failure.
type Kind int

const (
	KindCapability Kind = iota
	KindMissingParameter
	KindNotFound
	KindDenied
)

func (k Kind) String() string {
	switch k {
	case KindMissingParameter:
		return "missing_parameter"
	case KindNotFound:
		return "not_found"
	case KindDenied:
		return "denied"
	default:
		return "capability_error"
	}
}

// Error is returned by Registry.Invoke. Its text is what the engine records as
// the step result.
type Error struct {
	Kind       Kind
	Capability string
	Missing    []string
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindMissingParameter:
		return "missing parameter: " + strings.Join(e.Missing, ", ")
	case KindNotFound:
		return "capability not found: " + e.Capability
	case KindDenied:
		return "capability denied: " + e.Reason
	default:
		if e.Err != nil {
			return "capability error: " + e.Err.Error()
		}
		return "capability error: " + e.Reason
	}
}

func (e *Error) Unwrap() error {
	switch e.Kind {
	case KindMissingParameter:
		return ErrMissingParameter
	case KindNotFound:
		return ErrNotFound
	case KindDenied:
		return ErrDenied
	default:
		return e.Err
	}
}

// KindOf returns the kind of err when it is an *Error.
func KindOf(err error) (Kind, bool) {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind, true
	}
	return 0, false
}
