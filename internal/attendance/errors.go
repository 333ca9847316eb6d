package attendance

import (
	"errors"
	"fmt"
)

// ErrActionInProgress rejects a second action for a class whose first action
// has not settled yet.
var ErrActionInProgress = errors.New("action in progress")

var ErrInvalidRequest = errors.New("invalid attendance request")

// Kind names the pipeline step that failed.
type Kind int

const (
	KindSourceMutation Kind = iota + 1
	KindMirrorRead
	KindSummaryRead
	KindSideEffect
	KindFlush
)

func (k Kind) String() string {
	switch k {
	case KindSourceMutation:
		return "source mutation"
	case KindMirrorRead:
		return "mirror read"
	case KindSummaryRead:
		return "summary read"
	case KindSideEffect:
		return "side effect"
	case KindFlush:
		return "buffer flush"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Fatal reports whether a failure of this kind fails the whole action.
func (k Kind) Fatal() bool {
	return k != KindSideEffect
}

type StepError struct {
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return e.Kind.String() + " failed: " + e.Err.Error()
}

func (e *StepError) Unwrap() error { return e.Err }

// KindOf returns the failed step of err, or 0 if err carries none.
func KindOf(err error) Kind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
