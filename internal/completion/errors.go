package completion

import (
	"errors"
	"fmt"
)

var ErrEmptyPrompt = errors.New("completion: prompt is empty")

// ClassificationError carries the model's answer when it named neither
// scaffold.
type ClassificationError struct {
	Answer string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("completion: unexpected classification answer %q", e.Answer)
}

// StreamFailure is the terminal error of a conversation. Partial is set when
// some output had already been relayed before the failure, in which case no
// retry was attempted after it.
type StreamFailure struct {
	Attempts int
	Err      error
	Partial  bool
}

func (e *StreamFailure) Error() string {
	msg := fmt.Sprintf("completion: stream failed after %d attempt(s): %v", e.Attempts, e.Err)
	if e.Partial {
		msg += " (partial output relayed)"
	}
	return msg
}

func (e *StreamFailure) Unwrap() error { return e.Err }
