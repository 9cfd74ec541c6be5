package artifact

import "fmt"

// ParseWarning reports a recoverable problem with the envelope or with one
// action; parsing continues past it.
type ParseWarning struct {
	Offset int
	Reason string
}

func (w *ParseWarning) Error() string {
	return fmt.Sprintf("artifact: %s (offset %d)", w.Reason, w.Offset)
}

// ValidationError reports an action that was recognized but cannot become
// a step, e.g. a file action without a path. The action is dropped.
type ValidationError struct {
	Action int
	Type   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("artifact: invalid %s action #%d: %s", e.Type, e.Action, e.Reason)
}
