package extract

import "fmt"

// ResolutionError indicates that the extractor could not make sense of the
// URL it was given (unsupported site, private video, no such media).
type ResolutionError struct {
	URL   string
	Cause error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.URL, e.Cause)
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// ExecutionError indicates a failure while downloading or transforming
// media which had already been resolved.
type ExecutionError struct {
	Stage string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Stage, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }
