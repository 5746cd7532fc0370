package capture

import "fmt"

// InitError reports that a capture session could not be opened.
// It is fatal for the attempt and never retried automatically.
type InitError struct {
	Index int
	Err   error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("open capture session %d: %v", e.Index, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// FinalizeError reports that a capture session could not be turned into a
// segment. The segment is lost; capture continues.
type FinalizeError struct {
	Index int
	Path  string
	Err   error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize capture session %d (%s): %v", e.Index, e.Path, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }
