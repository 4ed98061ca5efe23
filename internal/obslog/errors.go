package obslog

import "fmt"

var (
	// ErrUnknownStream names a stream the logger was not configured
	// with. Log has no return value and silently drops records for such
	// a stream; it does not report this error.
	ErrUnknownStream = fmt.Errorf("obslog: unknown stream")
	// ErrTeardownDeadline is returned by Close when the background
	// worker did not drain within the teardown deadline.
	ErrTeardownDeadline = fmt.Errorf("obslog: teardown deadline exceeded")
)
