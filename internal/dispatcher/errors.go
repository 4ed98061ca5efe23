package dispatcher

import "fmt"

var (
	// ErrNilCoordinator is returned by New if constructed without a
	// Coordinator; a Dispatcher cannot route events without one.
	ErrNilCoordinator = fmt.Errorf("dispatcher: coordinator is required")
)
