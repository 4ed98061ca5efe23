package coordinator

import "fmt"

var (
	// ErrLockContention names a write-path lock that could not be
	// acquired inside its bounded try-acquire window. Handle answers
	// that condition with a deny decision and does not return this value.
	ErrLockContention = fmt.Errorf("coordinator: lock contention")
	// ErrWorkspaceFailure names a failed workspace materialization for a
	// file-mutating tool call. Handle answers that condition with a deny
	// decision and does not return this value.
	ErrWorkspaceFailure = fmt.Errorf("coordinator: workspace provisioning failed")
)
