package lock

import "fmt"

var (
	// ErrContention is returned by TryAcquire when the lock is currently
	// held by a non-stale holder.
	ErrContention = fmt.Errorf("lock: contention")
	// ErrTimeout is returned by Acquire when the caller-supplied timeout
	// elapses before a lease is obtained.
	ErrTimeout = fmt.Errorf("lock: acquire timed out")
)
