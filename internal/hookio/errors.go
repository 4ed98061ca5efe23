package hookio

import "fmt"

// Sentinel errors for HookIO failure modes. All of these are InputErrors
// in the taxonomy: the dispatcher treats them as allow, logged to the
// security stream.
var (
	ErrPayloadTooLarge = fmt.Errorf("hookio: payload exceeds max_bytes")
	ErrDepthExceeded   = fmt.Errorf("hookio: json nesting exceeds max_depth")
	ErrTimeout         = fmt.Errorf("hookio: read timed out")
	ErrMalformedJSON   = fmt.Errorf("hookio: malformed json")
	ErrEmptyPayload    = fmt.Errorf("hookio: empty payload")
)
