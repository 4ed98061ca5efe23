package security

import "fmt"

// ErrPayloadBounds mirrors the HookIO payload-bounds denial when a
// caller invokes the validator directly on data HookIO already rejected.
var ErrPayloadBounds = fmt.Errorf("security: payload exceeds configured bounds")
