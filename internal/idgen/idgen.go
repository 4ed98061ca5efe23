// Package idgen generates identifiers for entities the host doesn't
// supply one for. The host normally provides session_id; when it is
// absent MAOC still needs a stable identity for the lifetime of the
// session, so it falls back to a generated one here rather than
// inventing an ad hoc scheme per caller.
package idgen

import "github.com/google/uuid"

// SessionID returns a new random session identifier suitable for use as
// a directory name.
func SessionID() string {
	return uuid.NewString()
}
