// Package embedded carries the default hooks manifest into the maoc
// binary, so `maoc hooks install` works from a single binary with no
// separate checkout to read a manifest file from.
package embedded

import _ "embed"

// HooksJSON is the raw default hooks.json manifest wiring all eight
// MAOC-relevant hook events to `maoc hook`.
//
//go:embed hooks/hooks.json
var HooksJSON []byte
