package trustdb

import "errors"

// Recoverable conditions (spec's "Recoverable" error family): callers
// decide what to do with them, they never abort a run.
var (
	ErrNotFound     = errors.New("trustdb: not found")
	ErrNoPubkey     = errors.New("trustdb: signer public key not available")
	ErrTimeConflict = errors.New("trustdb: key timestamp is in the future")
)
