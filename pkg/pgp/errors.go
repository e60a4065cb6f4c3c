package pgp

import "errors"

// ErrNoPubkey is returned when a signer's public key cannot be located in
// the keyring. It is a recoverable condition (spec §7): the trust engine
// reacts to it by creating or updating a shadow directory.
var ErrNoPubkey = errors.New("pgp: no public key available for signer")

// ErrNotFound is returned by name/fingerprint lookups that found nothing.
var ErrNotFound = errors.New("pgp: key not found")
