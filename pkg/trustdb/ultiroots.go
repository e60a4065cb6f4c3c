package trustdb

import (
	"github.com/ctrliq/trustdb/pkg/pgp"
	"github.com/ctrliq/trustdb/pkg/store"
)

// RefreshUltimateRoots implements the ultimate-root registry (C5): for
// every secret key the keyring can enumerate, it resolves (inserting if
// necessary) the matching DIR and adds its LID to the in-memory registry
// that the trust evaluator treats as the terminal condition of a walk.
func (e *Engine) RefreshUltimateRoots() error {
	roots := NewLIDSet()

	for _, sk := range e.Keyring.SecretKeys() {
		fpr := pgp.FingerprintFromPublicKey(sk)

		var lid uint32
		err := e.Store.Update(func(tx store.Tx) error {
			rec, ok, err := tx.SearchDirByFingerprint(fpr)
			if err != nil {
				return err
			}
			if ok {
				lid = rec.Num
				return nil
			}

			newLID, err := e.insertLocked(tx, fpr)
			if err != nil {
				return err
			}
			lid = newLID
			return nil
		})
		if err != nil {
			e.Log.WithError(err).WithField("keyid", pgp.KeyIDFromPublicKey(sk)).
				Warn("while resolving secret key's directory record")
			continue
		}

		if already := roots.Insert(lid, 0); already {
			e.Log.WithField("lid", lid).Info("duplicate ultimate root insertion")
		}
	}

	e.ultiRoots = roots
	return nil
}

// IsUltimateRoot reports whether lid is a known ultimate root.
func (e *Engine) IsUltimateRoot(lid uint32) bool {
	_, ok := e.ultiRoots.Lookup(lid)
	return ok
}
