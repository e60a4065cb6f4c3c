package trustdb

import (
	"time"

	"golang.org/x/crypto/openpgp/packet"

	"github.com/ctrliq/trustdb/pkg/pgp"
	"github.com/ctrliq/trustdb/pkg/store"
)

// CheckTrust implements the trust evaluator's public entry point (C8,
// check_trust). It resolves pk's directory record, inserting it if this is
// the first time the engine has seen the key, applies the timestamp and
// expiry policy checks, and otherwise defers to verifyKey.
func (e *Engine) CheckTrust(pk *packet.PublicKey, expiresAt time.Time) (TrustLevel, error) {
	fpr := pgp.FingerprintFromPublicKey(pk)

	var level TrustLevel
	err := e.Store.Update(func(tx store.Tx) error {
		rec, ok, err := tx.SearchDirByFingerprint(fpr)
		if err != nil {
			return err
		}

		var lid uint32
		if ok {
			lid = rec.Num
		} else {
			lid, err = e.insertLocked(tx, fpr)
			if err != nil {
				return err
			}
			rec, err = tx.Read(lid, store.RecDir)
			if err != nil {
				return err
			}
		}
		dir := rec.Payload.(store.DirPayload)

		if pk.CreationTime.After(now()) {
			return ErrTimeConflict
		}
		if !expiresAt.IsZero() && !expiresAt.After(now()) {
			level = TrustExpired
			return nil
		}

		nt, err := e.verifyKey(tx, 1, e.maxCertDepth(), lid, dir)
		if err != nil {
			return err
		}
		level = nt

		if dir.DirFlags&store.DirRevoked != 0 {
			level |= TrustFlagRevoked
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return level, nil
}

func (e *Engine) maxCertDepth() int {
	if e.Opts.MaxCertDepth > 0 {
		return e.Opts.MaxCertDepth
	}
	return DefaultOptions().MaxCertDepth
}

// now is a seam for policy checks; CheckTrust calls it rather than
// time.Now directly so the comparison reads the same way do_check's
// cur_time snapshot does.
func now() time.Time { return time.Now() }

// verifyKey is the bounded recursive trust walk (do_check / verify_key).
// It treats reaching an ultimate root or max_depth as terminal conditions,
// otherwise accumulates fully/marginal counts over the directory's
// certifications and applies the first-level-ultimate short-circuit
// verbatim: a signer whose own recursive trust is ULTIMATE causes
// verifyKey to return that signer's raw (clamped) ownertrust immediately,
// treating the required count as 1 regardless of completes_needed. This
// can legitimately yield UNKNOWN if the signer's ownertrust was never set,
// which is surprising but matches the original evaluator exactly.
func (e *Engine) verifyKey(tx store.Tx, depth, maxDepth int, dirLID uint32, dir store.DirPayload) (TrustLevel, error) {
	if depth >= maxDepth {
		return TrustUndefined, nil
	}

	if e.IsUltimateRoot(dirLID) {
		return TrustUltimate, nil
	}

	var marginal, fully int
	var result TrustLevel = TrustUndefined
	short := false

	err := WalkSignatures(tx, dirLID, dir, func(entry SigEntry) (bool, error) {
		slot := entry.Slot
		if slot.LID == 0 {
			return true, nil
		}
		if slot.Flag&store.SigChecked == 0 || slot.Flag&store.SigValid == 0 {
			return true, nil
		}
		if slot.Flag&store.SigExpired != 0 || slot.Flag&store.SigRevoked != 0 {
			return true, nil
		}

		signerRec, err := tx.Read(slot.LID, "")
		if err != nil {
			return false, err
		}
		if signerRec.Type() != store.RecDir {
			// signature still points at an SDIR: signer unresolved.
			return true, nil
		}
		signerDir := signerRec.Payload.(store.DirPayload)
		ownerTrust := TrustLevel(signerDir.OwnerTrust)
		if ownerTrust > TrustFully {
			ownerTrust = TrustFully
		}

		nt, err := e.verifyKey(tx, depth+1, maxDepth, slot.LID, signerDir)
		if err != nil {
			return false, err
		}
		nt &= TrustMask

		if nt < TrustMarginal {
			return true, nil
		}
		if nt == TrustUltimate {
			result = ownerTrust
			short = true
			return false, nil
		}

		if nt >= TrustFully {
			fully++
		}
		if nt >= TrustMarginal {
			marginal++
		}

		if fully >= e.Opts.CompletesNeeded || marginal >= e.Opts.MarginalsNeeded {
			result = TrustFully
			short = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		return 0, err
	}
	if short {
		return result, nil
	}

	if marginal > 0 {
		return TrustMarginal, nil
	}
	return TrustUndefined, nil
}
