package trustdb

import (
	"context"

	"github.com/ctrliq/trustdb/pkg/pgp"
	"github.com/ctrliq/trustdb/pkg/store"
)

// resolveHintlist implements the hint-list resolver (C7). It is called
// from insertLocked inside the same transaction as the SDIR→DIR
// promotion, so a crash between promotion and resolution can no longer
// leave deferred signatures stranded the way the original comment on
// process_hintlist flagged as unresolved.
func (e *Engine) resolveHintlist(tx store.Tx, hintlist uint32, hintOwner uint32) error {
	ownerRec, err := tx.Read(hintOwner, store.RecDir)
	if err != nil {
		return err
	}
	ownerDir := ownerRec.Payload.(store.DirPayload)
	if ownerDir.KeyList == 0 {
		return store.Corrupt(hintOwner, "promoted directory has no primary key")
	}
	ownerKeyRec, err := tx.Read(ownerDir.KeyList, store.RecKey)
	if err != nil {
		return err
	}
	ownerKeyID := pgp.KeyIDFromFingerprint(ownerKeyRec.Payload.(store.KeyPayload).Fingerprint)

	for hlstRN := hintlist; hlstRN != 0; {
		hrec, err := tx.Read(hlstRN, store.RecHlst)
		if err != nil {
			return err
		}
		hp := hrec.Payload.(store.HlstPayload)

		for _, lid := range hp.RNum {
			if lid == 0 {
				continue
			}
			if err := e.resolveHintEntry(tx, lid, hintOwner, ownerKeyID); err != nil {
				e.Log.WithError(err).WithField("lid", lid).Warn("while resolving hint-list entry")
			}
		}

		next := hp.Next
		if err := tx.Delete(hlstRN); err != nil {
			return err
		}
		hlstRN = next
	}
	return nil
}

// resolveHintEntry re-checks every SIG slot of lid's UIDs that refers
// back to hintOwner.
func (e *Engine) resolveHintEntry(tx store.Tx, lid uint32, hintOwner uint32, ownerKeyID uint64) error {
	dirRec, err := tx.Read(lid, "")
	if err != nil {
		return err
	}
	if dirRec.Type() != store.RecDir {
		e.Log.WithField("lid", lid).Warn("hint-list entry does not point to a dir record")
		return nil
	}
	dir := dirRec.Payload.(store.DirPayload)
	if dir.KeyList == 0 {
		e.Log.WithField("lid", lid).Warn("lid has no primary key")
		return nil
	}

	krec, err := tx.Read(dir.KeyList, store.RecKey)
	if err != nil {
		return err
	}
	fpr := krec.Payload.(store.KeyPayload).Fingerprint

	kb, err := e.Keyring.GetKeyblockByFingerprint(fpr)
	if err != nil {
		e.Log.WithError(err).WithField("lid", lid).Warn("can't get keyblock for hint-list entry")
		return nil
	}

	for uidRN := dir.UIDList; uidRN != 0; {
		uidRec, err := tx.Read(uidRN, store.RecUID)
		if err != nil {
			return err
		}
		uid := uidRec.Payload.(store.UIDPayload)

		for sigRN := uid.SigList; sigRN != 0; {
			sigRec, err := tx.Read(sigRN, store.RecSig)
			if err != nil {
				return err
			}
			sp := sigRec.Payload.(store.SigPayload)
			dirty := false

			for i := range sp.Sig {
				slot := &sp.Sig[i]
				if slot.LID == 0 || slot.LID != hintOwner {
					continue
				}
				if e.checkHintSig(kb, uid, slot, ownerKeyID, lid) {
					dirty = true
				}
			}

			if dirty {
				if err := tx.Write(store.Record{Num: sigRN, Payload: sp}); err != nil {
					return err
				}
			}
			sigRN = sp.Next
		}

		uidRN = uid.Next
	}
	return nil
}

// checkHintSig locates the signature packet in kb made by ownerKeyID over
// the user ID matching uid.NameHash, verifies it, and updates slot's
// flags. It reports whether it changed slot (check_hint_sig).
func (e *Engine) checkHintSig(kb *pgp.Keyblock, uid store.UIDPayload, slot *store.SigSlot, ownerKeyID uint64, lid uint32) bool {
	if slot.Flag&store.SigChecked != 0 {
		e.Log.WithField("lid", lid).Info("sig slot in hint list but already marked checked")
	}
	if slot.Flag&store.SigNoPubkey == 0 {
		e.Log.WithField("lid", lid).Info("sig slot in hint list but not marked no-pubkey")
	}

	sigIdx, uidNode := findHintSignature(kb, uid.NameHash, ownerKeyID)
	if sigIdx == -1 {
		e.Log.WithField("lid", lid).Info("user id matching hint list entry not found in keyblock")
		return false
	}
	_ = uidNode

	if kb.Primary().KeyId == ownerKeyID {
		e.Log.WithField("lid", lid).Error("self-signature encountered while resolving hint list")
		return false
	}

	if err := e.hintLimiter.Wait(context.Background()); err != nil {
		e.Log.WithError(err).WithField("lid", lid).Warn("hint list rate limiter wait failed")
	}

	valid, _, verr := e.Keyring.CheckKeySignature(kb, sigIdx)
	switch {
	case verr == nil && valid:
		slot.Flag = store.SigChecked | store.SigValid
	case verr == pgp.ErrNoPubkey:
		e.Log.WithField("lid", lid).Warn("hint list resolution found no public key, which is unexpected")
		slot.Flag = store.SigNoPubkey
	default:
		slot.Flag = store.SigChecked
	}
	return true
}

// findHintSignature walks kb looking for the user ID whose namehash
// matches want, then the first certification signature on it issued by
// ownerKeyID, mirroring check_hint_sig's single forward scan.
func findHintSignature(kb *pgp.Keyblock, want [20]byte, ownerKeyID uint64) (sigIdx int, uidIdx int) {
	state := 0
	curUIDIdx := -1

	for i, node := range kb.Nodes {
		switch node.Kind {
		case pgp.NodeUserID:
			if state != 0 {
				return -1, -1
			}
			if pgp.RMD160HashBuffer([]byte(node.UserID.Id)) == want {
				state = 1
				curUIDIdx = i
			}
		case pgp.NodeSignature:
			if state != 1 {
				continue
			}
			sig := node.Signature
			if sig.IssuerKeyId != nil && *sig.IssuerKeyId == ownerKeyID && isCertClass(sig.SigType) {
				return i, curUIDIdx
			}
		}
	}
	return -1, -1
}
