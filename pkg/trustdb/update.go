package trustdb

import (
	"bytes"

	"golang.org/x/crypto/openpgp/packet"

	"github.com/ctrliq/trustdb/pkg/pgp"
	"github.com/ctrliq/trustdb/pkg/store"
)

// Update implements the update engine's primary entry point (C6): it
// rebuilds the persisted sub-graph for a keyblock's primary key, which
// must already have a DIR record.
func (e *Engine) Update(kb *pgp.Keyblock) (modified bool, err error) {
	fpr := pgp.FingerprintFromPublicKey(kb.Primary())

	err = e.Store.Update(func(tx store.Tx) error {
		rec, ok, err := tx.SearchDirByFingerprint(fpr)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotFound
		}
		modified, err = e.updateLocked(tx, rec.Num, kb)
		return err
	})
	return modified, err
}

// Insert bootstraps a DIR for fpr, reusing an existing SDIR's record
// number if one is present, then delegates to the update engine and
// finally drains the hint list inside the same transaction as the
// promotion (the resource leak the original hint-list code flagged is
// closed here, per trustdb's Open Question 4 decision).
func (e *Engine) Insert(fpr []byte) (lid uint32, err error) {
	err = e.Store.Update(func(tx store.Tx) error {
		l, err := e.insertLocked(tx, fpr)
		if err != nil {
			return err
		}
		lid = l
		return nil
	})
	return lid, err
}

func (e *Engine) insertLocked(tx store.Tx, fpr []byte) (uint32, error) {
	kb, err := e.Keyring.GetKeyblockByFingerprint(fpr)
	if err != nil {
		return 0, err
	}
	primary := kb.Primary()

	sdirRec, hasSDir, err := tx.SearchSDir(primary.KeyId, uint8(primary.PubKeyAlgo))
	if err != nil {
		return 0, err
	}

	var lid uint32
	var hintlist uint32
	if hasSDir {
		sp := sdirRec.Payload.(store.SDirPayload)
		hintlist = sp.HintList
		lid = sdirRec.Num
	} else {
		lid, err = tx.NewRecnum()
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Write(store.Record{Num: lid, Payload: store.DirPayload{LID: lid}}); err != nil {
		return 0, err
	}

	if _, err := e.updateLocked(tx, lid, kb); err != nil {
		return 0, err
	}

	if hintlist != 0 {
		if err := e.resolveHintlist(tx, hintlist, lid); err != nil {
			return 0, err
		}
	}

	return lid, nil
}

// updateLocked is §4.4 steps 1-6, run inside an already-open transaction
// against an already-resolved DIR record number.
func (e *Engine) updateLocked(tx store.Tx, dirLID uint32, kb *pgp.Keyblock) (bool, error) {
	rec, err := tx.Read(dirLID, store.RecDir)
	if err != nil {
		return false, err
	}
	dir := rec.Payload.(store.DirPayload)
	dir.LID = dirLID

	primaryKeyID := kb.Primary().KeyId

	visitedKeys := NewLIDSet()
	visitedUIDs := NewLIDSet()

	var curUIDRN uint32
	var curUID store.UIDPayload
	haveCurUID := false
	dirty := false

	for i, node := range kb.Nodes {
		switch node.Kind {
		case pgp.NodePublicKey, pgp.NodePublicSubkey:
			haveCurUID = false
			curUIDRN = 0
			created, err := e.updKeyRecord(tx, dirLID, &dir, node.PublicKey, visitedKeys)
			if err != nil {
				return false, err
			}
			dirty = dirty || created

		case pgp.NodeUserID:
			rn, uid, created, err := e.updUIDRecord(tx, dirLID, &dir, node.UserID, visitedUIDs)
			if err != nil {
				return false, err
			}
			curUIDRN, curUID, haveCurUID = rn, uid, true
			dirty = dirty || created

		case pgp.NodeSignature:
			changed, err := e.updSigRecord(tx, dirLID, primaryKeyID, kb, i, node.Signature, haveCurUID, &curUID)
			if err != nil {
				return false, err
			}
			if changed {
				dirty = true
				if haveCurUID {
					if err := tx.Write(store.Record{Num: curUIDRN, Payload: curUID}); err != nil {
						return false, err
					}
				}
			}
		}
	}

	keysChanged, err := e.sweepKeylist(tx, &dir, visitedKeys)
	if err != nil {
		return false, err
	}
	uidsChanged, err := e.sweepUIDList(tx, &dir, visitedUIDs)
	if err != nil {
		return false, err
	}
	dirty = dirty || keysChanged || uidsChanged

	if dirty {
		dir.DirFlags &^= store.DirChecked
		if err := tx.Write(store.Record{Num: dirLID, Payload: dir}); err != nil {
			return false, err
		}
	}

	return dirty, nil
}

// updKeyRecord matches-or-creates a KEY record for pk under dir,
// appending new records to the end of the keylist (upd_key_record).
func (e *Engine) updKeyRecord(tx store.Tx, dirLID uint32, dir *store.DirPayload, pk *packet.PublicKey, visited *LIDSet) (created bool, err error) {
	fpr := pgp.FingerprintFromPublicKey(pk)

	for recno := dir.KeyList; recno != 0; {
		rec, err := tx.Read(recno, store.RecKey)
		if err != nil {
			return false, err
		}
		kp := rec.Payload.(store.KeyPayload)
		if bytes.Equal(kp.Fingerprint, fpr) {
			visited.Insert(recno, 0)
			return false, nil
		}
		recno = kp.Next
	}

	newRN, err := tx.NewRecnum()
	if err != nil {
		return false, err
	}
	kp := store.KeyPayload{
		LID:            dirLID,
		PubkeyAlgo:     uint8(pk.PubKeyAlgo),
		FingerprintLen: uint8(len(fpr)),
		Fingerprint:    fpr,
	}
	if err := tx.Write(store.Record{Num: newRN, Payload: kp}); err != nil {
		return false, err
	}
	visited.Insert(newRN, 0)

	if dir.KeyList == 0 {
		dir.KeyList = newRN
		return true, nil
	}

	var lastRN uint32
	for recno := dir.KeyList; recno != 0; {
		rec, err := tx.Read(recno, store.RecKey)
		if err != nil {
			return false, err
		}
		lastRN = recno
		recno = rec.Payload.(store.KeyPayload).Next
	}
	lrec, err := tx.Read(lastRN, store.RecKey)
	if err != nil {
		return false, err
	}
	lkp := lrec.Payload.(store.KeyPayload)
	lkp.Next = newRN
	if err := tx.Write(store.Record{Num: lastRN, Payload: lkp}); err != nil {
		return false, err
	}
	return true, nil
}

// updUIDRecord matches-or-creates a UID record for uid under dir, keyed
// by namehash, appending new records to the end of the uidlist
// (upd_uid_record).
func (e *Engine) updUIDRecord(tx store.Tx, dirLID uint32, dir *store.DirPayload, uid *packet.UserId, visited *LIDSet) (uint32, store.UIDPayload, bool, error) {
	namehash := pgp.RMD160HashBuffer([]byte(uid.Id))

	for recno := dir.UIDList; recno != 0; {
		rec, err := tx.Read(recno, store.RecUID)
		if err != nil {
			return 0, store.UIDPayload{}, false, err
		}
		up := rec.Payload.(store.UIDPayload)
		if up.NameHash == namehash {
			visited.Insert(recno, 0)
			return recno, up, false, nil
		}
		recno = up.Next
	}

	newRN, err := tx.NewRecnum()
	if err != nil {
		return 0, store.UIDPayload{}, false, err
	}
	up := store.UIDPayload{LID: dirLID, NameHash: namehash}
	if err := tx.Write(store.Record{Num: newRN, Payload: up}); err != nil {
		return 0, store.UIDPayload{}, false, err
	}
	visited.Insert(newRN, 0)

	if dir.UIDList == 0 {
		dir.UIDList = newRN
		return newRN, up, true, nil
	}

	var lastRN uint32
	for recno := dir.UIDList; recno != 0; {
		rec, err := tx.Read(recno, store.RecUID)
		if err != nil {
			return 0, store.UIDPayload{}, false, err
		}
		lastRN = recno
		recno = rec.Payload.(store.UIDPayload).Next
	}
	lrec, err := tx.Read(lastRN, store.RecUID)
	if err != nil {
		return 0, store.UIDPayload{}, false, err
	}
	lup := lrec.Payload.(store.UIDPayload)
	lup.Next = newRN
	if err := tx.Write(store.Record{Num: lastRN, Payload: lup}); err != nil {
		return 0, store.UIDPayload{}, false, err
	}
	return newRN, up, true, nil
}

// sigTypeCertificationRevocation is RFC 4880's certification revocation
// signature type (0x30); the vendored openpgp/packet fork doesn't export it.
const sigTypeCertificationRevocation packet.SignatureType = 0x30

// isCertClass reports whether t is a UID certification (0x10..0x13).
func isCertClass(t packet.SignatureType) bool {
	return uint8(t)&0xfc == 0x10
}

func (e *Engine) updSigRecord(tx store.Tx, dirLID uint32, primaryKeyID uint64, kb *pgp.Keyblock, sigIdx int, sig *packet.Signature, haveCurUID bool, curUID *store.UIDPayload) (bool, error) {
	var signerKeyID uint64
	if sig.IssuerKeyId != nil {
		signerKeyID = *sig.IssuerKeyId
	}

	if !haveCurUID {
		switch sig.SigType {
		case packet.SigTypeSubkeyBinding, packet.SigTypeKeyRevocation, packet.SigTypeSubkeyRevocation:
			e.Log.WithField("class", sig.SigType).Debug("key-level signature without current uid, not yet bound")
		default:
			e.Log.WithField("class", sig.SigType).Warn("signature without user id, skipped")
		}
		return false, nil
	}

	if signerKeyID == primaryKeyID && isCertClass(sig.SigType) {
		return e.updSelfKeySigs(tx, dirLID, kb, sigIdx, sig, curUID)
	}
	if isCertClass(sig.SigType) {
		return e.updNonSelfKeySigs(tx, kb, sigIdx, sig, curUID)
	}

	switch sig.SigType {
	case packet.SigTypeSubkeyBinding, packet.SigTypeKeyRevocation,
		packet.SigTypeSubkeyRevocation, sigTypeCertificationRevocation:
		e.Log.WithField("class", sig.SigType).Debug("recognized signature class not yet acted on")
	default:
		e.Log.WithField("class", sig.SigType).Debug("bogus signature class for this context, skipped")
	}
	return false, nil
}

// updSelfKeySigs verifies a self-signature on the current UID and, on
// success, rebuilds its preference chain (upd_self_key_sigs).
func (e *Engine) updSelfKeySigs(tx store.Tx, dirLID uint32, kb *pgp.Keyblock, sigIdx int, sig *packet.Signature, uid *store.UIDPayload) (bool, error) {
	if uid.UIDFlags&store.UIDChecked != 0 {
		return false, nil
	}

	valid, _, verr := e.Keyring.CheckKeySignature(kb, sigIdx)
	if verr == nil && valid {
		if err := e.rebuildPrefRecord(tx, dirLID, uid, sig); err != nil {
			return false, err
		}
		uid.UIDFlags = store.UIDChecked | store.UIDValid
	} else {
		uid.UIDFlags = store.UIDChecked
	}
	return true, nil
}

// rebuildPrefRecord deletes a UID's existing PREF chain and rebuilds it
// from a self-signature's preference subpackets (upd_pref_record).
func (e *Engine) rebuildPrefRecord(tx store.Tx, dirLID uint32, uid *store.UIDPayload, sig *packet.Signature) error {
	for rn := uid.PrefRec; rn != 0; {
		rec, err := tx.Read(rn, store.RecPref)
		if err != nil {
			return err
		}
		next := rec.Payload.(store.PrefPayload).Next
		if err := tx.Delete(rn); err != nil {
			return err
		}
		rn = next
	}

	var items []store.PrefItem
	for _, a := range pgp.PreferredSymmetric(sig) {
		items = append(items, store.PrefItem{Type: store.PrefSym, Algo: a})
	}
	for _, a := range pgp.PreferredHash(sig) {
		items = append(items, store.PrefItem{Type: store.PrefHash, Algo: a})
	}
	for _, a := range pgp.PreferredCompression(sig) {
		items = append(items, store.PrefItem{Type: store.PrefCompress, Algo: a})
	}

	if len(items) == 0 {
		uid.PrefRec = 0
		return nil
	}

	var recnos []uint32
	for i := 0; i < len(items); i += store.ItemsPerPrefRecord {
		chunk := items[i:min(i+store.ItemsPerPrefRecord, len(items))]
		rn, err := tx.NewRecnum()
		if err != nil {
			return err
		}
		var data [store.ItemsPerPrefRecord]store.PrefItem
		copy(data[:], chunk)
		if err := tx.Write(store.Record{Num: rn, Payload: store.PrefPayload{LID: dirLID, Data: data}}); err != nil {
			return err
		}
		recnos = append(recnos, rn)
	}
	for i := 0; i < len(recnos)-1; i++ {
		rec, err := tx.Read(recnos[i], store.RecPref)
		if err != nil {
			return err
		}
		pp := rec.Payload.(store.PrefPayload)
		pp.Next = recnos[i+1]
		if err := tx.Write(store.Record{Num: recnos[i], Payload: pp}); err != nil {
			return err
		}
	}
	uid.PrefRec = recnos[0]
	return nil
}

// updNonSelfKeySigs implements §4.4.1: reconciling a cross-signature on
// the current UID against its existing SIG slots, verifying eagerly
// where the target DIR is present and deferring via a shadow directory
// where it is not.
func (e *Engine) updNonSelfKeySigs(tx store.Tx, kb *pgp.Keyblock, sigIdx int, sig *packet.Signature, uid *store.UIDPayload) (bool, error) {
	var signerKeyID uint64
	if sig.IssuerKeyId != nil {
		signerKeyID = *sig.IssuerKeyId
	}
	algo := uint8(sig.PubKeyAlgo)

	var pkL uint32
	if signerPK, err := e.Keyring.GetPublicKey(signerKeyID); err == nil {
		fpr := pgp.FingerprintFromPublicKey(signerPK)
		rec, ok, err := tx.SearchDirByFingerprint(fpr)
		if err != nil {
			return false, err
		}
		if ok {
			pkL = rec.Num
		}
	}
	if pkL == 0 {
		rec, ok, err := tx.SearchSDir(signerKeyID, algo)
		if err != nil {
			return false, err
		}
		if ok {
			pkL = rec.Num
		}
	}

	found := false
	var emptyRN uint32
	emptyIdx := -1

	for sigRN := uid.SigList; sigRN != 0; {
		rec, err := tx.Read(sigRN, store.RecSig)
		if err != nil {
			return false, err
		}
		sp := rec.Payload.(store.SigPayload)
		dirty := false

		for i := range sp.Sig {
			slot := &sp.Sig[i]
			if slot.LID == 0 {
				if emptyIdx == -1 {
					emptyRN, emptyIdx = sigRN, i
				}
				continue
			}
			if pkL != 0 && slot.LID == pkL {
				if found {
					slot.LID = 0
					dirty = true
					continue
				}
				found = true
			}
			if slot.Flag&store.SigChecked != 0 || slot.Flag&store.SigNoPubkey != 0 {
				continue
			}

			tgt, err := tx.Read(slot.LID, "")
			if err != nil {
				return false, err
			}
			switch tgt.Type() {
			case store.RecDir:
				valid, _, verr := e.Keyring.CheckKeySignature(kb, sigIdx)
				switch {
				case verr == nil && valid:
					slot.Flag = store.SigChecked | store.SigValid
				case verr == pgp.ErrNoPubkey:
					slot.Flag = store.SigNoPubkey
				default:
					slot.Flag = store.SigChecked
				}
				dirty = true
			case store.RecSDir:
				sdp := tgt.Payload.(store.SDirPayload)
				if sdp.KeyID == signerKeyID && (sdp.PubkeyAlgo == 0 || sdp.PubkeyAlgo == algo) {
					slot.Flag = store.SigNoPubkey
					dirty = true
				}
			default:
				return false, store.Corrupt(sigRN, "sig slot %d targets record %d which is neither dir nor sdir", i, slot.LID)
			}
		}

		if dirty {
			if err := tx.Write(store.Record{Num: sigRN, Payload: sp}); err != nil {
				return false, err
			}
		}
		sigRN = sp.Next
	}

	if found {
		return false, nil
	}

	var newLID uint32
	var newFlag store.SigFlag
	var err error
	if pkL == 0 {
		newLID, err = e.createShadowDir(tx, signerKeyID, algo, uid.LID)
		if err != nil {
			return false, err
		}
		newFlag = store.SigNoPubkey
	} else {
		valid, _, verr := e.Keyring.CheckKeySignature(kb, sigIdx)
		switch {
		case verr == nil && valid:
			newLID, newFlag = pkL, store.SigChecked|store.SigValid
		case verr == pgp.ErrNoPubkey:
			newLID, err = e.createShadowDir(tx, signerKeyID, algo, uid.LID)
			if err != nil {
				return false, err
			}
			newFlag = store.SigNoPubkey
		default:
			newLID, err = e.createShadowDir(tx, signerKeyID, algo, uid.LID)
			if err != nil {
				return false, err
			}
			newFlag = store.SigChecked
		}
	}

	if emptyIdx != -1 {
		rec, err := tx.Read(emptyRN, store.RecSig)
		if err != nil {
			return false, err
		}
		sp := rec.Payload.(store.SigPayload)
		sp.Sig[emptyIdx] = store.SigSlot{LID: newLID, Flag: newFlag}
		if err := tx.Write(store.Record{Num: emptyRN, Payload: sp}); err != nil {
			return false, err
		}
		return true, nil
	}

	newRN, err := tx.NewRecnum()
	if err != nil {
		return false, err
	}
	sp := store.SigPayload{LID: uid.LID, Next: uid.SigList}
	sp.Sig[0] = store.SigSlot{LID: newLID, Flag: newFlag}
	if err := tx.Write(store.Record{Num: newRN, Payload: sp}); err != nil {
		return false, err
	}
	uid.SigList = newRN
	return true, nil
}

// createShadowDir implements §4.4.2: find-or-create an SDIR for
// (keyid, algo) and ensure signedLID is recorded in its hint list.
func (e *Engine) createShadowDir(tx store.Tx, keyid uint64, algo uint8, signedLID uint32) (uint32, error) {
	rec, ok, err := tx.SearchSDir(keyid, algo)
	if err != nil {
		return 0, err
	}

	var sdirRN uint32
	var sdir store.SDirPayload
	if ok {
		sdirRN = rec.Num
		sdir = rec.Payload.(store.SDirPayload)
	} else {
		sdirRN, err = tx.NewRecnum()
		if err != nil {
			return 0, err
		}
		sdir = store.SDirPayload{LID: sdirRN, KeyID: keyid, PubkeyAlgo: algo}
		if err := tx.Write(store.Record{Num: sdirRN, Payload: sdir}); err != nil {
			return 0, err
		}
	}

	var freeRN uint32
	freeIdx := -1
	for hlRN := sdir.HintList; hlRN != 0; {
		hrec, err := tx.Read(hlRN, store.RecHlst)
		if err != nil {
			return 0, err
		}
		hp := hrec.Payload.(store.HlstPayload)
		for i, v := range hp.RNum {
			if v == 0 {
				if freeIdx == -1 {
					freeRN, freeIdx = hlRN, i
				}
			} else if v == signedLID {
				return sdirRN, nil
			}
		}
		hlRN = hp.Next
	}

	if freeIdx != -1 {
		hrec, err := tx.Read(freeRN, store.RecHlst)
		if err != nil {
			return 0, err
		}
		hp := hrec.Payload.(store.HlstPayload)
		hp.RNum[freeIdx] = signedLID
		if err := tx.Write(store.Record{Num: freeRN, Payload: hp}); err != nil {
			return 0, err
		}
		return sdirRN, nil
	}

	newRN, err := tx.NewRecnum()
	if err != nil {
		return 0, err
	}
	hp := store.HlstPayload{Next: sdir.HintList}
	hp.RNum[0] = signedLID
	if err := tx.Write(store.Record{Num: newRN, Payload: hp}); err != nil {
		return 0, err
	}

	sdir.HintList = newRN
	if err := tx.Write(store.Record{Num: sdirRN, Payload: sdir}); err != nil {
		return 0, err
	}
	return sdirRN, nil
}

func (e *Engine) sweepKeylist(tx store.Tx, dir *store.DirPayload, visited *LIDSet) (bool, error) {
	changed := false
	var lastRN uint32

	for recno := dir.KeyList; recno != 0; {
		rec, err := tx.Read(recno, store.RecKey)
		if err != nil {
			return false, err
		}
		kp := rec.Payload.(store.KeyPayload)
		next := kp.Next

		if _, ok := visited.Lookup(recno); !ok {
			if lastRN == 0 {
				dir.KeyList = next
			} else {
				lrec, err := tx.Read(lastRN, store.RecKey)
				if err != nil {
					return false, err
				}
				lkp := lrec.Payload.(store.KeyPayload)
				lkp.Next = next
				if err := tx.Write(store.Record{Num: lastRN, Payload: lkp}); err != nil {
					return false, err
				}
			}
			if err := tx.Delete(recno); err != nil {
				return false, err
			}
			changed = true
		} else {
			lastRN = recno
		}
		recno = next
	}
	return changed, nil
}

func (e *Engine) sweepUIDList(tx store.Tx, dir *store.DirPayload, visited *LIDSet) (bool, error) {
	changed := false
	var lastRN uint32

	for recno := dir.UIDList; recno != 0; {
		rec, err := tx.Read(recno, store.RecUID)
		if err != nil {
			return false, err
		}
		up := rec.Payload.(store.UIDPayload)
		next := up.Next

		if _, ok := visited.Lookup(recno); !ok {
			if lastRN == 0 {
				dir.UIDList = next
			} else {
				lrec, err := tx.Read(lastRN, store.RecUID)
				if err != nil {
					return false, err
				}
				lup := lrec.Payload.(store.UIDPayload)
				lup.Next = next
				if err := tx.Write(store.Record{Num: lastRN, Payload: lup}); err != nil {
					return false, err
				}
			}
			for pr := up.PrefRec; pr != 0; {
				prec, err := tx.Read(pr, store.RecPref)
				if err != nil {
					return false, err
				}
				pp := prec.Payload.(store.PrefPayload)
				if err := tx.Delete(pr); err != nil {
					return false, err
				}
				pr = pp.Next
			}
			for sr := up.SigList; sr != 0; {
				srec, err := tx.Read(sr, store.RecSig)
				if err != nil {
					return false, err
				}
				sp := srec.Payload.(store.SigPayload)
				if err := tx.Delete(sr); err != nil {
					return false, err
				}
				sr = sp.Next
			}
			if err := tx.Delete(recno); err != nil {
				return false, err
			}
			changed = true
		} else {
			lastRN = recno
		}
		recno = next
	}
	return changed, nil
}
