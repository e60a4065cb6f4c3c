package trustdb

import (
	"github.com/ctrliq/trustdb/pkg/store"
)

// SigEntry is one live signature slot yielded by WalkSignatures: the UID
// it belongs to, the SIG record it lives in, its slot index, and the slot
// itself.
type SigEntry struct {
	UID    store.UIDPayload
	UIDRec store.Record
	SigRec store.Record
	Index  int
	Slot   store.SigSlot
}

// SigWalkFunc is called for each live slot. Returning false stops the
// walk early without error, the same short-circuit verify_key uses once
// a trust threshold is met.
type SigWalkFunc func(entry SigEntry) (cont bool, err error)

// WalkSignatures implements the signature-record iterator (C4): given a
// DIR's payload, it yields every non-zero signature slot in every SIG
// record chained off every UID of that directory, in UID-list order then
// UID.siglist order then slot index. A SIG record whose back-pointer lid
// does not match dirLID is a corrupt store, not a recoverable condition.
func WalkSignatures(tx store.Tx, dirLID uint32, dir store.DirPayload, fn SigWalkFunc) error {
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
			if sp.LID != dirLID {
				return store.Corrupt(sigRec.Num, "sig record owner lid %d does not match walking dir %d", sp.LID, dirLID)
			}

			for i, slot := range sp.Sig {
				if slot.LID == 0 {
					continue
				}
				cont, err := fn(SigEntry{UID: uid, UIDRec: uidRec, SigRec: sigRec, Index: i, Slot: slot})
				if err != nil {
					return err
				}
				if !cont {
					return nil
				}
			}

			sigRN = sp.Next
		}

		uidRN = uid.Next
	}
	return nil
}
