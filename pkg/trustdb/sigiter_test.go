package trustdb

import (
	"testing"

	"github.com/ctrliq/trustdb/pkg/store"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open("")
	if err != nil {
		t.Fatalf("while opening in-memory store: %s", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// buildTwoUIDWalk writes a DIR with two UIDs, the first chained to two SIG
// records (one slot each, plus a zero slot to skip), the second to one SIG
// record with two live slots, and returns the DIR's payload and LID.
func buildTwoUIDWalk(t *testing.T, st store.Store) (uint32, store.DirPayload) {
	t.Helper()

	err := st.Update(func(tx store.Tx) error {
		// record numbers, chosen by hand for a predictable chain
		const (
			dirRN  = 1
			uid1RN = 2
			uid2RN = 3
			sig1RN = 4
			sig2RN = 5
			sig3RN = 6
		)

		if err := tx.Write(store.Record{Num: uid1RN, Payload: store.UIDPayload{
			LID: dirRN, SigList: sig1RN, Next: uid2RN,
		}}); err != nil {
			return err
		}
		if err := tx.Write(store.Record{Num: uid2RN, Payload: store.UIDPayload{
			LID: dirRN, SigList: sig3RN, Next: 0,
		}}); err != nil {
			return err
		}
		if err := tx.Write(store.Record{Num: sig1RN, Payload: store.SigPayload{
			LID: dirRN,
			Sig: [store.SigsPerRecord]store.SigSlot{
				{LID: 100, Flag: store.SigChecked},
			},
			Next: sig2RN,
		}}); err != nil {
			return err
		}
		if err := tx.Write(store.Record{Num: sig2RN, Payload: store.SigPayload{
			LID: dirRN,
			Sig: [store.SigsPerRecord]store.SigSlot{
				{LID: 101, Flag: store.SigValid},
			},
			Next: 0,
		}}); err != nil {
			return err
		}
		if err := tx.Write(store.Record{Num: sig3RN, Payload: store.SigPayload{
			LID: dirRN,
			Sig: [store.SigsPerRecord]store.SigSlot{
				{LID: 102, Flag: store.SigChecked},
				{LID: 103, Flag: store.SigChecked | store.SigValid},
			},
			Next: 0,
		}}); err != nil {
			return err
		}
		return tx.Write(store.Record{Num: dirRN, Payload: store.DirPayload{
			LID: dirRN, UIDList: uid1RN,
		}})
	})
	if err != nil {
		t.Fatalf("while seeding walk fixture: %s", err)
	}

	return 1, store.DirPayload{LID: 1, UIDList: 2}
}

func TestWalkSignaturesOrderAndSkipsZeroSlots(t *testing.T) {
	st := openTestStore(t)
	dirLID, dir := buildTwoUIDWalk(t, st)

	var signers []uint32
	err := st.View(func(tx store.Tx) error {
		return WalkSignatures(tx, dirLID, dir, func(e SigEntry) (bool, error) {
			signers = append(signers, e.Slot.LID)
			return true, nil
		})
	})
	if err != nil {
		t.Fatalf("walk: %s", err)
	}

	want := []uint32{100, 101, 102, 103}
	if len(signers) != len(want) {
		t.Fatalf("got %d signer lids, want %d: %v", len(signers), len(want), signers)
	}
	for i := range want {
		if signers[i] != want[i] {
			t.Errorf("signer[%d]: got %d, want %d", i, signers[i], want[i])
		}
	}
}

func TestWalkSignaturesEarlyStop(t *testing.T) {
	st := openTestStore(t)
	dirLID, dir := buildTwoUIDWalk(t, st)

	var signers []uint32
	err := st.View(func(tx store.Tx) error {
		return WalkSignatures(tx, dirLID, dir, func(e SigEntry) (bool, error) {
			signers = append(signers, e.Slot.LID)
			return e.Slot.LID != 100, nil
		})
	})
	if err != nil {
		t.Fatalf("walk: %s", err)
	}

	if len(signers) != 1 || signers[0] != 100 {
		t.Errorf("expected the walk to stop after the first slot, got %v", signers)
	}
}

func TestWalkSignaturesCorruptOwnerLID(t *testing.T) {
	st := openTestStore(t)

	err := st.Update(func(tx store.Tx) error {
		if err := tx.Write(store.Record{Num: 2, Payload: store.UIDPayload{LID: 1, SigList: 3}}); err != nil {
			return err
		}
		if err := tx.Write(store.Record{Num: 3, Payload: store.SigPayload{
			LID: 999, // does not match the dir being walked
			Sig: [store.SigsPerRecord]store.SigSlot{{LID: 5, Flag: store.SigChecked}},
		}}); err != nil {
			return err
		}
		return tx.Write(store.Record{Num: 1, Payload: store.DirPayload{LID: 1, UIDList: 2}})
	})
	if err != nil {
		t.Fatalf("seed: %s", err)
	}

	err = st.View(func(tx store.Tx) error {
		return WalkSignatures(tx, 1, store.DirPayload{LID: 1, UIDList: 2}, func(e SigEntry) (bool, error) {
			return true, nil
		})
	})
	if err == nil {
		t.Fatal("expected an error for a sig record whose owner lid does not match")
	}
}
