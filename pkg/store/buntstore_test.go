package store

import (
	"strings"
	"testing"
)

func openTestStore(t *testing.T) *BuntStore {
	t.Helper()
	st, err := Open("")
	if err != nil {
		t.Fatalf("while opening in-memory store: %s", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func TestNewRecnumMonotonic(t *testing.T) {
	st := openTestStore(t)

	var got []uint32
	err := st.Update(func(tx Tx) error {
		for i := 0; i < 3; i++ {
			n, err := tx.NewRecnum()
			if err != nil {
				return err
			}
			got = append(got, n)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %s", err)
	}

	want := []uint32{1, 2, 3}
	for i, w := range want {
		if got[i] != w {
			t.Errorf("recnum[%d]: got %d, want %d", i, got[i], w)
		}
	}
}

func TestWriteReadDelete(t *testing.T) {
	st := openTestStore(t)

	err := st.Update(func(tx Tx) error {
		return tx.Write(Record{Num: 1, Payload: DirPayload{LID: 1, OwnerTrust: 7}})
	})
	if err != nil {
		t.Fatalf("write: %s", err)
	}

	err = st.View(func(tx Tx) error {
		rec, err := tx.Read(1, RecDir)
		if err != nil {
			return err
		}
		dir := rec.Payload.(DirPayload)
		if dir.OwnerTrust != 7 {
			t.Errorf("ownertrust: got %d, want 7", dir.OwnerTrust)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %s", err)
	}

	err = st.View(func(tx Tx) error {
		_, err := tx.Read(1, RecKey)
		if err != ErrTypeMismatch {
			t.Errorf("expected ErrTypeMismatch, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %s", err)
	}

	err = st.Update(func(tx Tx) error {
		return tx.Delete(1)
	})
	if err != nil {
		t.Fatalf("delete: %s", err)
	}

	err = st.View(func(tx Tx) error {
		_, err := tx.Read(1, "")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound after delete, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %s", err)
	}
}

func TestSearchDirByFingerprint(t *testing.T) {
	st := openTestStore(t)
	fpr := []byte{0xAA, 0xBB, 0xCC, 0xDD, 0x01, 0x02, 0x03, 0x04}

	err := st.Update(func(tx Tx) error {
		if err := tx.Write(Record{Num: 1, Payload: DirPayload{LID: 1, KeyList: 2}}); err != nil {
			return err
		}
		return tx.Write(Record{Num: 2, Payload: KeyPayload{LID: 1, Fingerprint: fpr}})
	})
	if err != nil {
		t.Fatalf("update: %s", err)
	}

	err = st.View(func(tx Tx) error {
		rec, ok, err := tx.SearchDirByFingerprint(fpr)
		if err != nil {
			return err
		}
		if !ok || rec.Num != 1 {
			t.Errorf("expected to find dir record 1, got ok=%v rec=%d", ok, rec.Num)
		}

		_, ok, err = tx.SearchDirByFingerprint([]byte{0, 0, 0, 0, 0, 0, 0, 0})
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected no match for an unrelated fingerprint")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %s", err)
	}
}

func TestSearchSDir(t *testing.T) {
	st := openTestStore(t)

	err := st.Update(func(tx Tx) error {
		return tx.Write(Record{Num: 1, Payload: SDirPayload{LID: 1, KeyID: 0x1122334455667788, PubkeyAlgo: 1}})
	})
	if err != nil {
		t.Fatalf("update: %s", err)
	}

	err = st.View(func(tx Tx) error {
		rec, ok, err := tx.SearchSDir(0x1122334455667788, 0)
		if err != nil {
			return err
		}
		if !ok || rec.Num != 1 {
			t.Errorf("expected to find sdir 1 by keyid with algo wildcard, got ok=%v rec=%d", ok, rec.Num)
		}

		_, ok, err = tx.SearchSDir(0x1122334455667788, 2)
		if err != nil {
			return err
		}
		if ok {
			t.Error("expected no match for mismatched algo")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %s", err)
	}
}

func TestAscend(t *testing.T) {
	st := openTestStore(t)

	err := st.Update(func(tx Tx) error {
		for i := uint32(1); i <= 3; i++ {
			if err := tx.Write(Record{Num: i, Payload: DirPayload{LID: i}}); err != nil {
				return err
			}
		}
		return tx.Write(Record{Num: 10, Payload: KeyPayload{LID: 1}})
	})
	if err != nil {
		t.Fatalf("update: %s", err)
	}

	var seen []uint32
	err = st.View(func(tx Tx) error {
		return tx.Ascend(RecDir, func(rec Record) (bool, error) {
			seen = append(seen, rec.Num)
			return true, nil
		})
	})
	if err != nil {
		t.Fatalf("view: %s", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 dir records, got %d", len(seen))
	}
}

func TestDumpRecord(t *testing.T) {
	st := openTestStore(t)
	out := st.DumpRecord(Record{Num: 1, Payload: DirPayload{LID: 1, OwnerTrust: 5}})
	if !strings.HasPrefix(out, "dir 1:") {
		t.Errorf("unexpected dump output: %s", out)
	}
}
