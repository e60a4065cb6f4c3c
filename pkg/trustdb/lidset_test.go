package trustdb

import "testing"

func TestLIDSetInsertLookup(t *testing.T) {
	s := NewLIDSet()

	if already := s.Insert(1, 7); already {
		t.Error("expected first insert of lid 1 to report not-already-present")
	}
	if already := s.Insert(2, 0); already {
		t.Error("expected first insert of lid 2 to report not-already-present")
	}
	if already := s.Insert(1, 99); !already {
		t.Error("expected second insert of lid 1 to report already-present")
	}

	flag, ok := s.Lookup(1)
	if !ok {
		t.Fatal("expected lid 1 to be found")
	}
	if flag != 7 {
		t.Errorf("expected the original flag 7 to survive a re-insert, got %d", flag)
	}

	if _, ok := s.Lookup(3); ok {
		t.Error("expected lid 3 to be absent")
	}

	if got := s.Len(); got != 2 {
		t.Errorf("len: got %d, want 2", got)
	}
}

func TestLIDSetRelease(t *testing.T) {
	s := NewLIDSet()
	s.Insert(1, 0)
	s.Insert(2, 0)

	s.Release()

	if got := s.Len(); got != 0 {
		t.Errorf("len after release: got %d, want 0", got)
	}
	if _, ok := s.Lookup(1); ok {
		t.Error("expected lid 1 to be gone after release")
	}
}
