package store

import (
	"encoding/json"
	"testing"
)

func TestRecordMarshalRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		rec  Record
	}{
		{"dir", Record{Num: 1, Payload: DirPayload{LID: 1, OwnerTrust: 5, DirFlags: DirChecked, KeyList: 2, UIDList: 3}}},
		{"sdir", Record{Num: 4, Payload: SDirPayload{LID: 4, KeyID: 0xdeadbeef, PubkeyAlgo: 1, HintList: 9}}},
		{"key", Record{Num: 2, Payload: KeyPayload{LID: 1, PubkeyAlgo: 1, FingerprintLen: 20, Fingerprint: []byte{1, 2, 3}, Next: 0}}},
		{"uid", Record{Num: 3, Payload: UIDPayload{LID: 1, NameHash: [20]byte{9}, UIDFlags: UIDValid, SigList: 5, PrefRec: 6, Next: 0}}},
		{"sig", Record{Num: 5, Payload: SigPayload{LID: 3, Sig: [SigsPerRecord]SigSlot{{LID: 1, Flag: SigChecked | SigValid}}, Next: 0}}},
		{"pref", Record{Num: 6, Payload: PrefPayload{LID: 1, Data: [ItemsPerPrefRecord]PrefItem{{Type: PrefSym, Algo: 9}}, Next: 0}}},
		{"hlst", Record{Num: 9, Payload: HlstPayload{RNum: [ItemsPerHlstRecord]uint32{42}, Next: 0}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.rec)
			if err != nil {
				t.Fatalf("marshal: %s", err)
			}

			var got Record
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("unmarshal: %s", err)
			}

			if got.Num != tc.rec.Num {
				t.Errorf("recnum: got %d, want %d", got.Num, tc.rec.Num)
			}
			if got.Type() != tc.rec.Type() {
				t.Errorf("rectype: got %s, want %s", got.Type(), tc.rec.Type())
			}
			if gb, _ := json.Marshal(got.Payload); true {
				wb, _ := json.Marshal(tc.rec.Payload)
				if string(gb) != string(wb) {
					t.Errorf("payload: got %s, want %s", gb, wb)
				}
			}
		})
	}
}

func TestRecordUnmarshalUnknownType(t *testing.T) {
	b := []byte(`{"recnum":1,"rectype":"bogus","payload":{}}`)
	var rec Record
	if err := json.Unmarshal(b, &rec); err == nil {
		t.Fatal("expected an error for an unknown rectype")
	}
}

func TestZeroRecordType(t *testing.T) {
	var rec Record
	if got := rec.Type(); got != "" {
		t.Errorf("zero record type: got %q, want empty", got)
	}
}
