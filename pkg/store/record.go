// Package store implements the fixed-schema record store that backs the
// trust database: typed records addressed by a monotonic record number,
// read/written/deleted through buntdb-backed transactions.
package store

import (
	"encoding/json"
	"fmt"
)

// RecType is the discriminant of the on-disk record sum type.
type RecType string

const (
	RecDir  RecType = "dir"
	RecSDir RecType = "sdir"
	RecKey  RecType = "key"
	RecUID  RecType = "uid"
	RecSig  RecType = "sig"
	RecPref RecType = "pref"
	RecHlst RecType = "hlst"
)

// Slot capacities for the chained record kinds. These are implementation
// parameters, not wire-format constants inherited from anywhere else.
const (
	SigsPerRecord      = 6
	ItemsPerPrefRecord = 15
	ItemsPerHlstRecord = 10
)

// DirFlag holds the DIR.dirflags bits (spec §3).
type DirFlag uint8

const (
	DirChecked DirFlag = 1 << iota
	DirRevoked
)

// UIDFlag holds the UID.uidflags bits.
type UIDFlag uint8

const (
	UIDChecked UIDFlag = 1 << iota
	UIDValid
)

// SigFlag holds a signature slot's flag bits.
type SigFlag uint8

const (
	SigChecked SigFlag = 1 << iota
	SigValid
	SigExpired
	SigRevoked
	SigNoPubkey
)

// PrefType identifies which preference list a PrefItem belongs to.
type PrefType uint8

const (
	PrefSym PrefType = iota + 1
	PrefHash
	PrefCompress
)

// SigSlot is one (lid, flag) pair inside a SIG record.
type SigSlot struct {
	LID  uint32  `json:"lid"`
	Flag SigFlag `json:"flag"`
}

// PrefItem is one (preftype, algo) pair inside a PREF record.
type PrefItem struct {
	Type PrefType `json:"type"`
	Algo uint8    `json:"algo"`
}

// DirPayload is the DIR record body.
type DirPayload struct {
	LID        uint32  `json:"lid"`
	OwnerTrust uint8   `json:"ownertrust"`
	DirFlags   DirFlag `json:"dirflags"`
	KeyList    uint32  `json:"keylist"`
	UIDList    uint32  `json:"uidlist"`
}

// SDirPayload is the SDIR (shadow directory) record body.
type SDirPayload struct {
	LID        uint32 `json:"lid"`
	KeyID      uint64 `json:"keyid"`
	PubkeyAlgo uint8  `json:"pubkey_algo"`
	HintList   uint32 `json:"hintlist"`
}

// KeyPayload is the KEY record body.
type KeyPayload struct {
	LID            uint32 `json:"lid"`
	PubkeyAlgo     uint8  `json:"pubkey_algo"`
	FingerprintLen uint8  `json:"fingerprint_len"`
	Fingerprint    []byte `json:"fingerprint"`
	Next           uint32 `json:"next"`
}

// UIDPayload is the UID record body.
type UIDPayload struct {
	LID       uint32   `json:"lid"`
	NameHash  [20]byte `json:"namehash"`
	UIDFlags  UIDFlag  `json:"uidflags"`
	SigList   uint32   `json:"siglist"`
	PrefRec   uint32   `json:"prefrec"`
	Next      uint32   `json:"next"`
}

// SigPayload is a SIG record body, holding SigsPerRecord slots.
type SigPayload struct {
	LID  uint32                 `json:"lid"`
	Sig  [SigsPerRecord]SigSlot `json:"sig"`
	Next uint32                 `json:"next"`
}

// PrefPayload is a PREF record body, holding ItemsPerPrefRecord items.
type PrefPayload struct {
	LID  uint32                        `json:"lid"`
	Data [ItemsPerPrefRecord]PrefItem  `json:"data"`
	Next uint32                        `json:"next"`
}

// HlstPayload is a HLST record body, holding ItemsPerHlstRecord LIDs.
type HlstPayload struct {
	RNum [ItemsPerHlstRecord]uint32 `json:"rnum"`
	Next uint32                    `json:"next"`
}

// Payload is implemented by each of the record body types above.
type Payload interface {
	recType() RecType
}

func (DirPayload) recType() RecType  { return RecDir }
func (SDirPayload) recType() RecType { return RecSDir }
func (KeyPayload) recType() RecType  { return RecKey }
func (UIDPayload) recType() RecType  { return RecUID }
func (SigPayload) recType() RecType  { return RecSig }
func (PrefPayload) recType() RecType { return RecPref }
func (HlstPayload) recType() RecType { return RecHlst }

// Record is a single stored record: a record number plus its typed payload.
type Record struct {
	Num     uint32
	Payload Payload
}

// Type returns the record's type discriminant, or "" for a zero Record.
func (r Record) Type() RecType {
	if r.Payload == nil {
		return ""
	}
	return r.Payload.recType()
}

type wireRecord struct {
	Recnum  uint32          `json:"recnum"`
	Rectype RecType         `json:"rectype"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalJSON encodes the record as {recnum, rectype, payload}.
func (r Record) MarshalJSON() ([]byte, error) {
	b, err := json.Marshal(r.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireRecord{Recnum: r.Num, Rectype: r.Type(), Payload: b})
}

// UnmarshalJSON decodes a record, dispatching on its rectype field.
func (r *Record) UnmarshalJSON(b []byte) error {
	var w wireRecord
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}

	var p Payload
	switch w.Rectype {
	case RecDir:
		var v DirPayload
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case RecSDir:
		var v SDirPayload
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case RecKey:
		var v KeyPayload
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case RecUID:
		var v UIDPayload
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case RecSig:
		var v SigPayload
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case RecPref:
		var v PrefPayload
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	case RecHlst:
		var v HlstPayload
		if err := json.Unmarshal(w.Payload, &v); err != nil {
			return err
		}
		p = v
	default:
		return fmt.Errorf("store: unknown record type %q", w.Rectype)
	}

	r.Num = w.Recnum
	r.Payload = p
	return nil
}
