package store

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/buntdb"
	"github.com/tidwall/gjson"
)

const (
	recPrefix    = "rec:"
	fprPrefix    = "fpr:"
	nextRecnoKey = "meta:next-recno"
	typeIndex    = "rec_type"
)

// BuntStore is the buntdb-backed implementation of Store, built the same
// way internal/pkg/defaultdb/defaultdb.go wraps a *buntdb.DB: records live
// under a key prefix, a secondary index mirrors one JSON field, and every
// mutation happens inside a db.Update callback.
type BuntStore struct {
	db *buntdb.DB
}

// Open opens (or creates) a record store at path. An empty path opens an
// in-memory store, for tests, the same as defaultdb.Connect treats an empty
// Config.Dir.
func Open(path string) (*BuntStore, error) {
	var db *buntdb.DB
	var err error

	if path == "" {
		db, err = buntdb.Open(":memory:")
	} else {
		db, err = buntdb.Open(path)
	}
	if err != nil {
		return nil, err
	}

	indexes, err := db.Indexes()
	if err != nil {
		return nil, err
	}

	haveIndex := false
	for _, idx := range indexes {
		if idx == typeIndex {
			haveIndex = true
		}
	}
	if !haveIndex {
		if err := db.CreateIndex(typeIndex, recPrefix+"*", buntdb.IndexJSON("rectype")); err != nil {
			return nil, fmt.Errorf("while creating %s index: %s", typeIndex, err)
		}
	}

	return &BuntStore{db: db}, nil
}

func recKey(recno uint32) string {
	return fmt.Sprintf("%s%010d", recPrefix, recno)
}

func fprKey(fpr []byte) string {
	return fprPrefix + strings.ToUpper(hex.EncodeToString(fpr))
}

func (s *BuntStore) Update(fn func(Tx) error) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		btx := &buntTx{tx: tx}
		return fn(btx)
	})
}

func (s *BuntStore) View(fn func(Tx) error) error {
	return s.db.View(func(tx *buntdb.Tx) error {
		btx := &buntTx{tx: tx, readOnly: true}
		return fn(btx)
	})
}

func (s *BuntStore) Sync() error {
	return s.db.Shrink()
}

func (s *BuntStore) Close() error {
	return s.db.Close()
}

// DumpRecord renders a record as a single debug line, picking out a few
// scalar fields with gjson rather than re-unmarshalling the whole payload,
// the way defaultdb.Get's text-search path uses gjson.GetMany.
func (s *BuntStore) DumpRecord(rec Record) string {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Sprintf("rec %d: <marshal error: %s>", rec.Num, err)
	}
	js := string(b)

	switch rec.Type() {
	case RecDir:
		r := gjson.GetMany(js, "payload.lid", "payload.ownertrust", "payload.dirflags")
		return fmt.Sprintf("dir %d: lid=%s ownertrust=%s dirflags=%s", rec.Num, r[0], r[1], r[2])
	case RecSDir:
		r := gjson.GetMany(js, "payload.lid", "payload.keyid", "payload.pubkey_algo")
		return fmt.Sprintf("sdir %d: lid=%s keyid=%s algo=%s", rec.Num, r[0], r[1], r[2])
	case RecKey:
		r := gjson.GetMany(js, "payload.lid", "payload.pubkey_algo")
		return fmt.Sprintf("key %d: lid=%s algo=%s", rec.Num, r[0], r[1])
	case RecUID:
		r := gjson.GetMany(js, "payload.lid", "payload.uidflags")
		return fmt.Sprintf("uid %d: lid=%s uidflags=%s", rec.Num, r[0], r[1])
	case RecSig:
		r := gjson.GetMany(js, "payload.lid", "payload.next")
		return fmt.Sprintf("sig %d: lid=%s next=%s", rec.Num, r[0], r[1])
	case RecPref:
		r := gjson.GetMany(js, "payload.lid", "payload.next")
		return fmt.Sprintf("pref %d: lid=%s next=%s", rec.Num, r[0], r[1])
	case RecHlst:
		r := gjson.GetMany(js, "payload.next")
		return fmt.Sprintf("hlst %d: next=%s", rec.Num, r[0])
	default:
		return fmt.Sprintf("rec %d: <unknown type>", rec.Num)
	}
}

type buntTx struct {
	tx       *buntdb.Tx
	readOnly bool
	dirty    bool
}

func (t *buntTx) IsDirty() bool { return t.dirty }

func (t *buntTx) Read(recno uint32, want RecType) (Record, error) {
	val, err := t.tx.Get(recKey(recno))
	if err == buntdb.ErrNotFound {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, err
	}

	var rec Record
	if err := json.Unmarshal([]byte(val), &rec); err != nil {
		return Record{}, Corrupt(recno, "while decoding record: %s", err)
	}

	if want != "" && rec.Type() != want {
		return Record{}, ErrTypeMismatch
	}

	return rec, nil
}

func (t *buntTx) Write(rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	if _, _, err := t.tx.Set(recKey(rec.Num), string(b), nil); err != nil {
		return err
	}
	t.dirty = true

	if kp, ok := rec.Payload.(KeyPayload); ok {
		if _, _, err := t.tx.Set(fprKey(kp.Fingerprint), strconv.FormatUint(uint64(kp.LID), 10), nil); err != nil {
			return err
		}
	}

	return nil
}

func (t *buntTx) Delete(recno uint32) error {
	val, err := t.tx.Get(recKey(recno))
	if err != nil && err != buntdb.ErrNotFound {
		return err
	}

	if err == nil {
		var rec Record
		if uerr := json.Unmarshal([]byte(val), &rec); uerr == nil {
			if kp, ok := rec.Payload.(KeyPayload); ok {
				t.tx.Delete(fprKey(kp.Fingerprint))
			}
		}
	}

	if _, err := t.tx.Delete(recKey(recno)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	t.dirty = true
	return nil
}

func (t *buntTx) NewRecnum() (uint32, error) {
	val, err := t.tx.Get(nextRecnoKey)
	next := uint64(1)
	if err == nil {
		next, err = strconv.ParseUint(val, 10, 32)
		if err != nil {
			return 0, fmt.Errorf("while parsing %s: %s", nextRecnoKey, err)
		}
	} else if err != buntdb.ErrNotFound {
		return 0, err
	}

	if _, _, err := t.tx.Set(nextRecnoKey, strconv.FormatUint(next+1, 10), nil); err != nil {
		return 0, err
	}
	t.dirty = true

	return uint32(next), nil
}

func (t *buntTx) SearchDirByFingerprint(fpr []byte) (Record, bool, error) {
	val, err := t.tx.Get(fprKey(fpr))
	if err == buntdb.ErrNotFound {
		return Record{}, false, nil
	} else if err != nil {
		return Record{}, false, err
	}

	lid, err := strconv.ParseUint(val, 10, 32)
	if err != nil {
		return Record{}, false, fmt.Errorf("while parsing fingerprint index entry: %s", err)
	}

	rec, err := t.Read(uint32(lid), RecDir)
	if err == ErrNotFound {
		return Record{}, false, nil
	} else if err != nil {
		return Record{}, false, err
	}

	return rec, true, nil
}

func (t *buntTx) SearchDirByFingerprints(fprs [][]byte) (Record, bool, error) {
	for _, fpr := range fprs {
		rec, ok, err := t.SearchDirByFingerprint(fpr)
		if err != nil {
			return Record{}, false, err
		}
		if ok {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (t *buntTx) SearchSDir(keyid uint64, algo uint8) (Record, bool, error) {
	var found Record
	var ok bool
	var searchErr error

	err := t.Ascend(RecSDir, func(rec Record) (bool, error) {
		sp, isSDir := rec.Payload.(SDirPayload)
		if !isSDir {
			return true, nil
		}
		if sp.KeyID == keyid && (algo == 0 || sp.PubkeyAlgo == algo) {
			found = rec
			ok = true
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		searchErr = err
	}

	return found, ok, searchErr
}

func (t *buntTx) Ascend(rt RecType, fn func(Record) (bool, error)) error {
	var iterErr error

	// the index compares JSON documents, so the pivot must be one too
	pivot := fmt.Sprintf(`{"rectype":%q}`, rt)
	err := t.tx.AscendEqual(typeIndex, pivot, func(key, val string) bool {
		var rec Record
		if uerr := json.Unmarshal([]byte(val), &rec); uerr != nil {
			iterErr = Corrupt(0, "while decoding record at %s: %s", key, uerr)
			return false
		}
		cont, ferr := fn(rec)
		if ferr != nil {
			iterErr = ferr
			return false
		}
		return cont
	})
	if err != nil {
		return err
	}

	return iterErr
}
