package store

// Tx is a single atomic batch of record reads and writes, modeled on
// buntdb.Tx the way internal/pkg/defaultdb wraps it: every mutating
// operation the trust engine performs happens inside one Tx, committed by
// returning nil from the Store.Update callback or rolled back by returning
// an error.
type Tx interface {
	// Read reads a record by number. If want != "" and the stored record's
	// type differs, it returns ErrTypeMismatch.
	Read(recno uint32, want RecType) (Record, error)

	// Write writes rec at rec.Num, creating or replacing it.
	Write(rec Record) error

	// Delete marks a record number free.
	Delete(recno uint32) error

	// NewRecnum allocates a fresh, previously-unused record number.
	NewRecnum() (uint32, error)

	// SearchDirByFingerprint finds the DIR owning a KEY with this exact
	// fingerprint.
	SearchDirByFingerprint(fpr []byte) (Record, bool, error)

	// SearchDirByFingerprints finds the DIR owning a KEY matching any of
	// the given fingerprints (search_dir_bypk in spec §6).
	SearchDirByFingerprints(fprs [][]byte) (Record, bool, error)

	// SearchSDir finds an SDIR by key id, optionally narrowed by algo
	// (algo == 0 matches any).
	SearchSDir(keyid uint64, algo uint8) (Record, bool, error)

	// Ascend calls fn for every record of the given type, in ascending
	// record-number order, until fn returns false or an error.
	Ascend(rt RecType, fn func(Record) (bool, error)) error

	// IsDirty reports whether this transaction has performed any write.
	IsDirty() bool
}

// Store is the record store the trust engine runs against (component C1).
type Store interface {
	// Update runs fn inside a read/write transaction. The transaction
	// commits if fn returns nil and is cancelled otherwise.
	Update(fn func(Tx) error) error

	// View runs fn inside a read-only transaction.
	View(fn func(Tx) error) error

	// Sync flushes the store to stable storage.
	Sync() error

	// Close releases the store's underlying resources.
	Close() error

	// DumpRecord renders a record for debugging (dump_record in spec §6).
	DumpRecord(rec Record) string
}
