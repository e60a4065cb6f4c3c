package trustdb

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ctrliq/trustdb/pkg/store"
)

// ExportOwnerTrust implements C9's export path (export_ownertrust): one
// "<hex-fingerprint>:<ownertrust>:" line per DIR with a non-zero
// ownertrust, in ascending record-number order.
func (e *Engine) ExportOwnerTrust(w io.Writer) error {
	bw := bufio.NewWriter(w)

	err := e.Store.View(func(tx store.Tx) error {
		return tx.Ascend(store.RecDir, func(rec store.Record) (bool, error) {
			dir := rec.Payload.(store.DirPayload)
			if dir.KeyList == 0 {
				e.Log.WithField("lid", rec.Num).Error("directory record without primary key")
				return true, nil
			}
			if dir.OwnerTrust == 0 {
				return true, nil
			}

			krec, err := tx.Read(dir.KeyList, store.RecKey)
			if err != nil {
				return false, err
			}
			fpr := krec.Payload.(store.KeyPayload).Fingerprint

			if _, err := fmt.Fprintf(bw, "%s:%d:\n", strings.ToUpper(hex.EncodeToString(fpr)), dir.OwnerTrust); err != nil {
				return false, err
			}
			return true, nil
		})
	})
	if err != nil {
		return err
	}
	return bw.Flush()
}

// ImportOwnerTrust implements C9's import path (import_ownertrust): a
// line-based parser with the original's strict abort semantics (missing
// trailing newline, or a line over the buffer size, stops the whole
// import rather than skipping the bad line), one fingerprint:ownertrust
// pair per line, updating the matching DIR or resolving the key from the
// keyring and inserting it first.
func (e *Engine) ImportOwnerTrust(r io.Reader) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 256), 256)
	sc.Split(scanLinesStrict)

	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		fpr, ownerTrust, err := parseOwnerTrustLine(line)
		if err != nil {
			e.Log.WithError(err).WithField("line", line).Error("skipping malformed owner-trust line")
			continue
		}
		if ownerTrust == 0 {
			continue
		}

		if err := e.applyOwnerTrust(fpr, ownerTrust); err != nil {
			e.Log.WithError(err).WithField("fingerprint", hex.EncodeToString(fpr)).
				Error("while importing owner trust")
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("trustdb: owner-trust import aborted: %w", err)
	}
	return nil
}

func parseOwnerTrustLine(line string) ([]byte, uint8, error) {
	colon := -1
	for i, c := range line {
		if c == ':' {
			colon = i
			break
		}
		if !isHexDigit(byte(c)) {
			return nil, 0, fmt.Errorf("trustdb: missing colon or non-hex fingerprint character")
		}
	}
	if colon == -1 {
		return nil, 0, fmt.Errorf("trustdb: missing colon")
	}
	if colon != 32 && colon != 40 {
		return nil, 0, fmt.Errorf("trustdb: invalid fingerprint length %d", colon)
	}

	fpr, err := hex.DecodeString(line[:colon])
	if err != nil {
		return nil, 0, fmt.Errorf("trustdb: invalid fingerprint: %w", err)
	}

	rest := line[colon+1:]
	end := bytes.IndexByte([]byte(rest), ':')
	if end == -1 {
		return nil, 0, fmt.Errorf("trustdb: no trust value")
	}
	var otrust uint64
	for _, c := range rest[:end] {
		if c < '0' || c > '9' {
			return nil, 0, fmt.Errorf("trustdb: no trust value")
		}
		otrust = otrust*10 + uint64(c-'0')
		if otrust > 0xff {
			return nil, 0, fmt.Errorf("trustdb: trust value out of range")
		}
	}
	return fpr, uint8(otrust), nil
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

// errMissingNewline is returned by scanLinesStrict for a final line with no
// trailing newline, matching import_ownertrust's "if (line[n-1] != '\n')"
// abort rather than bufio.ScanLines' default of handing back the partial
// line as a normal token.
var errMissingNewline = errors.New("trustdb: owner-trust line missing trailing newline")

// scanLinesStrict is bufio.ScanLines with one change: a non-empty final
// token at EOF that was never newline-terminated is an error, not a token.
func scanLinesStrict(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		return i + 1, dropCR(data[0:i]), nil
	}
	if atEOF {
		if len(data) == 0 {
			return 0, nil, nil
		}
		return 0, nil, errMissingNewline
	}
	return 0, nil, nil
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}

// applyOwnerTrust updates an existing DIR's ownertrust, or resolves the key
// from the keyring and inserts it first (query_trust_record/insert_trust_
// record, then the original's "goto repeat").
func (e *Engine) applyOwnerTrust(fpr []byte, ownerTrust uint8) error {
	return e.Store.Update(func(tx store.Tx) error {
		rec, ok, err := tx.SearchDirByFingerprint(fpr)
		if !ok {
			if err != nil {
				return err
			}
			if _, err := e.insertLocked(tx, fpr); err != nil {
				return err
			}
			rec, ok, err = tx.SearchDirByFingerprint(fpr)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("trustdb: key not found after insertion")
			}
		}

		dir := rec.Payload.(store.DirPayload)
		if dir.OwnerTrust != 0 {
			e.Log.WithField("lid", rec.Num).
				Infof("changing trust from %d to %d", dir.OwnerTrust, ownerTrust)
		} else {
			e.Log.WithField("lid", rec.Num).Infof("setting trust to %d", ownerTrust)
		}
		dir.OwnerTrust = ownerTrust
		return tx.Write(store.Record{Num: rec.Num, Payload: dir})
	})
}
