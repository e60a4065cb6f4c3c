// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctrliq/trustdb/pkg/store"
	"github.com/ctrliq/trustdb/pkg/trustdb"
)

var updateCmd = &cobra.Command{
	Use:   "update [fingerprint...]",
	Short: "Rebuild the signature graph for one or all known keys",
	Long: `update re-walks a keyblock's packets against the record store,
the way update_trustdb re-verifies every directory record. With no
arguments it updates every directory record already in the store; given one
or more hex fingerprints, it updates (inserting first if necessary) only
those. Per-key failures are logged and counted, not fatal, the way
update_trustdb's bulk pass keeps going and prints a summary at the end.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, e, err := openEngine(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		fprs, err := resolveTargets(st, args)
		if err != nil {
			return err
		}

		var failed int
		for _, fpr := range fprs {
			if err := updateOne(e, fpr); err != nil {
				logrus.WithError(err).WithField("fingerprint", hex.EncodeToString(fpr)).
					Error("while updating directory record")
				failed++
			}
		}

		logrus.WithField("total", len(fprs)).WithField("failed", failed).Info("update pass complete")
		if failed > 0 {
			return fmt.Errorf("%d of %d keys failed to update", failed, len(fprs))
		}
		return nil
	},
}

func updateOne(e *trustdb.Engine, fpr []byte) error {
	kb, err := e.Keyring.GetKeyblockByFingerprint(fpr)
	if err != nil {
		return err
	}

	if _, err := e.Update(kb); err != nil {
		if err == trustdb.ErrNotFound {
			_, err = e.Insert(fpr)
			return err
		}
		return err
	}
	return nil
}

// resolveTargets returns the fingerprints to update: every known directory
// record's primary key fingerprint with no arguments, otherwise the
// user-supplied hex fingerprints.
func resolveTargets(st store.Store, args []string) ([][]byte, error) {
	if len(args) > 0 {
		out := make([][]byte, 0, len(args))
		for _, a := range args {
			fpr, err := hex.DecodeString(a)
			if err != nil {
				return nil, fmt.Errorf("invalid fingerprint %q: %s", a, err)
			}
			out = append(out, fpr)
		}
		return out, nil
	}

	var out [][]byte
	err := st.View(func(tx store.Tx) error {
		return tx.Ascend(store.RecDir, func(rec store.Record) (bool, error) {
			dir := rec.Payload.(store.DirPayload)
			if dir.KeyList == 0 {
				return true, nil
			}
			krec, err := tx.Read(dir.KeyList, store.RecKey)
			if err != nil {
				return false, err
			}
			out = append(out, krec.Payload.(store.KeyPayload).Fingerprint)
			return true, nil
		})
	})
	return out, err
}

func init() {
	RootCmd.AddCommand(updateCmd)
}
