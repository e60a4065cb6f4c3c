// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctrliq/trustdb/pkg/store"
)

var dumpRecordTypes = []store.RecType{
	store.RecDir, store.RecSDir, store.RecKey, store.RecUID,
	store.RecSig, store.RecPref, store.RecHlst,
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print every record in the store",
	Long: `dump walks the record store type by type and prints
DumpRecord's rendering of each record, the way tdbio_dump_record does for
gpg's --list-trustdb.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("while opening record store: %s", err)
		}
		defer st.Close()

		return st.View(func(tx store.Tx) error {
			for _, rt := range dumpRecordTypes {
				err := tx.Ascend(rt, func(rec store.Record) (bool, error) {
					fmt.Println(st.DumpRecord(rec))
					return true, nil
				})
				if err != nil {
					return err
				}
			}
			return nil
		})
	},
}

func init() {
	RootCmd.AddCommand(dumpCmd)
}
