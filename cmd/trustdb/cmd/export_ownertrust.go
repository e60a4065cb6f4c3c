// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var exportOwnertrustCmd = &cobra.Command{
	Use:   "export-ownertrust",
	Short: "Print every assigned owner-trust value",
	Long: `export-ownertrust writes one "fingerprint:ownertrust:" line per
directory record with a non-zero owner trust to stdout, in the format
import-ownertrust reads back.`,
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

		return e.ExportOwnerTrust(os.Stdout)
	},
}

func init() {
	RootCmd.AddCommand(exportOwnertrustCmd)
}
