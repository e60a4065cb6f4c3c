// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var importOwnertrustCmd = &cobra.Command{
	Use:   "import-ownertrust [file]",
	Short: "Load owner-trust values from a file or stdin",
	Long: `import-ownertrust reads "fingerprint:ownertrust:" lines, updating
each matching directory record's owner trust or inserting the key from the
keyring first if the trust database has not seen it yet. With no file
argument, or "-", it reads from stdin.`,
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

		r := os.Stdin
		if len(args) > 0 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("while opening %s: %s", args[0], err)
			}
			defer f.Close()
			r = f
		}

		return e.ImportOwnerTrust(r)
	},
}

func init() {
	RootCmd.AddCommand(importOwnertrustCmd)
}
