// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ctrliq/trustdb/pkg/pgp"
)

var checkCmd = &cobra.Command{
	Use:   "check <fingerprint>...",
	Short: "Print the computed trust level for one or more keys",
	Long: `check implements check_trust: for each given hex fingerprint it
resolves (inserting first if necessary) the key's directory record and
prints its computed trust level as a single display letter plus the raw
numeric value, the way gpg's --list-keys trust column does.`,
	Args: cobra.MinimumNArgs(1),
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

		for _, a := range args {
			fpr, err := hex.DecodeString(a)
			if err != nil {
				return fmt.Errorf("invalid fingerprint %q: %s", a, err)
			}

			kb, err := e.Keyring.GetKeyblockByFingerprint(fpr)
			if err != nil {
				return fmt.Errorf("while resolving %s: %s", a, err)
			}

			level, err := e.CheckTrust(kb.Primary(), pgp.KeyExpiry(kb))
			if err != nil {
				return fmt.Errorf("while checking trust for %s: %s", a, err)
			}

			letter := level.Letter()
			if level.Revoked() {
				letter = 'r'
			}
			fmt.Printf("%s %c (%d)\n", a, letter, level)
		}
		return nil
	},
}

func init() {
	RootCmd.AddCommand(checkCmd)
}
