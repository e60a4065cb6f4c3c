// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or refresh the ultimate-root registry from the secret keyring",
	Long: `init opens (creating if necessary) the record store, inserts a
directory record for every key in the secret keyring that does not already
have one, and rebuilds the in-memory ultimate-root registry check_trust
treats as the terminal condition of a trust walk.`,
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

		if err := e.RefreshUltimateRoots(); err != nil {
			return err
		}

		logrus.Info("ultimate-root registry refreshed")
		return nil
	},
}

func init() {
	RootCmd.AddCommand(initCmd)
}
