// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ctrliq/trustdb/internal/pkg/config"
)

var configPath string

// RootCmd represents the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "trustdb",
	Short: "Maintain an OpenPGP web-of-trust database",
	Long: `trustdb builds and queries a web-of-trust database from a local
public keyring: it records which keys vouch for which user IDs and computes
a bounded, recursive trust verdict for any key in the ring.`,
	SilenceUsage: true,
}

// Execute runs RootCmd. It is called once by main.main.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", filepath.Join(config.Dir, config.File), "configuration file path")
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Parse(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.Check(&cfg); err != nil {
		return config.Config{}, err
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return config.Config{}, err
	}
	logrus.SetLevel(level)

	return cfg, nil
}
