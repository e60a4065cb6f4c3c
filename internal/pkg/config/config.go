// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/ctrliq/trustdb/pkg/trustdb"
)

const (
	Dir  = "/usr/local/etc/trustdb"
	File = "trustdb.yaml"
)

const (
	storePathEnv       = "TRUSTDB_STORE_PATH"
	publicKeyringEnv   = "TRUSTDB_PUBLIC_KEYRING"
	secretKeyringEnv   = "TRUSTDB_SECRET_KEYRING"
	marginalsNeededEnv = "TRUSTDB_MARGINALS_NEEDED"
	completesNeededEnv = "TRUSTDB_COMPLETES_NEEDED"
	maxCertDepthEnv    = "TRUSTDB_MAX_CERT_DEPTH"
	logLevelEnv        = "TRUSTDB_LOG_LEVEL"
)

// Config is trustdb's on-disk configuration: where the record store and
// keyrings live, and the trust evaluator's threshold policy.
type Config struct {
	StorePath     string `yaml:"store-path"`
	PublicKeyring string `yaml:"public-keyring"`
	SecretKeyring string `yaml:"secret-keyring"`

	MarginalsNeeded int `yaml:"marginals-needed"`
	CompletesNeeded int `yaml:"completes-needed"`
	MaxCertDepth    int `yaml:"max-cert-depth"`

	LogLevel string `yaml:"log-level"`
}

// Default mirrors trustdb.DefaultOptions and the conventional gnupg
// homedir layout.
var Default = Config{
	StorePath:       "/usr/local/etc/trustdb/trustdb.db",
	PublicKeyring:   "/usr/local/etc/trustdb/pubring.gpg",
	SecretKeyring:   "/usr/local/etc/trustdb/secring.gpg",
	MarginalsNeeded: trustdb.DefaultOptions().MarginalsNeeded,
	CompletesNeeded: trustdb.DefaultOptions().CompletesNeeded,
	MaxCertDepth:    trustdb.DefaultOptions().MaxCertDepth,
	LogLevel:        "info",
}

// Parse loads a Config from path, falling back to Default if the file
// does not exist.
func Parse(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, err
	} else if os.IsNotExist(err) {
		return Default, nil
	}

	cfg := Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Check applies environment overrides (which take precedence over the
// file, the way spks's server config does) and validates the result.
func Check(cfg *Config) error {
	if env := os.Getenv(storePathEnv); env != "" {
		cfg.StorePath = env
	}
	if env := os.Getenv(publicKeyringEnv); env != "" {
		cfg.PublicKeyring = env
	}
	if env := os.Getenv(secretKeyringEnv); env != "" {
		cfg.SecretKeyring = env
	}
	if env := os.Getenv(marginalsNeededEnv); env != "" {
		n, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("while parsing %s: %s", marginalsNeededEnv, err)
		}
		cfg.MarginalsNeeded = n
	}
	if env := os.Getenv(completesNeededEnv); env != "" {
		n, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("while parsing %s: %s", completesNeededEnv, err)
		}
		cfg.CompletesNeeded = n
	}
	if env := os.Getenv(maxCertDepthEnv); env != "" {
		n, err := strconv.Atoi(env)
		if err != nil {
			return fmt.Errorf("while parsing %s: %s", maxCertDepthEnv, err)
		}
		cfg.MaxCertDepth = n
	}
	if env := os.Getenv(logLevelEnv); env != "" {
		cfg.LogLevel = env
	}

	if cfg.StorePath == "" {
		return fmt.Errorf("store-path is missing or empty within configuration")
	}
	if cfg.PublicKeyring == "" {
		return fmt.Errorf("public-keyring is missing or empty within configuration")
	}
	if cfg.MarginalsNeeded <= 0 {
		return fmt.Errorf("marginals-needed must be positive")
	}
	if cfg.CompletesNeeded <= 0 {
		return fmt.Errorf("completes-needed must be positive")
	}
	if cfg.MaxCertDepth <= 0 {
		return fmt.Errorf("max-cert-depth must be positive")
	}

	return nil
}

// Options converts the threshold fields into trustdb.Options.
func (c Config) Options() trustdb.Options {
	return trustdb.Options{
		MarginalsNeeded: c.MarginalsNeeded,
		CompletesNeeded: c.CompletesNeeded,
		MaxCertDepth:    c.MaxCertDepth,
	}
}
