// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package cmd

import (
	"fmt"

	"golang.org/x/crypto/openpgp"

	"github.com/ctrliq/trustdb/internal/pkg/config"
	"github.com/ctrliq/trustdb/pkg/pgp"
	"github.com/ctrliq/trustdb/pkg/store"
	"github.com/ctrliq/trustdb/pkg/trustdb"
)

// openEngine opens the record store and keyrings named by cfg and wires up
// an Engine, the way cmd/spks/main.go's execute wires hkpserver and
// defaultdb together from a parsed ServerConfig. Callers are responsible
// for closing the returned store.
func openEngine(cfg config.Config) (store.Store, *trustdb.Engine, error) {
	st, err := store.Open(cfg.StorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("while opening record store: %s", err)
	}

	public, err := pgp.LoadKeyRingFile(cfg.PublicKeyring)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("while loading public keyring: %s", err)
	}

	var secret openpgp.EntityList
	if cfg.SecretKeyring != "" {
		secret, err = pgp.LoadKeyRingFile(cfg.SecretKeyring)
		if err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("while loading secret keyring: %s", err)
		}
	}

	kr := pgp.New(public, secret)
	e := trustdb.New(st, kr, cfg.Options())

	if len(secret) > 0 {
		if err := e.RefreshUltimateRoots(); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("while refreshing ultimate root registry: %s", err)
		}
	}

	return st, e, nil
}
