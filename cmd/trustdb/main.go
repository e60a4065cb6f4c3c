// Copyright (c) 2020-2021, Ctrl IQ, Inc. All rights reserved
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"github.com/ctrliq/trustdb/cmd/trustdb/cmd"
)

func main() {
	cmd.Execute()
}
