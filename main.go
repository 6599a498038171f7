// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
//
// Shuckctl - Shuck water-quality logger controller
//
// A CLI tool for configuring Shuck loggers, downloading their stored
// measurements and forwarding them to a collection server.

package main

import (
	"os"

	"github.com/Thermoquad/shuckctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
