// Package main is the entry point for the MarketGPS scoring platform.
// One binary carries the daemon (scheduler + queue worker) and the
// operational commands: manual pipeline runs, universe management,
// on-demand scoring, status inspection and backups.
package main

import (
	"os"

	"github.com/marketgps/core/cmd/marketgps/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
