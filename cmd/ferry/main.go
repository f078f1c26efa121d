// Package main provides the ferry binary: an ephemeral channel and file
// sharing server with master-key access control.
//
// The default command serves HTTP:
//  1. Load defaults, apply FERRY_* environment variables, then flags.
//  2. Validate configuration.
//  3. Open the data directory, migrate the database, ensure the bootstrap key.
//  4. Start the metrics flusher and the expiry janitor.
//  5. Serve until SIGINT or SIGTERM, then shut down gracefully.
//
// Maintenance subcommands (sweep, keys) run against the same data directory.
package main

import (
	"fmt"
	"os"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
