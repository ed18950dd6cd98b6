// Command sb is the syncboard CLI: offline-first project tracking with
// background sync, project locks, and sync diagnostics.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "sb",
	Short: "Offline-first project tracking sync",
	Long: `syncboard keeps a local SQLite copy of your projects, tasks, users,
and milestones, and reconciles it with the remote store in the background.

Writes always land locally first. When the remote store is unreachable,
mutations queue up and replay automatically once connectivity returns.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync:"},
		&cobra.Group{ID: "locks", Title: "Locks:"},
		&cobra.Group{ID: "diag", Title: "Diagnostics:"},
	)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
