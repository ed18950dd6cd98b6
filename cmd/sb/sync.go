package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/config"
	"github.com/syncboard/syncboard/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Background sync with the remote store",
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync health",
	Long: `Display the current sync status: connectivity, last successful sync,
pending queue depth, and rolling metrics.

Reads the persisted snapshot, so it works without a running daemon.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		if a.engine == nil {
			fmt.Printf("\n%s Local-only mode (storage.backend = \"local\")\n", ui.RenderWarn(ui.GlyphWarn))
			fmt.Printf("   Pending queue: %d\n\n", a.queue.Len())
			return
		}

		status := a.engine.Status()
		if status.IsOnline {
			fmt.Printf("\n%s Online\n", ui.RenderPass(ui.GlyphPass))
		} else {
			fmt.Printf("\n%s Offline\n", ui.RenderWarn(ui.GlyphWarn))
		}
		if status.LastSyncTime != nil {
			fmt.Printf("   Last sync: %s\n", status.LastSyncTime.Local().Format("2006-01-02 15:04:05"))
		} else {
			fmt.Printf("   Last sync: never\n")
		}
		fmt.Printf("   Pending changes: %d\n", status.PendingChanges)
		if status.SyncInProgress {
			fmt.Printf("   Sync in progress\n")
		}
		if status.LastError != "" {
			fmt.Printf("   Last error: %s\n", ui.RenderErr(status.LastError))
		}

		m := a.tracker.Metrics()
		if m.TotalAttempts > 0 {
			fmt.Printf("\n   Attempts: %d (%d ok, %d failed)\n", m.TotalAttempts, m.SuccessfulSyncs, m.FailedSyncs)
			fmt.Printf("   Avg response: %.0fms\n", m.AverageResponseTime)
			fmt.Printf("   Streak: %d %s\n", m.CurrentStreak.Count, m.CurrentStreak.Type)
		}
		fmt.Println()
	},
}

var syncFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Drain the pending queue now",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		before := a.queue.Len()
		if before == 0 {
			fmt.Printf("%s Queue is empty\n", ui.RenderPass(ui.GlyphPass))
			return
		}

		fmt.Printf("Draining %d pending changes...\n", before)
		res := a.engine.Flush(cmd.Context())
		if res == nil {
			fmt.Printf("%s Another drain is already running\n", ui.RenderWarn(ui.GlyphWarn))
			return
		}
		fmt.Printf("%s %d applied, %d still pending, %d retired\n",
			ui.RenderPass(ui.GlyphPass), res.Applied, res.Failed, len(res.Dropped))
		for _, term := range res.Dropped {
			fmt.Printf("   %s %s %s/%s: %v\n", ui.RenderErr(ui.GlyphFail),
				term.Change.Action, term.Change.EntityType, term.Change.EntityID, term.Err)
		}
		if len(res.Dropped) > 0 {
			fmt.Printf("Run 'sb errors list' to review retired changes\n")
		}
	},
}

var syncPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Force-push local state over the remote copy",
	Long: `Upload the full local entity set, overwriting the remote copies.

Destructive: remote changes not present locally are lost.`,
	Run: func(cmd *cobra.Command, args []string) {
		forceSync(cmd, "push")
	},
}

var syncPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Force-pull remote state over the local copy",
	Long: `Download the full remote entity set, overwriting local copies and
discarding the pending queue.

Destructive: uncommitted local changes are lost.`,
	Run: func(cmd *cobra.Command, args []string) {
		forceSync(cmd, "pull")
	},
}

var forceYes bool

func forceSync(cmd *cobra.Command, direction string) {
	a, err := newApp(verboseFlag)
	if err != nil {
		fail(err)
	}
	defer a.Close()
	if err := a.requireRemote(); err != nil {
		fail(err)
	}

	if !forceYes {
		loser := "remote"
		if direction == "pull" {
			loser = "local (including the pending queue)"
		}
		fmt.Printf("%s This overwrites %s state. Continue? [y/N] ", ui.RenderWarn(ui.GlyphWarn), loser)
		var answer string
		fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			fmt.Println("Aborted")
			return
		}
	}

	start := time.Now()
	if direction == "push" {
		err = a.engine.ForcePush(cmd.Context())
	} else {
		err = a.engine.ForcePull(cmd.Context())
	}
	if err != nil {
		fail(err)
	}
	fmt.Printf("%s Force %s complete in %v\n", ui.RenderPass(ui.GlyphPass), direction, time.Since(start).Round(time.Millisecond))
}

var syncResyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Full bidirectional resync",
	Long:  `Flush the pending queue, then refresh every local collection from the remote store.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		start := time.Now()
		if err := a.engine.FullResync(cmd.Context()); err != nil {
			fail(err)
		}
		fmt.Printf("%s Resync complete in %v\n", ui.RenderPass(ui.GlyphPass), time.Since(start).Round(time.Millisecond))
	},
}

var syncDaemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the sync loop in the foreground",
	Long: `Start the background reconciliation loop and the lock expiry sweep,
and keep them running until interrupted.

The loop probes connectivity every sync.interval_seconds and drains the
pending queue when anything is waiting. While offline or while retryable
failures remain, it retries every sync.retry_delay_seconds instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(true)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Logger config edits apply without a restart.
		config.Watch(a.viper, func(cfg *config.Config) {
			a.diag.UpdateConfig(cfg.LoggingConfig())
			a.opLog.Printf("reloaded logger config")
		})

		if err := a.engine.Start(ctx); err != nil {
			fail(err)
		}
		if err := a.locks.Start(ctx); err != nil {
			fail(err)
		}

		fmt.Printf("%s Sync daemon running (interval %s). Press Ctrl+C to stop\n",
			ui.RenderAccent(ui.GlyphDot), a.cfg.SyncInterval())

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		a.locks.Stop()
		a.engine.Dispose()
	},
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}

func init() {
	syncPushCmd.Flags().BoolVarP(&forceYes, "yes", "y", false, "skip confirmation")
	syncPullCmd.Flags().BoolVarP(&forceYes, "yes", "y", false, "skip confirmation")
	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncFlushCmd)
	syncCmd.AddCommand(syncPushCmd)
	syncCmd.AddCommand(syncPullCmd)
	syncCmd.AddCommand(syncResyncCmd)
	syncCmd.AddCommand(syncDaemonCmd)
	rootCmd.AddCommand(syncCmd)
}
