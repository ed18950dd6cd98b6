package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/dashboard"
	"github.com/syncboard/syncboard/internal/ui"
)

var dashboardAddr string

var dashboardCmd = &cobra.Command{
	Use:     "dashboard",
	GroupID: "diag",
	Short:   "Serve the live sync-health feed",
	Long: `Run the sync daemon with a WebSocket feed attached.

Observers connecting to /ws receive sync status transitions, recorded
sync errors, and structured log entries as they happen. /health reports
server liveness.`,
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(true)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		addr := dashboardAddr
		if addr == "" {
			addr = a.cfg.Dashboard.Addr
		}
		srv := dashboard.NewServer(addr, log.New(os.Stderr, "[dashboard] ", log.LstdFlags))
		if err := srv.Start(); err != nil {
			fail(err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Feed the dashboard from the engine and logger streams.
		statusCh, unsubStatus := a.engine.Subscribe()
		defer unsubStatus()
		go func() {
			for status := range statusCh {
				srv.PublishStatus(status)
				srv.PublishMetrics(a.tracker.Metrics())
			}
		}()
		unsubLogs := a.diag.Subscribe(srv.PublishLogEntry)
		defer unsubLogs()

		if err := a.engine.Start(ctx); err != nil {
			fail(err)
		}
		if err := a.locks.Start(ctx); err != nil {
			fail(err)
		}

		fmt.Printf("%s Dashboard at http://%s (ws://%s/ws). Press Ctrl+C to stop\n",
			ui.RenderAccent(ui.GlyphDot), srv.Addr(), srv.Addr())

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		a.locks.Stop()
		a.engine.Dispose()
		if err := srv.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	},
}

func init() {
	dashboardCmd.Flags().StringVar(&dashboardAddr, "addr", "", "listen address (default from config)")
	rootCmd.AddCommand(dashboardCmd)
}
