package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/engine"
	"github.com/syncboard/syncboard/internal/ui"
)

var errorsCmd = &cobra.Command{
	Use:     "errors",
	GroupID: "diag",
	Short:   "Review and retry failed sync operations",
}

var errorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved sync errors",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		unresolved := a.tracker.Unresolved()
		if len(unresolved) == 0 {
			fmt.Printf("%s No unresolved sync errors\n", ui.RenderPass(ui.GlyphPass))
			return
		}

		fmt.Printf("\n%s %d unresolved sync errors\n\n", ui.RenderAccent(ui.GlyphDot), len(unresolved))
		for _, e := range unresolved {
			glyph := ui.RenderErr(ui.GlyphFail)
			if e.Retryable {
				glyph = ui.RenderWarn(ui.GlyphWarn)
			}
			fmt.Printf("   %s %s  [%s] %s %s/%s\n", glyph, e.ID[:8], e.Kind, e.Operation, e.EntityType, e.EntityID)
			fmt.Printf("      %s (attempt %d, %s)\n", e.Message, e.Attempt,
				e.Timestamp.Local().Format("2006-01-02 15:04:05"))
			if e.Suggested != "" {
				fmt.Printf("      %s\n", ui.RenderMuted(e.Suggested))
			}
		}
		fmt.Println()
	},
}

var errorsRetryCmd = &cobra.Command{
	Use:   "retry <error-id>",
	Short: "Replay the operation behind a sync error",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()
		if err := a.requireRemote(); err != nil {
			fail(err)
		}

		id := resolveErrorID(a, args[0])
		err = a.engine.RetryError(cmd.Context(), id)
		if errors.Is(err, engine.ErrNotFound) {
			fail(fmt.Errorf("no sync error with id %s", args[0]))
		}
		if err != nil {
			fmt.Printf("%s Retry failed: %v\n", ui.RenderErr(ui.GlyphFail), err)
			return
		}
		fmt.Printf("%s Replayed successfully; error resolved\n", ui.RenderPass(ui.GlyphPass))
	},
}

var errorsDismissAll bool

var errorsDismissCmd = &cobra.Command{
	Use:   "dismiss [error-id...]",
	Short: "Dismiss sync errors without retrying",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		if !errorsDismissAll && len(args) == 0 {
			fail(fmt.Errorf("pass error IDs or --all"))
		}
		var removed int
		if errorsDismissAll {
			removed = a.tracker.Clear()
		} else {
			ids := make([]string, len(args))
			for i, arg := range args {
				ids[i] = resolveErrorID(a, arg)
			}
			removed = a.tracker.Clear(ids...)
		}
		fmt.Printf("%s Dismissed %d errors\n", ui.RenderPass(ui.GlyphPass), removed)
	},
}

// resolveErrorID expands the 8-char prefixes shown by `sb errors list` to
// full IDs. Unmatched input passes through unchanged.
func resolveErrorID(a *app, prefix string) string {
	if len(prefix) >= 32 {
		return prefix
	}
	for _, e := range a.tracker.Errors() {
		if len(e.ID) >= len(prefix) && e.ID[:len(prefix)] == prefix {
			return e.ID
		}
	}
	return prefix
}

func init() {
	errorsDismissCmd.Flags().BoolVar(&errorsDismissAll, "all", false, "dismiss every error")
	errorsCmd.AddCommand(errorsListCmd)
	errorsCmd.AddCommand(errorsRetryCmd)
	errorsCmd.AddCommand(errorsDismissCmd)
	rootCmd.AddCommand(errorsCmd)
}
