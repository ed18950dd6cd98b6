package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/logging"
	"github.com/syncboard/syncboard/internal/ui"
)

var logsCmd = &cobra.Command{
	Use:     "logs",
	GroupID: "diag",
	Short:   "Inspect the structured sync log",
}

var (
	logsLevel      string
	logsCategory   string
	logsSince      string
	logsEntityType string
	logsOperation  string
	logsLimit      int
)

func buildFilter() (logging.Filter, error) {
	var f logging.Filter
	if logsLevel != "" {
		lvl := logging.ParseLevel(logsLevel)
		f.MinLevel = &lvl
	}
	f.Category = logging.Category(logsCategory)
	f.EntityType = logsEntityType
	f.Operation = logsOperation
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return f, fmt.Errorf("failed to parse --since %q: %w", logsSince, err)
		}
		f.Since = time.Now().UTC().Add(-d)
	}
	return f, nil
}

var logsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recent log entries",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		f, err := buildFilter()
		if err != nil {
			fail(err)
		}
		entries := a.diag.Query(f)
		if len(entries) == 0 {
			fmt.Printf("%s No matching log entries\n", ui.RenderMuted(ui.GlyphDot))
			return
		}
		if logsLimit > 0 && len(entries) > logsLimit {
			entries = entries[:logsLimit]
		}

		for _, e := range entries {
			level := e.Level.String()
			switch {
			case e.Level >= logging.LevelError:
				level = ui.RenderErr(level)
			case e.Level == logging.LevelWarn:
				level = ui.RenderWarn(level)
			default:
				level = ui.RenderMuted(level)
			}
			fmt.Printf("%s %-8s [%s] %s", e.Timestamp.Local().Format("15:04:05"), level, e.Category, e.Message)
			if e.Context != nil && e.Context.EntityID != "" {
				fmt.Printf("  %s", ui.RenderMuted(e.Context.EntityType+"/"+e.Context.EntityID))
			}
			fmt.Println()
		}
	},
}

var logsFormat string

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the log buffer as JSON or CSV",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		out, err := a.diag.Export(logsFormat)
		if err != nil {
			fail(err)
		}
		fmt.Fprintln(os.Stdout, out)
	},
}

var logsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Empty the log buffer",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		a.diag.Clear()
		fmt.Printf("%s Logs cleared\n", ui.RenderPass(ui.GlyphPass))
	},
}

func init() {
	logsShowCmd.Flags().StringVar(&logsLevel, "level", "", "minimum level (debug, info, warn, error, critical)")
	logsShowCmd.Flags().StringVar(&logsCategory, "category", "", "category (sync, database, network, auth, validation, performance)")
	logsShowCmd.Flags().StringVar(&logsSince, "since", "", "window, e.g. 1h or 30m")
	logsShowCmd.Flags().StringVar(&logsEntityType, "entity-type", "", "entity type filter")
	logsShowCmd.Flags().StringVar(&logsOperation, "operation", "", "operation filter")
	logsShowCmd.Flags().IntVarP(&logsLimit, "limit", "n", 50, "max entries to show")
	logsExportCmd.Flags().StringVar(&logsFormat, "format", "json", "json or csv")

	logsCmd.AddCommand(logsShowCmd)
	logsCmd.AddCommand(logsExportCmd)
	logsCmd.AddCommand(logsClearCmd)
	rootCmd.AddCommand(logsCmd)
}
