package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/export"
	"github.com/syncboard/syncboard/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "diag",
	Short:   "Export the local entity graph",
	Long: `Export project data straight from the local store, network-free.

JSON includes the full graph with metadata; CSV is the flattened task
sheet collaborators import into spreadsheets.`,
}

var exportOut string

var exportJSONCmd = &cobra.Command{
	Use:   "json",
	Short: "Full entity graph as JSON",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		out, err := export.JSON(a.store)
		if err != nil {
			fail(err)
		}
		writeExport(out)
	},
}

var exportCSVCmd = &cobra.Command{
	Use:   "csv",
	Short: "Flattened task sheet as CSV",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		out, err := export.CSV(a.store)
		if err != nil {
			fail(err)
		}
		writeExport([]byte(out))
	},
}

func writeExport(data []byte) {
	if exportOut == "" {
		os.Stdout.Write(data)
		return
	}
	if err := os.WriteFile(exportOut, data, 0644); err != nil {
		fail(fmt.Errorf("failed to write %s: %w", exportOut, err))
	}
	fmt.Printf("%s Wrote %s\n", ui.RenderPass(ui.GlyphPass), exportOut)
}

func init() {
	exportCmd.PersistentFlags().StringVarP(&exportOut, "out", "o", "", "write to file instead of stdout")
	exportCmd.AddCommand(exportJSONCmd)
	exportCmd.AddCommand(exportCSVCmd)
	rootCmd.AddCommand(exportCmd)
}
