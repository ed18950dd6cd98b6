package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/syncboard/syncboard/internal/config"
	"github.com/syncboard/syncboard/internal/ui"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage syncboard configuration",
}

var configInitLocal bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default syncboard.toml",
	Long: `Create a commented default configuration file.

Writes to ~/.config/syncboard/syncboard.toml by default, or to the
current directory with --local. Refuses to overwrite an existing file.`,
	Run: func(cmd *cobra.Command, args []string) {
		path := filepath.Join(config.ConfigDir(), "syncboard.toml")
		if configInitLocal {
			path = "syncboard.toml"
		}
		if err := config.WriteDefault(path); err != nil {
			fail(err)
		}
		fmt.Printf("%s Wrote %s\n", ui.RenderPass(ui.GlyphPass), path)
		fmt.Printf("   Set storage.backend = \"remote\" plus remote_url/remote_key to enable sync\n")
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp(verboseFlag)
		if err != nil {
			fail(err)
		}
		defer a.Close()

		cfg := a.cfg
		fmt.Printf("\n%s Effective configuration\n\n", ui.RenderAccent(ui.GlyphDot))
		fmt.Printf("   storage.backend: %s\n", cfg.Storage.Backend)
		fmt.Printf("   storage.path: %s\n", cfg.Storage.Path)
		if cfg.Storage.RemoteURL != "" {
			fmt.Printf("   storage.remote_url: %s\n", cfg.Storage.RemoteURL)
		}
		fmt.Printf("   sync.interval: %s, retry delay: %s, max retries: %d\n",
			cfg.SyncInterval(), cfg.RetryDelay(), cfg.Sync.MaxRetries)
		fmt.Printf("   locks.sweep: %s, default lease: %s\n", cfg.SweepInterval(), cfg.DefaultLease())
		fmt.Printf("   logger.enabled: %v (level %s, %d entries)\n",
			cfg.Logger.Enabled, cfg.Logger.Level, cfg.Logger.MaxEntries)
		fmt.Println()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitLocal, "local", false, "write to the current directory")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
