package main

import (
	"fmt"
	"os"

	"github.com/shokaishelf/core/internal/config"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/ui"
	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired cache rows and old synced queue items",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to open store: %v\n", err)
			os.Exit(1)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		expired, err := st.PurgeExpired(cfg.Storage.Retention)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error purging cache: %v\n", err)
			os.Exit(1)
		}

		synced, err := st.PurgeSynced(cfg.Storage.Retention)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error purging queue: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Purged %d expired cache row(s), %d synced queue item(s)\n",
			ui.RenderPass("✓"), expired, synced)
	},
}

func init() {
	rootCmd.AddCommand(purgeCmd)
}
