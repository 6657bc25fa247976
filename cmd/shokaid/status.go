package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shokaishelf/core/internal/config"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <user-id>",
	Short: "Show cache freshness and queue state",
	Run: func(cmd *cobra.Command, args []string) {
		userID := args[0]

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

		info, err := os.Stat(cfg.Storage.Path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\n%s Library cache\n", ui.RenderAccent("▸"))
		fmt.Printf("   Database: %s (%.1f KB)\n", cfg.Storage.Path, float64(info.Size())/1024)

		valid, err := st.IsValid(userID, cfg.Storage.Retention)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		last, err := st.LastCachedAt(userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		if last.IsZero() {
			fmt.Printf("   %s No cached library for %s\n", ui.RenderWarn("⚠"), userID)
		} else {
			age := time.Since(last).Round(time.Minute)
			if valid {
				fmt.Printf("   %s Cache valid, refreshed %v ago\n", ui.RenderPass("✓"), age)
			} else {
				fmt.Printf("   %s Cache stale, refreshed %v ago (retention %v)\n", ui.RenderWarn("⚠"), age, cfg.Storage.Retention)
			}
		}

		entries, err := st.Library(userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("   Entries: %d\n", len(entries))

		fmt.Printf("\n%s Mutation queue\n", ui.RenderAccent("▸"))
		pending := st.CountPending(userID)
		stalled := st.CountStalled(userID, cfg.Sync.MaxAttempts)
		if pending == 0 {
			fmt.Printf("   %s Nothing pending\n", ui.RenderPass("✓"))
		} else {
			fmt.Printf("   Pending: %d\n", pending)
		}
		if stalled > 0 {
			fmt.Printf("   %s Stalled: %d (exceeded %d attempts, remove with the shell)\n",
				ui.RenderFail("✗"), stalled, cfg.Sync.MaxAttempts)
		}
		fmt.Println()
	},
	Args: cobra.ExactArgs(1),
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
