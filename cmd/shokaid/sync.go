package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/auth"
	"github.com/shokaishelf/core/internal/config"
	"github.com/shokaishelf/core/internal/daemon"
	"github.com/shokaishelf/core/internal/logging"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/syncer"
	"github.com/shokaishelf/core/internal/ui"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <user-id>",
	Short: "Drain the pending mutation queue now",
	Long: `Replay all pending queued mutations for a user against AniList in
enqueue order, without starting the daemon. Items that fail stay queued
for the next attempt.`,
	Args: cobra.ExactArgs(1),
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

		tokens := auth.NewFileTokenSource(cfg.API.TokenPath)
		client := anilist.NewClient(cfg.API.URL, tokens)
		applier := syncer.New(st, client, logging.Discard())

		manager, err := daemon.New(st, applier, daemon.StaticProbe(true), nil, &daemon.Config{
			MaxAttempts: cfg.Sync.MaxAttempts,
			Logger:      logging.Discard(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		pending := st.CountPending(userID)
		if pending == 0 {
			fmt.Printf("%s Queue is empty, nothing to sync\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("%s Syncing %d pending change(s)...\n", ui.RenderAccent("🔄"), pending)
		start := time.Now()

		synced, err := manager.DrainQueue(cmd.Context(), userID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		elapsed := time.Since(start)
		remaining := st.CountPending(userID)

		if remaining == 0 {
			fmt.Printf("%s Sync complete in %v\n", ui.RenderPass("✓"), elapsed.Round(time.Millisecond))
		} else {
			fmt.Printf("%s Synced %d, %d still pending\n", ui.RenderWarn("⚠"), synced, remaining)
		}
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
