package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/auth"
	"github.com/shokaishelf/core/internal/bridge"
	"github.com/shokaishelf/core/internal/config"
	"github.com/shokaishelf/core/internal/daemon"
	"github.com/shokaishelf/core/internal/logging"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/syncer"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon and host bridge",
	Long: `Run the daemon: open the library cache, watch connectivity, drain the
mutation queue against AniList, and serve the localhost bridge API the
desktop shell connects to.

Example usage:
  shokaid serve                  # Run with config defaults
  shokaid serve --port 9000      # Custom bridge port

Connect with a WebSocket client for status updates:
  ws://localhost:8790/ws`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if port, _ := cmd.Flags().GetInt("port"); port != 0 {
			cfg.Bridge.Port = port
		}
		if console, _ := cmd.Flags().GetBool("console"); console {
			cfg.Logging.Console = true
		}

		logw, err := logging.Setup(cfg.Logging.File, cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups, cfg.Logging.Console)
		if err != nil {
			return err
		}

		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		if err := st.InitSchema(); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}

		tokens := auth.NewFileTokenSource(cfg.API.TokenPath)
		client := anilist.NewClient(cfg.API.URL, tokens)
		applier := syncer.New(st, client, logging.New(logw, "[syncer] "))

		watcher, err := auth.NewTokenWatcher(cfg.API.TokenPath)
		if err != nil {
			return fmt.Errorf("failed to create token watcher: %w", err)
		}
		if err := watcher.Start(); err != nil {
			return fmt.Errorf("failed to start token watcher: %w", err)
		}
		defer watcher.Stop()

		manager, err := daemon.New(st, applier, daemon.NewHTTPProbe(cfg.API.URL), watcher, &daemon.Config{
			AutoSyncInterval: cfg.Sync.AutoInterval,
			ProbeInterval:    cfg.Sync.ProbeInterval,
			DebounceInterval: cfg.Sync.Debounce,
			MaxAttempts:      cfg.Sync.MaxAttempts,
			Logger:           logging.New(logw, "[daemon] "),
		})
		if err != nil {
			return err
		}

		server, err := bridge.NewServer(st, applier, manager, &bridge.Config{
			Port:      cfg.Bridge.Port,
			Retention: cfg.Storage.Retention,
			Logger:    logging.New(logw, "[bridge] "),
		})
		if err != nil {
			return err
		}
		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("shokaid running on http://%s\n", server.Addr())
		fmt.Printf("WebSocket endpoint: ws://%s/ws\n", server.Addr())
		fmt.Println("Press Ctrl+C to stop...")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Blocks until the context is cancelled, then shuts the manager down
		if err := manager.Start(ctx); err != nil {
			_ = server.Stop()
			return err
		}

		fmt.Println("\nShutting down...")
		if err := server.Stop(); err != nil {
			return fmt.Errorf("error during shutdown: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 0, "Bridge port (overrides config)")
	serveCmd.Flags().Bool("console", false, "Also log to stderr")
	rootCmd.AddCommand(serveCmd)
}
