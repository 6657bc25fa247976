package main

import (
	"fmt"
	"os"
	"time"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/auth"
	"github.com/shokaishelf/core/internal/config"
	"github.com/shokaishelf/core/internal/store"
	"github.com/shokaishelf/core/internal/ui"
	"github.com/spf13/cobra"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh <user-name>",
	Short: "Fetch the AniList library into the local cache",
	Long: `Fetch the user's full anime list from AniList and refresh the local
cache with it. Entries already cached are updated in place; entries only
present locally are kept.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		userName := args[0]

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

		fmt.Printf("%s Fetching library for %s...\n", ui.RenderAccent("🔄"), userName)
		start := time.Now()

		entries, err := client.ListCollection(cmd.Context(), userName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching library: %v\n", err)
			os.Exit(1)
		}

		if err := st.ReplaceLibrary(userName, entries); err != nil {
			fmt.Fprintf(os.Stderr, "Error caching library: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Cached %d entries in %v\n",
			ui.RenderPass("✓"), len(entries), time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	rootCmd.AddCommand(refreshCmd)
}
