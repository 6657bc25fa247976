package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/shokaishelf/core/internal/anilist"
	"github.com/shokaishelf/core/internal/config"
	"github.com/shokaishelf/core/internal/ui"
	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <title>",
	Short: "Look up an anime on AniList",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		title := strings.Join(args, " ")

		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		client := anilist.NewClient(cfg.API.URL, nil)
		media, err := client.Search(cmd.Context(), title)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if media == nil {
			fmt.Printf("%s No results for %q\n", ui.RenderWarn("⚠"), title)
			return
		}

		name := media.Title.English
		if name == "" {
			name = media.Title.Romaji
		}
		fmt.Printf("\n%s %s\n", ui.RenderAccent("▸"), name)
		if media.Title.Native != "" {
			fmt.Printf("   %s\n", ui.RenderDim(media.Title.Native))
		}
		fmt.Printf("   ID: %d\n", media.ID)
		if media.Episodes > 0 {
			fmt.Printf("   Episodes: %d\n", media.Episodes)
		}
		if len(media.Genres) > 0 {
			fmt.Printf("   Genres: %s\n", strings.Join(media.Genres, ", "))
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(searchCmd)
}
