// Command shokaid is the offline sync daemon behind the ShokaiShelf
// desktop shell. It owns the local library cache, the durable mutation
// queue, and the AniList sync loop, and exposes them to the shell over a
// localhost HTTP bridge.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/shokaishelf/core/internal/ui"
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "shokaid",
	Short: "Offline library cache and sync daemon for ShokaiShelf",
	Long: `shokaid keeps a local copy of your AniList library so the app works
offline, queues every list change you make while disconnected, and
replays the queue against AniList when connectivity returns.`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if !isatty.IsTerminal(os.Stdout.Fd()) {
			ui.Plain()
		}
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
