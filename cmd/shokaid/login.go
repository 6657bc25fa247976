package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/shokaishelf/core/internal/auth"
	"github.com/shokaishelf/core/internal/config"
	"github.com/shokaishelf/core/internal/ui"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store an AniList access token",
	Long: `Store an AniList OAuth access token for the sync daemon.

The desktop shell normally completes the OAuth flow itself and writes the
token file directly. This command covers headless setups: paste a token
generated at https://anilist.co/settings/developer.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		var token string
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("AniList access token").
					Description("Generated at anilist.co/settings/developer").
					EchoMode(huh.EchoModePassword).
					Value(&token).
					Validate(func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("token cannot be empty")
						}
						return nil
					}),
			),
		)
		if err := form.Run(); err != nil {
			return err
		}

		tokens := auth.NewFileTokenSource(cfg.API.TokenPath)
		if err := tokens.Save(strings.TrimSpace(token)); err != nil {
			return fmt.Errorf("failed to save token: %w", err)
		}

		fmt.Printf("%s Token saved to %s\n", ui.RenderPass("✓"), cfg.API.TokenPath)
		fmt.Println("   A running daemon picks it up automatically.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the stored AniList access token",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := os.Remove(cfg.API.TokenPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove token: %w", err)
		}
		fmt.Printf("%s Token removed\n", ui.RenderPass("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
