// ABOUTME: Login command storing backend credentials and identity
// ABOUTME: Writes server, token, user id, and handle to the config file

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/sharelist/internal/config"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store backend credentials",
	Long:  "Store the server URL, access token, user id, and share handle in the config file.",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		token, _ := cmd.Flags().GetString("token")
		user, _ := cmd.Flags().GetString("user")
		handle, _ := cmd.Flags().GetString("handle")

		if server != "" {
			cfg.ServerURL = server
		}
		if token != "" {
			cfg.Token = token
		}
		if user != "" {
			cfg.UserID = user
		}
		if handle != "" {
			cfg.Handle = handle
		}

		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s logged in as %s (%s)\n", green("✓"), cfg.Handle, cfg.UserID)
		fmt.Printf("  config: %s\n", config.GetConfigPath())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().String("server", "", "backend base URL")
	loginCmd.Flags().String("token", "", "access token")
	loginCmd.Flags().String("user", "", "user id")
	loginCmd.Flags().String("handle", "", "share handle")
}
