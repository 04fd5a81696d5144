// ABOUTME: Whoami command showing the current user's profile
// ABOUTME: Fetches from the backend when reachable, otherwise serves the cached copy

package main

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/sharelist/internal/models"
	"github.com/harper/sharelist/internal/remote"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the logged-in profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate(); err != nil {
			return err
		}

		faint := color.New(color.Faint).SprintFunc()
		client := remote.NewClient(cfg.ServerURL, cfg.Token, remote.WithLogger(logger))

		profile, err := fetchProfile(cmd, client)
		if err != nil {
			cached, ok := cache.GetProfile(cfg.UserID)
			if !ok {
				return err
			}
			profile = cached
			fmt.Println(faint("offline; showing cached profile"))
		} else if err := cache.PutProfile(cfg.UserID, profile); err != nil {
			logger.Warn("failed to cache profile", "err", err)
		}

		name := profile.DisplayName
		if name == "" {
			name = profile.Handle
		}
		fmt.Printf("%s %s\n", name, faint("@"+profile.Handle))
		fmt.Printf("  user:   %s\n", profile.ID)
		fmt.Printf("  server: %s\n", cfg.ServerURL)
		return nil
	},
}

func fetchProfile(cmd *cobra.Command, client *remote.Client) (models.Profile, error) {
	path := fmt.Sprintf("users/%s/profile/self", cfg.UserID)
	doc, err := client.GetOnce(cmd.Context(), path)
	if err != nil {
		return models.Profile{}, fmt.Errorf("failed to fetch profile: %w", err)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return models.Profile{}, err
	}
	var profile models.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return models.Profile{}, fmt.Errorf("malformed profile document: %w", err)
	}
	if profile.ID == "" {
		profile.ID = cfg.UserID
	}
	if profile.Handle == "" {
		profile.Handle = cfg.Handle
	}
	return profile, nil
}

func init() {
	rootCmd.AddCommand(whoamiCmd)
}
