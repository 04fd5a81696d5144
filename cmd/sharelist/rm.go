// ABOUTME: Remove command deleting an owned item
// ABOUTME: Cascades to staged attachments, remote blobs, and in-flight uploads

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove", "delete"},
	Short:   "Delete an item and its images",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		item, err := sess.engine.Resolve(args[0])
		if err != nil {
			return err
		}
		if item.OwnerID != cfg.UserID {
			return fmt.Errorf("%q belongs to someone else; only the owner can delete it", item.Name)
		}

		if err := sess.engine.Delete(cmd.Context(), item.ID); err != nil {
			return err
		}

		red := color.New(color.FgRed).SprintFunc()
		fmt.Printf("%s deleted %s\n", red("✗"), item.Name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rmCmd)
}
