// ABOUTME: Like command toggling the liked flag
// ABOUTME: Works on shared items; the write lands on the owner's document

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var likeCmd = &cobra.Command{
	Use:   "like <id>",
	Short: "Toggle an item's liked state",
	Long:  "Toggle the liked flag on any visible item, including items shared with you.",
	Args:  cobra.ExactArgs(1),
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

		liked, err := sess.engine.ToggleLiked(cmd.Context(), item.Key())
		if err != nil {
			return err
		}

		if liked {
			red := color.New(color.FgRed).SprintFunc()
			fmt.Printf("%s %s\n", red("♥"), item.Name)
		} else {
			faint := color.New(color.Faint).SprintFunc()
			fmt.Printf("%s %s\n", faint("-"), item.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(likeCmd)
}
