// ABOUTME: Done command toggling an item's completed flag
// ABOUTME: Accepts an id prefix; only owned items can be completed

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var doneCmd = &cobra.Command{
	Use:     "done <id>",
	Aliases: []string{"d", "check"},
	Short:   "Toggle an item's completed state",
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
			return fmt.Errorf("%q belongs to someone else; only the owner can complete it", item.Name)
		}

		done, err := sess.engine.ToggleCompleted(cmd.Context(), item.ID)
		if err != nil {
			return err
		}

		if done {
			green := color.New(color.FgGreen).SprintFunc()
			fmt.Printf("%s %s\n", green("✓"), item.Name)
		} else {
			faint := color.New(color.Faint).SprintFunc()
			fmt.Printf("%s %s\n", faint("-"), item.Name)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doneCmd)
}
