// ABOUTME: Share command managing an item's shared-with handles
// ABOUTME: Adding and removing handles; removal revokes the item from that user's feed

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var shareCmd = &cobra.Command{
	Use:   "share <id> <handle>...",
	Short: "Share an item with other users",
	Long:  "Add handles to an item's share list, or revoke with --remove.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		remove, _ := cmd.Flags().GetBool("remove")

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
			return fmt.Errorf("%q belongs to someone else; only the owner can share it", item.Name)
		}

		handles := args[1:]
		if remove {
			kept := item.SharedWith[:0]
			for _, h := range item.SharedWith {
				if !contains(handles, h) {
					kept = append(kept, h)
				}
			}
			item.SharedWith = kept
		} else {
			for _, h := range handles {
				if h == cfg.Handle {
					return fmt.Errorf("cannot share an item with yourself")
				}
				if !contains(item.SharedWith, h) {
					item.SharedWith = append(item.SharedWith, h)
				}
			}
		}

		if err := sess.engine.AddOrUpdate(cmd.Context(), item); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()
		if len(item.SharedWith) == 0 {
			fmt.Printf("%s %s is no longer shared\n", green("✓"), item.Name)
		} else {
			fmt.Printf("%s %s shared with %s\n", green("✓"), item.Name, faint(strings.Join(item.SharedWith, ", ")))
		}
		return nil
	},
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(shareCmd)

	shareCmd.Flags().Bool("remove", false, "revoke the handles instead of adding them")
}
