// ABOUTME: Add command for creating items
// ABOUTME: Optional due date, priority, and manual position

package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/sharelist/internal/models"
)

var addCmd = &cobra.Command{
	Use:     "add <name>",
	Aliases: []string{"a"},
	Short:   "Add an item to your list",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		due, _ := cmd.Flags().GetString("due")
		priority, _ := cmd.Flags().GetInt("priority")
		index, _ := cmd.Flags().GetInt("index")

		item := models.NewItem(cfg.UserID, args[0])
		item.Priority = priority
		if due != "" {
			d, err := time.ParseInLocation("2006-01-02", due, time.Local)
			if err != nil {
				return fmt.Errorf("invalid --due date (want YYYY-MM-DD): %w", err)
			}
			item.DueDate = &d
		}

		sess, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		if index >= 0 {
			item.OrderIndex = index
		} else {
			item.OrderIndex = len(sess.engine.Items())
		}

		if err := sess.engine.AddOrUpdate(cmd.Context(), item); err != nil {
			return err
		}

		green := color.New(color.FgGreen).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()
		fmt.Printf("%s added %s %s\n", green("✓"), item.Name, faint(shortID(item.ID)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)

	addCmd.Flags().String("due", "", "due date (YYYY-MM-DD)")
	addCmd.Flags().IntP("priority", "p", 0, "priority (higher sorts first)")
	addCmd.Flags().Int("index", -1, "manual position (default: end of list)")
}
