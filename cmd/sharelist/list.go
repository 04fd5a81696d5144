// ABOUTME: List command rendering the merged snapshot
// ABOUTME: Falls back to the cached snapshot when the backend is unreachable

package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/sharelist/internal/config"
	"github.com/harper/sharelist/internal/merge"
	"github.com/harper/sharelist/internal/models"
	"github.com/harper/sharelist/internal/timeutil"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List your items and items shared with you",
	RunE: func(cmd *cobra.Command, args []string) error {
		openOnly, _ := cmd.Flags().GetBool("open")
		overdue, _ := cmd.Flags().GetBool("overdue")
		dueToday, _ := cmd.Flags().GetBool("today")
		dueWeek, _ := cmd.Flags().GetBool("week")

		var items []models.Item
		pendingCounts := make(map[string]int)

		sess, err := startSession(cmd.Context())
		if err == nil {
			defer sess.close()
			items = sess.engine.Items()
			for _, it := range items {
				if it.OwnerID != cfg.UserID {
					continue
				}
				if previews, perr := sess.engine.PendingPreviews(it.ID); perr == nil {
					pendingCounts[it.ID] = len(previews)
				}
			}
		} else {
			// Offline: serve the last known snapshot.
			cached, storedAt, ok := cache.GetItems(cfg.UserID)
			if !ok {
				return err
			}
			items = cached
			merge.SortItems(items, merge.ParseOrder(cfg.GetOrdering()))
			faint := color.New(color.Faint).SprintFunc()
			fmt.Println(faint(fmt.Sprintf("offline; showing snapshot from %s", storedAt.Format(config.DateFormatShort))))
		}

		if openOnly {
			var open []models.Item
			for _, it := range items {
				if !it.Completed {
					open = append(open, it)
				}
			}
			items = open
		}

		if overdue || dueToday || dueWeek {
			var due []models.Item
			for _, it := range items {
				if it.DueDate == nil {
					continue
				}
				switch {
				case overdue && timeutil.IsOverdue(*it.DueDate):
					due = append(due, it)
				case dueToday && timeutil.IsDueToday(*it.DueDate):
					due = append(due, it)
				case dueWeek && timeutil.IsDueThisWeek(*it.DueDate):
					due = append(due, it)
				}
			}
			items = due
		}

		if len(items) == 0 {
			fmt.Println("No items")
			return nil
		}

		printItems(items, pendingCounts)
		return nil
	},
}

func printItems(items []models.Item, pendingCounts map[string]int) {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	faint := color.New(color.Faint).SprintFunc()

	for _, it := range items {
		fmt.Print(faint(shortID(it.ID)))
		fmt.Print(" ")

		if it.Completed {
			fmt.Print(green("✓"), " ")
		} else {
			fmt.Print("  ")
		}
		if it.Liked {
			fmt.Print(red("♥"), " ")
		} else {
			fmt.Print("  ")
		}

		fmt.Print(it.Name)

		if it.DueDate != nil {
			fmt.Print(" ", faint("due "+it.DueDate.Format("02 Jan")))
		}
		if it.OwnerID != cfg.UserID {
			fmt.Print(" ", faint("from "+shortID(it.OwnerID)))
		} else if len(it.SharedWith) > 0 {
			fmt.Print(" ", faint("shared: "+strings.Join(it.SharedWith, ", ")))
		}
		if n := len(it.ImageURLs); n > 0 {
			fmt.Print(" ", faint(fmt.Sprintf("%d img", n)))
		}
		if n := pendingCounts[it.ID]; n > 0 {
			fmt.Print(" ", faint(fmt.Sprintf("↑%d", n)))
		}

		fmt.Println()
	}
}

// shortID truncates an id for display.
func shortID(id string) string {
	if len(id) > config.DisplayIDLength {
		return id[:config.DisplayIDLength]
	}
	return id
}

func init() {
	rootCmd.AddCommand(listCmd)

	listCmd.Flags().BoolP("open", "o", false, "hide completed items")
	listCmd.Flags().Bool("overdue", false, "show only overdue items")
	listCmd.Flags().Bool("today", false, "show only items due today")
	listCmd.Flags().Bool("week", false, "show only items due this week")

	listCmd.MarkFlagsMutuallyExclusive("overdue", "today", "week")
}
