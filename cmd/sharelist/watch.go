// ABOUTME: Watch command running the engine live
// ABOUTME: Reprints the merged snapshot on every change until interrupted

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Follow the list live",
	Long:    "Stay connected, recover interrupted uploads, and reprint the list as changes arrive. Ctrl-C to stop.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		sess, err := startSession(ctx)
		if err != nil {
			return err
		}
		defer sess.close()

		if err := sess.uploads.RecoverPending(ctx); err != nil {
			logger.Warn("upload recovery failed", "err", err)
		}

		faint := color.New(color.Faint).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		fmt.Println(faint("watching; Ctrl-C to stop"))

		for {
			select {
			case <-ctx.Done():
				fmt.Println()
				return nil
			case snap := <-sess.engine.Updates():
				fmt.Println(faint("---"))
				if len(snap.Items) == 0 {
					fmt.Println("No items")
					continue
				}
				pendingCounts := make(map[string]int, len(snap.PendingPreviews))
				for itemID, previews := range snap.PendingPreviews {
					pendingCounts[itemID] = len(previews)
				}
				printItems(snap.Items, pendingCounts)
			case err := <-sess.engine.Errors():
				fmt.Printf("%s %v\n", red("✗"), err)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
