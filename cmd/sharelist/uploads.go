// ABOUTME: Uploads command showing the attachment ledger
// ABOUTME: recover requeues restart-stranded uploads; status glyphs per lifecycle state

package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/sharelist/internal/models"
)

var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Show the upload queue",
	RunE: func(cmd *cobra.Command, args []string) error {
		atts, err := ldg.ListAll()
		if err != nil {
			return err
		}
		if len(atts) == 0 {
			fmt.Println("No attachments")
			return nil
		}

		green := color.New(color.FgGreen).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		faint := color.New(color.Faint).SprintFunc()

		for _, a := range atts {
			var glyph string
			switch a.Status {
			case models.StatusSynced:
				glyph = green("✓")
			case models.StatusFailed:
				glyph = red("✗")
			case models.StatusUploading:
				glyph = "↑"
			default:
				glyph = faint("-")
			}

			fmt.Printf("%s %s %s item %s", glyph, faint(shortID(a.ID)), a.Status, faint(shortID(a.ItemID)))
			if a.RetryCount > 0 {
				fmt.Printf(" %s", faint(fmt.Sprintf("retries: %d", a.RetryCount)))
			}
			fmt.Println()
		}
		return nil
	},
}

var uploadsRecoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Requeue uploads interrupted by a crash or restart",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		if err := sess.uploads.RecoverPending(cmd.Context()); err != nil {
			return err
		}
		n := sess.uploads.InFlight()
		if n == 0 {
			fmt.Println("Nothing to recover")
			return nil
		}
		fmt.Printf("recovering %d upload(s)...\n", n)
		sess.uploads.Wait()

		green := color.New(color.FgGreen).SprintFunc()
		fmt.Printf("%s done\n", green("✓"))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(uploadsCmd)
	uploadsCmd.AddCommand(uploadsRecoverCmd)
}
