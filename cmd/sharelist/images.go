// ABOUTME: Image commands for attaching photos to items
// ABOUTME: add stages and uploads, replace swaps the whole set, retry requeues failures

package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harper/sharelist/internal/models"
)

var imagesCmd = &cobra.Command{
	Use:     "images",
	Aliases: []string{"img"},
	Short:   "Manage an item's images",
}

var imagesAddCmd = &cobra.Command{
	Use:   "add <id> <file>...",
	Short: "Attach images to an item",
	Long:  "Stage image files and upload them. The item keeps its newest three images.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		images, err := readImageFiles(args[1:])
		if err != nil {
			return err
		}

		sess, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		item, err := resolveOwned(sess, args[0])
		if err != nil {
			return err
		}

		staged, err := sess.engine.StageImages(cmd.Context(), item.ID, images)
		if err != nil {
			return err
		}
		fmt.Printf("uploading %d image(s)...\n", len(staged))
		sess.uploads.Wait()

		return reportUploads(sess, item.ID, staged)
	},
}

var imagesReplaceCmd = &cobra.Command{
	Use:   "replace <id> <file>...",
	Short: "Replace all of an item's images",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		images, err := readImageFiles(args[1:])
		if err != nil {
			return err
		}

		sess, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		item, err := resolveOwned(sess, args[0])
		if err != nil {
			return err
		}

		staged, err := sess.engine.ReplaceImages(cmd.Context(), item.ID, images)
		if err != nil {
			return err
		}
		fmt.Printf("uploading %d image(s)...\n", len(staged))
		sess.uploads.Wait()

		return reportUploads(sess, item.ID, staged)
	},
}

var imagesRetryCmd = &cobra.Command{
	Use:   "retry <id>",
	Short: "Retry an item's failed uploads",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := startSession(cmd.Context())
		if err != nil {
			return err
		}
		defer sess.close()

		item, err := resolveOwned(sess, args[0])
		if err != nil {
			return err
		}

		atts, err := ldg.List(item.ID)
		if err != nil {
			return err
		}
		var retried []models.Attachment
		for _, a := range atts {
			if a.Status != models.StatusFailed {
				continue
			}
			if err := sess.uploads.Retry(cmd.Context(), a.ID); err != nil {
				return err
			}
			retried = append(retried, a)
		}
		if len(retried) == 0 {
			fmt.Println("No failed uploads")
			return nil
		}
		fmt.Printf("retrying %d upload(s)...\n", len(retried))
		sess.uploads.Wait()

		return reportUploads(sess, item.ID, retried)
	},
}

var imagesListCmd = &cobra.Command{
	Use:     "list <id>",
	Aliases: []string{"ls"},
	Short:   "Show an item's images and pending previews",
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

		faint := color.New(color.Faint).SprintFunc()
		for _, url := range item.ImageURLs {
			fmt.Println(url)
		}

		if item.OwnerID == cfg.UserID {
			previews, err := sess.engine.PendingPreviews(item.ID)
			if err != nil {
				return err
			}
			for _, p := range previews {
				fmt.Printf("%s %s\n", faint(string(p.Status)), p.LocalPath)
			}
			if len(item.ImageURLs) == 0 && len(previews) == 0 {
				fmt.Println("No images")
			}
		} else if len(item.ImageURLs) == 0 {
			fmt.Println("No images")
		}
		return nil
	},
}

func readImageFiles(paths []string) ([][]byte, error) {
	var images [][]byte
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", p, err)
		}
		images = append(images, data)
	}
	return images, nil
}

func resolveOwned(sess *session, prefix string) (*models.Item, error) {
	item, err := sess.engine.Resolve(prefix)
	if err != nil {
		return nil, err
	}
	if item.OwnerID != cfg.UserID {
		return nil, fmt.Errorf("%q belongs to someone else; only the owner can change its images", item.Name)
	}
	return item, nil
}

// reportUploads prints the outcome for each attachment after Wait.
func reportUploads(sess *session, itemID string, staged []models.Attachment) error {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	var failed int
	for _, s := range staged {
		a, err := ldg.Get(s.ID)
		if err != nil {
			continue
		}
		switch a.Status {
		case models.StatusSynced:
			fmt.Printf("%s %s\n", green("✓"), a.RemoteURL)
		default:
			failed++
			fmt.Printf("%s upload failed after %d attempt(s); run 'sharelist images retry %s'\n",
				red("✗"), a.RetryCount, shortID(itemID))
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d upload(s) failed", failed)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(imagesCmd)
	imagesCmd.AddCommand(imagesAddCmd)
	imagesCmd.AddCommand(imagesReplaceCmd)
	imagesCmd.AddCommand(imagesRetryCmd)
	imagesCmd.AddCommand(imagesListCmd)
}
