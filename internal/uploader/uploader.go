// ABOUTME: Background upload scheduler for staged attachments
// ABOUTME: One goroutine per attachment, with a registry guaranteeing at most one in flight

package uploader

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harper/sharelist/internal/ledger"
	"github.com/harper/sharelist/internal/models"
	"github.com/harper/sharelist/internal/remote"
)

// SyncedFunc is invoked after an attachment reaches synced, with the
// fresh ledger record. The blob is durably uploaded before this fires,
// so callers can safely publish the remote URL.
type SyncedFunc func(att models.Attachment)

// Uploader drives staged attachments through their upload lifecycle.
// Each scheduled attachment gets its own goroutine; a registry keyed by
// attachment ID guarantees at most one in-flight upload per attachment.
type Uploader struct {
	ledger     *ledger.Ledger
	blobs      remote.BlobStore
	userID     string
	maxRetries int
	retryDelay time.Duration
	logger     *log.Logger

	mu       sync.Mutex
	onSynced SyncedFunc
	tasks    map[string]*task
	wg       sync.WaitGroup
}

type task struct {
	itemID string
	cancel context.CancelFunc
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithRetryPolicy overrides the attempt cap and the pause between attempts.
func WithRetryPolicy(maxRetries int, delay time.Duration) Option {
	return func(u *Uploader) {
		u.maxRetries = maxRetries
		u.retryDelay = delay
	}
}

// WithLogger sets the logger for upload progress and failures.
func WithLogger(logger *log.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// WithOnSynced registers the callback fired when an attachment syncs.
func WithOnSynced(fn SyncedFunc) Option {
	return func(u *Uploader) { u.onSynced = fn }
}

// SetOnSynced replaces the synced callback. Used when the consumer is
// constructed after the uploader.
func (u *Uploader) SetOnSynced(fn SyncedFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onSynced = fn
}

func (u *Uploader) syncedCallback() SyncedFunc {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.onSynced
}

// New creates an Uploader over the given ledger and blob store.
func New(l *ledger.Ledger, blobs remote.BlobStore, userID string, opts ...Option) *Uploader {
	u := &Uploader{
		ledger:     l,
		blobs:      blobs,
		userID:     userID,
		maxRetries: 3,
		retryDelay: 5 * time.Second,
		logger:     log.Default(),
		tasks:      make(map[string]*task),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// BlobPath returns where an attachment's bytes live in the blob store.
func (u *Uploader) BlobPath(itemID, attachmentID string) string {
	return fmt.Sprintf("users/%s/items/%s/%s", u.userID, itemID, attachmentID)
}

// Schedule starts the upload for an attachment. Scheduling an attachment
// that is already in flight is a no-op.
func (u *Uploader) Schedule(ctx context.Context, att *models.Attachment) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if _, inFlight := u.tasks[att.ID]; inFlight {
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	u.tasks[att.ID] = &task{itemID: att.ItemID, cancel: cancel}
	u.wg.Add(1)

	id := att.ID
	go func() {
		defer u.wg.Done()
		defer u.forget(id)
		u.run(taskCtx, id)
	}()
}

// Cancel stops the in-flight upload for an attachment, if any.
func (u *Uploader) Cancel(attachmentID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.tasks[attachmentID]; ok {
		t.cancel()
	}
}

// CancelItem stops every in-flight upload belonging to itemID.
func (u *Uploader) CancelItem(itemID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, t := range u.tasks {
		if t.itemID == itemID {
			t.cancel()
		}
	}
}

// Retry puts a parked attachment back in the queue and schedules it for
// one more attempt cycle. Its accumulated retry count is preserved.
func (u *Uploader) Retry(ctx context.Context, attachmentID string) error {
	att, err := u.ledger.Get(attachmentID)
	if err != nil {
		return err
	}
	if att.Status == models.StatusSynced {
		return fmt.Errorf("attachment %s is already synced", attachmentID)
	}
	if err := u.ledger.ResetForRetry(attachmentID); err != nil {
		return err
	}
	att.Status = models.StatusPendingUpload
	u.Schedule(ctx, att)
	return nil
}

// RecoverPending is the startup pass. Attachments stranded in uploading
// by a crash count the interrupted attempt against their budget. Every
// entry still under the cap, including earlier failures, is then queued
// and scheduled exactly once. Only at-cap failures stay parked.
func (u *Uploader) RecoverPending(ctx context.Context) error {
	stranded, err := u.ledger.ListByStatus(models.StatusUploading)
	if err != nil {
		return err
	}
	for _, a := range stranded {
		count, err := u.ledger.IncrementRetry(a.ID)
		if err != nil {
			return err
		}
		u.logger.Warn("upload interrupted by restart", "attachment", a.ID, "attempts", count)
		if count >= u.maxRetries {
			continue
		}
		if err := u.ledger.ResetForRetry(a.ID); err != nil {
			return err
		}
	}

	parked, err := u.ledger.ListByStatus(models.StatusFailed)
	if err != nil {
		return err
	}
	for _, a := range parked {
		if !a.Uploadable(u.maxRetries) {
			continue
		}
		if err := u.ledger.ResetForRetry(a.ID); err != nil {
			return err
		}
	}

	pending, err := u.ledger.ListByStatus(models.StatusPendingUpload)
	if err != nil {
		return err
	}
	for i := range pending {
		u.Schedule(ctx, &pending[i])
	}
	return nil
}

// Wait blocks until every in-flight upload has finished or been cancelled.
func (u *Uploader) Wait() {
	u.wg.Wait()
}

// InFlight returns how many uploads are currently running.
func (u *Uploader) InFlight() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.tasks)
}

func (u *Uploader) forget(attachmentID string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if t, ok := u.tasks[attachmentID]; ok {
		t.cancel()
		delete(u.tasks, attachmentID)
	}
}

// run drives one attachment through attempts until it syncs, parks, or
// is cancelled.
func (u *Uploader) run(ctx context.Context, attachmentID string) {
	for {
		att, err := u.ledger.Get(attachmentID)
		if err != nil {
			u.logger.Error("attachment vanished before upload", "attachment", attachmentID, "err", err)
			return
		}
		if att.Status == models.StatusSynced {
			return
		}

		if err := u.attempt(ctx, att); err == nil {
			return
		} else if ctx.Err() != nil {
			// Cancelled mid-attempt. The ledger entry is left as-is; the
			// startup pass charges the interrupted attempt and reschedules
			// it if the cap allows.
			return
		} else {
			count, incErr := u.ledger.IncrementRetry(attachmentID)
			if incErr != nil {
				u.logger.Error("failed to record upload failure", "attachment", attachmentID, "err", incErr)
				return
			}
			u.logger.Warn("upload attempt failed", "attachment", attachmentID, "attempts", count, "err", err)

			if !remote.IsRetryable(err) || count >= u.maxRetries {
				u.logger.Error("upload parked as failed", "attachment", attachmentID, "attempts", count)
				return
			}
		}

		select {
		case <-time.After(u.retryDelay):
		case <-ctx.Done():
			return
		}

		if err := u.ledger.ResetForRetry(attachmentID); err != nil {
			return
		}
	}
}

// attempt performs a single upload: mark uploading, push the bytes,
// resolve the download URL, then commit synced to the ledger.
func (u *Uploader) attempt(ctx context.Context, att *models.Attachment) error {
	if err := u.ledger.UpdateStatus(att.ID, models.StatusUploading); err != nil {
		return err
	}

	data, err := os.ReadFile(u.ledger.FilePath(att.ID))
	if err != nil {
		return fmt.Errorf("failed to read staged file: %w", err)
	}

	path := u.BlobPath(att.ItemID, att.ID)
	if err := u.blobs.Put(ctx, path, data, http.DetectContentType(data)); err != nil {
		return fmt.Errorf("failed to upload blob: %w", err)
	}

	url, err := u.blobs.DownloadURL(ctx, path)
	if err != nil {
		return fmt.Errorf("failed to resolve download url: %w", err)
	}

	if err := u.ledger.SetRemoteURL(att.ID, url); err != nil {
		return err
	}
	u.logger.Info("attachment synced", "attachment", att.ID, "item", att.ItemID)

	if fn := u.syncedCallback(); fn != nil {
		if fresh, err := u.ledger.Get(att.ID); err == nil {
			fn(*fresh)
		}
	}
	return nil
}
