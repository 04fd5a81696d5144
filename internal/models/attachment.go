// ABOUTME: Attachment model for media files with upload lifecycle metadata
// ABOUTME: Tracks status transitions from pending_upload through synced or failed

package models

import (
	"time"

	"github.com/google/uuid"
)

// AttachmentStatus is the upload lifecycle state of an attachment.
type AttachmentStatus string

const (
	StatusPendingUpload AttachmentStatus = "pending_upload"
	StatusUploading     AttachmentStatus = "uploading"
	StatusSynced        AttachmentStatus = "synced"
	StatusFailed        AttachmentStatus = "failed"
)

// Attachment is a single media file plus its upload lifecycle metadata,
// associated with exactly one item. The attachment ledger is the only
// owner of attachment records; items reference the resolved RemoteURL
// once an attachment reaches synced.
type Attachment struct {
	ID         string           `json:"id"`
	ItemID     string           `json:"item_id"`
	LocalPath  string           `json:"local_path"`
	RemoteURL  string           `json:"remote_url,omitempty"`
	Status     AttachmentStatus `json:"status"`
	RetryCount int              `json:"retry_count"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// NewAttachment creates an attachment for itemID in pending_upload state.
// LocalPath is filled in by the ledger once the media file is durably
// written.
func NewAttachment(itemID string) *Attachment {
	now := time.Now()
	return &Attachment{
		ID:        uuid.New().String(),
		ItemID:    itemID,
		Status:    StatusPendingUpload,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Uploadable reports whether the attachment still wants an upload
// attempt, given the retry cap.
func (a *Attachment) Uploadable(maxRetries int) bool {
	switch a.Status {
	case StatusPendingUpload:
		return true
	case StatusFailed:
		return a.RetryCount < maxRetries
	default:
		return false
	}
}
