// ABOUTME: Durable attachment ledger tracking staged files and their upload lifecycle
// ABOUTME: File bytes land on disk via tmp+rename before any metadata record exists

package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"go.etcd.io/bbolt"

	"github.com/harper/sharelist/internal/models"
)

var (
	bucketAttachments = []byte("attachments")
	bucketByItem      = []byte("by_item")
)

// ErrNotFound is returned when an attachment record does not exist.
var ErrNotFound = errors.New("attachment not found")

// Ledger is the durable attachment ledger. Records live in bbolt; the
// staged file bytes live under filesDir, named by attachment ID.
//
// The write order is fixed: bytes reach disk (tmp then rename) before the
// metadata record is committed. A crash can therefore leave an orphan
// file with no record, which SweepOrphans cleans up, but never a record
// pointing at missing bytes.
type Ledger struct {
	db       *bbolt.DB
	filesDir string
	logger   *log.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the logger used for corruption warnings.
func WithLogger(logger *log.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Open opens (creating if needed) the ledger at dbPath with staged files
// under filesDir.
func Open(dbPath, filesDir string, opts ...Option) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	if err := os.MkdirAll(filesDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create attachments directory: %w", err)
	}

	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketAttachments, bucketByItem} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	l := &Ledger{db: db, filesDir: filesDir, logger: log.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Close closes the ledger database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// FilePath returns where the staged bytes for an attachment live.
func (l *Ledger) FilePath(attachmentID string) string {
	return filepath.Join(l.filesDir, attachmentID)
}

// Create stages data for itemID and records a pending-upload attachment.
// The file is durably in place before the record is written, so every
// recorded attachment has readable bytes.
func (l *Ledger) Create(itemID string, data []byte) (*models.Attachment, error) {
	att := models.NewAttachment(itemID)

	dst := l.FilePath(att.ID)
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return nil, fmt.Errorf("failed to stage attachment file: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("failed to commit attachment file: %w", err)
	}
	att.LocalPath = dst

	if err := l.put(att); err != nil {
		_ = os.Remove(dst)
		return nil, err
	}
	return att, nil
}

// Get returns the attachment record for id.
func (l *Ledger) Get(id string) (*models.Attachment, error) {
	var att *models.Attachment
	err := l.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAttachments).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var a models.Attachment
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode attachment %s: %w", id, err)
		}
		att = &a
		return nil
	})
	return att, err
}

// UpdateStatus transitions an attachment to status.
func (l *Ledger) UpdateStatus(id string, status models.AttachmentStatus) error {
	return l.update(id, func(a *models.Attachment) {
		a.Status = status
	})
}

// SetRemoteURL records the uploaded blob's download URL and marks the
// attachment synced.
func (l *Ledger) SetRemoteURL(id, url string) error {
	return l.update(id, func(a *models.Attachment) {
		a.RemoteURL = url
		a.Status = models.StatusSynced
	})
}

// IncrementRetry bumps the retry count, marks the attachment failed, and
// returns the new count.
func (l *Ledger) IncrementRetry(id string) (int, error) {
	var count int
	err := l.update(id, func(a *models.Attachment) {
		a.RetryCount++
		a.Status = models.StatusFailed
		count = a.RetryCount
	})
	return count, err
}

// ResetForRetry puts a failed attachment back in the pending queue
// without touching its retry count.
func (l *Ledger) ResetForRetry(id string) error {
	return l.update(id, func(a *models.Attachment) {
		a.Status = models.StatusPendingUpload
	})
}

// Remove deletes the attachment record and its staged file. Removing an
// absent attachment is not an error.
func (l *Ledger) Remove(id string) error {
	err := l.db.Update(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketAttachments).Get([]byte(id))
		if data == nil {
			return nil
		}
		var a models.Attachment
		if err := json.Unmarshal(data, &a); err == nil {
			_ = tx.Bucket(bucketByItem).Delete(itemKey(a.ItemID, id))
		}
		return tx.Bucket(bucketAttachments).Delete([]byte(id))
	})
	if err != nil {
		return err
	}
	if rmErr := os.Remove(l.FilePath(id)); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("failed to remove staged file: %w", rmErr)
	}
	return nil
}

// RemoveAll deletes every attachment belonging to itemID, records and
// staged files both. It returns the removed records.
func (l *Ledger) RemoveAll(itemID string) ([]models.Attachment, error) {
	atts, err := l.List(itemID)
	if err != nil {
		return nil, err
	}
	for _, a := range atts {
		if err := l.Remove(a.ID); err != nil {
			return nil, err
		}
	}
	return atts, nil
}

// List returns the attachments for itemID, oldest first. Records that
// fail to decode are dropped and logged, never fatal, so one corrupt
// entry cannot brick the rest of the ledger.
func (l *Ledger) List(itemID string) ([]models.Attachment, error) {
	var atts []models.Attachment
	err := l.db.View(func(tx *bbolt.Tx) error {
		records := tx.Bucket(bucketAttachments)
		c := tx.Bucket(bucketByItem).Cursor()
		prefix := []byte(itemID + "/")
		for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
			id := k[len(prefix):]
			data := records.Get(id)
			if data == nil {
				continue
			}
			var a models.Attachment
			if err := json.Unmarshal(data, &a); err != nil {
				l.logger.Warn("dropping corrupt attachment record", "attachment", string(id), "err", err)
				continue
			}
			atts = append(atts, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(atts)
	return atts, nil
}

// ListAll returns every attachment record, oldest first. Corrupt records
// are dropped and logged, as in List.
func (l *Ledger) ListAll() ([]models.Attachment, error) {
	var atts []models.Attachment
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAttachments).ForEach(func(k, v []byte) error {
			var a models.Attachment
			if err := json.Unmarshal(v, &a); err != nil {
				l.logger.Warn("dropping corrupt attachment record", "attachment", string(k), "err", err)
				return nil
			}
			atts = append(atts, a)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(atts)
	return atts, nil
}

// ListByStatus returns every attachment in the given status, oldest first.
func (l *Ledger) ListByStatus(status models.AttachmentStatus) ([]models.Attachment, error) {
	all, err := l.ListAll()
	if err != nil {
		return nil, err
	}
	var out []models.Attachment
	for _, a := range all {
		if a.Status == status {
			out = append(out, a)
		}
	}
	return out, nil
}

// SweepOrphans removes staged files that no record references. These can
// exist after a crash between the file rename and the record commit.
// It returns the removed file names.
func (l *Ledger) SweepOrphans() ([]string, error) {
	known := make(map[string]bool)
	err := l.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAttachments).ForEach(func(k, _ []byte) error {
			known[string(k)] = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(l.filesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan attachments directory: %w", err)
	}

	var removed []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if known[name] {
			continue
		}
		if err := os.Remove(filepath.Join(l.filesDir, name)); err != nil {
			return removed, fmt.Errorf("failed to remove orphan %s: %w", name, err)
		}
		removed = append(removed, name)
	}
	return removed, nil
}

func (l *Ledger) put(a *models.Attachment) error {
	a.UpdatedAt = time.Now()
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal attachment: %w", err)
	}
	return l.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketAttachments).Put([]byte(a.ID), data); err != nil {
			return err
		}
		return tx.Bucket(bucketByItem).Put(itemKey(a.ItemID, a.ID), nil)
	})
}

func (l *Ledger) update(id string, mutate func(*models.Attachment)) error {
	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketAttachments)
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		var a models.Attachment
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode attachment %s: %w", id, err)
		}
		mutate(&a)
		a.UpdatedAt = time.Now()
		out, err := json.Marshal(&a)
		if err != nil {
			return fmt.Errorf("marshal attachment: %w", err)
		}
		return b.Put([]byte(id), out)
	})
}

func itemKey(itemID, attachmentID string) []byte {
	return []byte(itemID + "/" + attachmentID)
}

func hasPrefix(k, prefix []byte) bool {
	return len(k) >= len(prefix) && string(k[:len(prefix)]) == string(prefix)
}

func sortByCreated(atts []models.Attachment) {
	sort.Slice(atts, func(i, j int) bool {
		return atts[i].CreatedAt.Before(atts[j].CreatedAt)
	})
}
