// ABOUTME: Durable per-user snapshot cache for the last-known item list and profile
// ABOUTME: Backed by bbolt; decode failures are treated as misses and purged, never surfaced

package snapcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"go.etcd.io/bbolt"

	"github.com/harper/sharelist/internal/models"
)

var (
	bucketItems    = []byte("item_snapshots")
	bucketProfiles = []byte("profiles")
)

// itemSnapshot is the stored envelope. StoredAt lets callers judge
// staleness; this layer enforces no expiry.
type itemSnapshot struct {
	StoredAt time.Time     `json:"stored_at"`
	Items    []models.Item `json:"items"`
}

// Cache is the durable snapshot cache. Writes serialize through bbolt's
// single-writer transaction model, so concurrent puts never interleave.
type Cache struct {
	db     *bbolt.DB
	logger *log.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger used for corruption warnings.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// Open opens (creating if needed) the snapshot cache at path.
func Open(path string, opts ...Option) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot cache: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketItems, bucketProfiles} {
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

	c := &Cache{db: db, logger: log.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Close closes the cache.
func (c *Cache) Close() error {
	return c.db.Close()
}

// PutItems persists a timestamped snapshot of the user's item list.
func (c *Cache) PutItems(userID string, items []models.Item) error {
	snap := itemSnapshot{StoredAt: time.Now(), Items: items}
	data, err := json.Marshal(&snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketItems).Put([]byte(userID), data)
	})
}

// GetItems returns the last stored snapshot for userID and when it was
// stored. A missing or corrupt snapshot is a miss; corrupt entries are
// purged so they do not fail again.
func (c *Cache) GetItems(userID string) ([]models.Item, time.Time, bool) {
	var data []byte
	_ = c.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketItems).Get([]byte(userID)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return nil, time.Time{}, false
	}

	var snap itemSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		c.logger.Warn("purging corrupt item snapshot", "user", userID, "err", err)
		c.purge(bucketItems, userID)
		return nil, time.Time{}, false
	}
	return snap.Items, snap.StoredAt, true
}

// PutProfile persists the user's profile.
func (c *Cache) PutProfile(userID string, profile models.Profile) error {
	data, err := json.Marshal(&profile)
	if err != nil {
		return fmt.Errorf("marshal profile: %w", err)
	}

	return c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketProfiles).Put([]byte(userID), data)
	})
}

// GetProfile returns the cached profile, or a miss for absent or
// corrupt entries.
func (c *Cache) GetProfile(userID string) (models.Profile, bool) {
	var data []byte
	_ = c.db.View(func(tx *bbolt.Tx) error {
		if v := tx.Bucket(bucketProfiles).Get([]byte(userID)); v != nil {
			data = make([]byte, len(v))
			copy(data, v)
		}
		return nil
	})
	if data == nil {
		return models.Profile{}, false
	}

	var profile models.Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		c.logger.Warn("purging corrupt profile", "user", userID, "err", err)
		c.purge(bucketProfiles, userID)
		return models.Profile{}, false
	}
	return profile, true
}

// Clear removes all cached state for userID.
func (c *Cache) Clear(userID string) error {
	return c.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketItems).Delete([]byte(userID)); err != nil {
			return err
		}
		return tx.Bucket(bucketProfiles).Delete([]byte(userID))
	})
}

func (c *Cache) purge(bucket []byte, key string) {
	_ = c.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}
