// ABOUTME: Item model representing a task-list item with completion, like, and share state
// ABOUTME: Enforces the three-image cap and provides the (owner, id) identity key for dedup

package models

import (
	"time"

	"github.com/google/uuid"
)

// MaxImageURLs is the most image URLs an item exposes at once.
// Appending beyond the cap evicts the oldest URL first.
const MaxImageURLs = 3

// Item represents a single task-list item. An item is either owned
// (written by the current user) or shared (a read-only projection of
// another user's item, visible because the current user's handle appears
// in SharedWith).
type Item struct {
	ID         string     `json:"id"`
	OwnerID    string     `json:"owner_id"`
	Name       string     `json:"name"`
	Completed  bool       `json:"completed"`
	Liked      bool       `json:"liked"`
	DueDate    *time.Time `json:"due_date,omitempty"`
	OrderIndex int        `json:"order_index"`
	Priority   int        `json:"priority"`
	SharedWith []string   `json:"shared_with,omitempty"`
	ImageURLs  []string   `json:"image_urls,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ItemKey identifies an item across owners. Items from the owned feed and
// the shared feed can never collide because the owner is part of the key.
type ItemKey struct {
	OwnerID string
	ID      string
}

// NewItem creates a new Item owned by ownerID with a generated ID
// and CreatedAt set to the current time.
func NewItem(ownerID, name string) *Item {
	now := time.Now()
	return &Item{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Key returns the item's identity key.
func (i *Item) Key() ItemKey {
	return ItemKey{OwnerID: i.OwnerID, ID: i.ID}
}

// IsSharedWith reports whether handle appears in the item's share list.
func (i *Item) IsSharedWith(handle string) bool {
	for _, h := range i.SharedWith {
		if h == handle {
			return true
		}
	}
	return false
}

// AppendImageURL appends url to the item's image list, evicting the
// oldest URL if the list is already at the cap.
func (i *Item) AppendImageURL(url string) {
	i.ImageURLs = append(i.ImageURLs, url)
	if len(i.ImageURLs) > MaxImageURLs {
		i.ImageURLs = i.ImageURLs[len(i.ImageURLs)-MaxImageURLs:]
	}
}

// Clone returns a deep copy. The merge engine publishes clones so readers
// never observe in-place mutation.
func (i *Item) Clone() *Item {
	c := *i
	if i.DueDate != nil {
		due := *i.DueDate
		c.DueDate = &due
	}
	c.SharedWith = append([]string(nil), i.SharedWith...)
	c.ImageURLs = append([]string(nil), i.ImageURLs...)
	return &c
}
