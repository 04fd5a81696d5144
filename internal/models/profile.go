// ABOUTME: Profile model for the current user's identity
// ABOUTME: Cached in the snapshot cache so the UI can paint before live data arrives

package models

// Profile is the current user's identity as known to the remote store.
// Handle is what other users put in an item's share list.
type Profile struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name,omitempty"`
}
