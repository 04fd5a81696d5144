// ABOUTME: Narrow interfaces for the remote document store and blob store
// ABOUTME: Defines queries, live change subscriptions, and the error taxonomy

package remote

import (
	"context"
	"errors"
)

// Document is a schemaless remote document.
type Document map[string]any

// Op is a query predicate operator. The remote store supports only
// equality and array membership.
type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

// Where is a single field predicate.
type Where struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value"`
}

// Query selects documents from a collection. All predicates must match.
type Query struct {
	Collection string  `json:"collection"`
	Where      []Where `json:"where,omitempty"`
	OrderBy    string  `json:"order_by,omitempty"`
	Descending bool    `json:"descending,omitempty"`
	Limit      int     `json:"limit,omitempty"`

	// Cursor resumes a live subscription from a previous batch's cursor.
	Cursor string `json:"cursor,omitempty"`
}

// ChangeKind describes what happened to a document in a live batch.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// DocumentChange is one document's change within a batch.
type DocumentChange struct {
	Kind ChangeKind `json:"kind"`
	Path string     `json:"path"`
	Data Document   `json:"data,omitempty"`
}

// ChangeBatch is a batch of changes delivered by a live subscription.
// Cursor can be handed back in Query.Cursor to resume after a reconnect.
type ChangeBatch struct {
	Changes []DocumentChange `json:"changes"`
	Cursor  string           `json:"cursor,omitempty"`
}

// Subscription is a live stream of change batches for a query.
type Subscription interface {
	// Changes delivers batches until the subscription is closed. The
	// channel is closed after the final batch.
	Changes() <-chan ChangeBatch

	// Err returns the terminal error, if any, once Changes is closed.
	Err() error

	// Close stops the subscription.
	Close()
}

// DocumentStore is the remote document store consumed by the merge engine.
type DocumentStore interface {
	// Upsert writes doc at path. If mergeFields is non-empty, only those
	// fields are written and the rest of the document is left untouched.
	Upsert(ctx context.Context, path string, doc Document, mergeFields []string) error

	// Delete removes the document at path. Deleting an absent document
	// is not an error.
	Delete(ctx context.Context, path string) error

	// GetOnce reads the document at path, or ErrNotFound.
	GetOnce(ctx context.Context, path string) (Document, error)

	// Subscribe opens a live subscription for the query.
	Subscribe(ctx context.Context, q Query) (Subscription, error)
}

// BlobStore is the remote blob store consumed by the upload scheduler.
type BlobStore interface {
	// Put uploads data at path.
	Put(ctx context.Context, path string, data []byte, contentType string) error

	// DownloadURL returns a stable URL for the blob at path.
	DownloadURL(ctx context.Context, path string) (string, error)

	// ListChildren lists blob paths directly under path.
	ListChildren(ctx context.Context, path string) ([]string, error)

	// Delete removes the blob at path. Absent blobs are not an error.
	Delete(ctx context.Context, path string) error
}

var (
	// ErrNotFound is returned for reads of absent documents or blobs.
	// Deletes treat it as success.
	ErrNotFound = errors.New("remote: not found")

	// ErrUnauthorized is returned when the current identity may not
	// perform the operation. Never retried.
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// IsRetryable reports whether err is worth retrying. Authorization and
// not-found failures are permanent; everything else (network, server) is
// treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
