// ABOUTME: Tests for the in-memory document and blob stores
// ABOUTME: Covers predicate matching, live fan-out, merge-field upserts, and fault injection

package remote

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recvBatch(t *testing.T, sub Subscription) ChangeBatch {
	t.Helper()
	select {
	case batch, ok := <-sub.Changes():
		if !ok {
			t.Fatal("subscription channel closed unexpectedly")
		}
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}
	return ChangeBatch{}
}

func TestMemoryStoreGetOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.GetOnce(ctx, "users/u1/items/i1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doc := Document{"name": "milk", "owner_id": "u1"}
	if err := store.Upsert(ctx, "users/u1/items/i1", doc, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := store.GetOnce(ctx, "users/u1/items/i1")
	if err != nil {
		t.Fatalf("GetOnce failed: %v", err)
	}
	if got["name"] != "milk" {
		t.Errorf("name: got %v, want milk", got["name"])
	}
}

func TestMemoryStoreMergeFields(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	full := Document{"name": "milk", "completed": false, "owner_id": "u1"}
	if err := store.Upsert(ctx, "users/u1/items/i1", full, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	patch := Document{"completed": true, "name": "ignored"}
	if err := store.Upsert(ctx, "users/u1/items/i1", patch, []string{"completed"}); err != nil {
		t.Fatalf("merge Upsert failed: %v", err)
	}

	got, err := store.GetOnce(ctx, "users/u1/items/i1")
	if err != nil {
		t.Fatalf("GetOnce failed: %v", err)
	}
	if got["completed"] != true {
		t.Error("merge field not applied")
	}
	if got["name"] != "milk" {
		t.Errorf("untouched field changed: got %v", got["name"])
	}
}

func TestMemoryStoreDeleteIdempotent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Delete(ctx, "users/u1/items/ghost"); err != nil {
		t.Fatalf("deleting absent document should succeed, got %v", err)
	}
}

func TestSubscribeInitialAndIncremental(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	seed := Document{"owner_id": "u1", "name": "existing"}
	if err := store.Upsert(ctx, "users/u1/items/i1", seed, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	sub, err := store.Subscribe(ctx, Query{
		Collection: "items",
		Where:      []Where{{Field: "owner_id", Op: OpEqual, Value: "u1"}},
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()

	initial := recvBatch(t, sub)
	if len(initial.Changes) != 1 || initial.Changes[0].Kind != ChangeAdded {
		t.Fatalf("unexpected initial batch: %+v", initial)
	}

	// A document for another owner must not be delivered.
	other := Document{"owner_id": "u2", "name": "other"}
	if err := store.Upsert(ctx, "users/u2/items/i9", other, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	next := Document{"owner_id": "u1", "name": "new"}
	if err := store.Upsert(ctx, "users/u1/items/i2", next, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	batch := recvBatch(t, sub)
	if len(batch.Changes) != 1 {
		t.Fatalf("expected one change, got %d", len(batch.Changes))
	}
	change := batch.Changes[0]
	if change.Kind != ChangeAdded || change.Path != "users/u1/items/i2" {
		t.Errorf("unexpected change: %+v", change)
	}

	if err := store.Delete(ctx, "users/u1/items/i2"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	batch = recvBatch(t, sub)
	if batch.Changes[0].Kind != ChangeRemoved {
		t.Errorf("expected removed change, got %+v", batch.Changes[0])
	}
}

func TestSubscribeArrayContains(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	sub, err := store.Subscribe(ctx, Query{
		Collection: "items",
		Where:      []Where{{Field: "shared_with", Op: OpArrayContains, Value: "bob"}},
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Close()
	recvBatch(t, sub) // empty initial batch

	shared := Document{"owner_id": "alice", "shared_with": []any{"bob", "carol"}}
	if err := store.Upsert(ctx, "users/alice/items/i1", shared, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	batch := recvBatch(t, sub)
	if batch.Changes[0].Path != "users/alice/items/i1" {
		t.Errorf("unexpected path: %s", batch.Changes[0].Path)
	}

	// Removing bob from the share list shows up as a removal.
	unshared := Document{"owner_id": "alice", "shared_with": []any{"carol"}}
	if err := store.Upsert(ctx, "users/alice/items/i1", unshared, nil); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	batch = recvBatch(t, sub)
	if batch.Changes[0].Kind != ChangeRemoved {
		t.Errorf("expected removed when share revoked, got %+v", batch.Changes[0])
	}
}

func TestMemoryStoreFaultInjection(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	injected := errors.New("server unavailable")
	store.FailUpserts = injected

	err := store.Upsert(ctx, "users/u1/items/i1", Document{"name": "x"}, nil)
	if !errors.Is(err, injected) {
		t.Fatalf("expected injected error, got %v", err)
	}
	if store.Len() != 0 {
		t.Error("failed upsert must not store the document")
	}
}

func TestMemoryBlobs(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()

	if err := blobs.Put(ctx, "users/u1/items/i1/a1", []byte("img"), "image/jpeg"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	url, err := blobs.DownloadURL(ctx, "users/u1/items/i1/a1")
	if err != nil {
		t.Fatalf("DownloadURL failed: %v", err)
	}
	if url != "mem://users/u1/items/i1/a1" {
		t.Errorf("unexpected URL: %s", url)
	}

	children, err := blobs.ListChildren(ctx, "users/u1/items/i1")
	if err != nil {
		t.Fatalf("ListChildren failed: %v", err)
	}
	if len(children) != 1 {
		t.Errorf("children: got %d, want 1", len(children))
	}

	if err := blobs.Delete(ctx, "users/u1/items/i1/a1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := blobs.Delete(ctx, "users/u1/items/i1/a1"); err != nil {
		t.Fatalf("second Delete should be idempotent, got %v", err)
	}
	if _, err := blobs.DownloadURL(ctx, "users/u1/items/i1/a1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryBlobsFailPuts(t *testing.T) {
	ctx := context.Background()
	blobs := NewMemoryBlobs()
	blobs.FailPuts(2)

	if err := blobs.Put(ctx, "p", []byte("x"), "image/png"); err == nil {
		t.Fatal("expected first put to fail")
	}
	if err := blobs.Put(ctx, "p", []byte("x"), "image/png"); err == nil {
		t.Fatal("expected second put to fail")
	}
	if err := blobs.Put(ctx, "p", []byte("x"), "image/png"); err != nil {
		t.Fatalf("third put should succeed, got %v", err)
	}
	if blobs.PutCount() != 3 {
		t.Errorf("PutCount: got %d, want 3", blobs.PutCount())
	}
}

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(ErrUnauthorized) {
		t.Error("unauthorized is permanent")
	}
	if IsRetryable(ErrNotFound) {
		t.Error("not-found is permanent")
	}
	if IsRetryable(context.Canceled) {
		t.Error("cancellation is not retryable")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Error("unknown errors are transient")
	}
}
