// ABOUTME: Tests for the live merge engine
// ABOUTME: Feed merging, optimistic rollback, cross-tenant likes, delete cascade, image publishing

package merge

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/harper/sharelist/internal/ledger"
	"github.com/harper/sharelist/internal/models"
	"github.com/harper/sharelist/internal/remote"
	"github.com/harper/sharelist/internal/snapcache"
	"github.com/harper/sharelist/internal/uploader"
)

type fixture struct {
	store  *remote.MemoryStore
	blobs  *remote.MemoryBlobs
	ledger *ledger.Ledger
	cache  *snapcache.Cache
	up     *uploader.Uploader
	engine *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	l, err := ledger.Open(filepath.Join(dir, "ledger.db"), filepath.Join(dir, "files"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	cache, err := snapcache.Open(filepath.Join(dir, "cache.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { cache.Close() })

	store := remote.NewMemoryStore()
	blobs := remote.NewMemoryBlobs()
	up := uploader.New(l, blobs, "u1", uploader.WithRetryPolicy(3, time.Millisecond))

	eng := New(Config{
		UserID:  "u1",
		Handle:  "alice",
		Docs:    store,
		Blobs:   blobs,
		Ledger:  l,
		Uploads: up,
		Cache:   cache,
	})
	up.SetOnSynced(eng.HandleAttachmentSynced)

	return &fixture{store: store, blobs: blobs, ledger: l, cache: cache, up: up, engine: eng}
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if err := f.engine.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(f.engine.Stop)

	waitCtx, waitCancel := context.WithTimeout(ctx, 2*time.Second)
	defer waitCancel()
	if err := f.engine.WaitReady(waitCtx); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func seed(t *testing.T, store *remote.MemoryStore, path string, doc remote.Document) {
	t.Helper()
	if err := store.Upsert(context.Background(), path, doc, nil); err != nil {
		t.Fatal(err)
	}
}

func TestMergesOwnedAndSharedFeeds(t *testing.T) {
	f := newFixture(t)

	seed(t, f.store, "users/u1/items/a", remote.Document{"id": "a", "owner_id": "u1", "name": "mine"})
	// Owned item also shared with the user's own handle appears once.
	seed(t, f.store, "users/u1/items/b", remote.Document{
		"id": "b", "owner_id": "u1", "name": "mine shared", "shared_with": []any{"alice"},
	})
	seed(t, f.store, "users/u2/items/c", remote.Document{
		"id": "c", "owner_id": "u2", "name": "from bob", "shared_with": []any{"alice"},
	})
	// Shared with someone else; invisible here.
	seed(t, f.store, "users/u2/items/d", remote.Document{
		"id": "d", "owner_id": "u2", "name": "not for us", "shared_with": []any{"carol"},
	})

	f.start(t)

	items := f.engine.Items()
	if len(items) != 3 {
		t.Fatalf("merged items: got %d, want 3 (%v)", len(items), items)
	}
	seen := make(map[string]bool)
	for _, it := range items {
		seen[it.ID] = true
	}
	for _, want := range []string{"a", "b", "c"} {
		if !seen[want] {
			t.Errorf("missing item %s", want)
		}
	}
}

func TestAddIsOptimisticAndPersisted(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	item := models.NewItem("u1", "milk")
	if err := f.engine.AddOrUpdate(context.Background(), item); err != nil {
		t.Fatalf("AddOrUpdate failed: %v", err)
	}

	items := f.engine.Items()
	if len(items) != 1 || items[0].Name != "milk" {
		t.Fatalf("snapshot after add: %v", items)
	}

	doc, err := f.store.GetOnce(context.Background(), "users/u1/items/"+item.ID)
	if err != nil {
		t.Fatalf("item not persisted: %v", err)
	}
	if doc["name"] != "milk" {
		t.Errorf("persisted name: got %v", doc["name"])
	}
}

func TestFailedAddRollsBack(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	f.store.FailUpserts = errors.New("backend down")

	item := models.NewItem("u1", "doomed")
	err := f.engine.AddOrUpdate(context.Background(), item)
	if err == nil {
		t.Fatal("expected error from failed upsert")
	}

	if items := f.engine.Items(); len(items) != 0 {
		t.Errorf("rollback left items in snapshot: %v", items)
	}

	select {
	case <-f.engine.Errors():
	case <-time.After(time.Second):
		t.Error("no error surfaced on the error channel")
	}
}

func TestToggleCompleted(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	item := models.NewItem("u1", "milk")
	if err := f.engine.AddOrUpdate(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	done, err := f.engine.ToggleCompleted(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("ToggleCompleted failed: %v", err)
	}
	if !done {
		t.Error("expected completed=true after first toggle")
	}

	doc, _ := f.store.GetOnce(context.Background(), "users/u1/items/"+item.ID)
	if doc["completed"] != true {
		t.Error("completed not persisted")
	}
	// The merge write must not clobber other fields.
	if doc["name"] != "milk" {
		t.Errorf("name clobbered by field merge: %v", doc["name"])
	}
}

func TestToggleLikedOnSharedItemWritesOwnerPath(t *testing.T) {
	f := newFixture(t)

	seed(t, f.store, "users/u2/items/c", remote.Document{
		"id": "c", "owner_id": "u2", "name": "from bob", "shared_with": []any{"alice"},
	})
	f.start(t)

	key := models.ItemKey{OwnerID: "u2", ID: "c"}
	liked, err := f.engine.ToggleLiked(context.Background(), key)
	if err != nil {
		t.Fatalf("ToggleLiked failed: %v", err)
	}
	if !liked {
		t.Error("expected liked=true")
	}

	doc, err := f.store.GetOnce(context.Background(), "users/u2/items/c")
	if err != nil {
		t.Fatal(err)
	}
	if doc["liked"] != true {
		t.Error("like not written to the owner's document")
	}
	if doc["name"] != "from bob" {
		t.Error("field merge clobbered the owner's document")
	}

	got, ok := f.engine.Get(key)
	if !ok || !got.Liked {
		t.Error("like not visible in local snapshot")
	}
}

func TestShareRevocationRemovesItem(t *testing.T) {
	f := newFixture(t)

	seed(t, f.store, "users/u2/items/c", remote.Document{
		"id": "c", "owner_id": "u2", "name": "from bob", "shared_with": []any{"alice"},
	})
	f.start(t)

	waitFor(t, func() bool { return len(f.engine.Items()) == 1 }, "shared item never arrived")

	// Owner revokes the share.
	seed(t, f.store, "users/u2/items/c", remote.Document{
		"id": "c", "owner_id": "u2", "name": "from bob", "shared_with": []any{},
	})

	waitFor(t, func() bool { return len(f.engine.Items()) == 0 }, "revoked item still in snapshot")
}

func TestDeleteCascades(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx := context.Background()
	item := models.NewItem("u1", "with images")
	if err := f.engine.AddOrUpdate(ctx, item); err != nil {
		t.Fatal(err)
	}

	staged, err := f.engine.StageImages(ctx, item.ID, [][]byte{[]byte("img")})
	if err != nil {
		t.Fatal(err)
	}
	f.up.Wait()

	blobPath := f.up.BlobPath(item.ID, staged[0].ID)
	if _, ok := f.blobs.Get(blobPath); !ok {
		t.Fatal("precondition: blob not uploaded")
	}

	if err := f.engine.Delete(ctx, item.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := f.store.GetOnce(ctx, "users/u1/items/"+item.ID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("document survived delete: %v", err)
	}
	if atts, _ := f.ledger.List(item.ID); len(atts) != 0 {
		t.Errorf("ledger records survived delete: %v", atts)
	}
	if _, ok := f.blobs.Get(blobPath); ok {
		t.Error("remote blob survived delete")
	}
	if items := f.engine.Items(); len(items) != 0 {
		t.Errorf("snapshot still holds deleted item: %v", items)
	}
}

func TestImageUploadPublishesURL(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx := context.Background()
	item := models.NewItem("u1", "photo")
	if err := f.engine.AddOrUpdate(ctx, item); err != nil {
		t.Fatal(err)
	}

	staged, err := f.engine.StageImages(ctx, item.ID, [][]byte{[]byte("jpeg bytes")})
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 1 {
		t.Fatalf("staged: got %d, want 1", len(staged))
	}

	// Before the upload finishes the attachment is a pending preview.
	if previews, _ := f.engine.PendingPreviews(item.ID); len(previews) > 1 {
		t.Errorf("previews: got %d", len(previews))
	}

	f.up.Wait()

	waitFor(t, func() bool {
		got, ok := f.engine.Get(item.Key())
		return ok && len(got.ImageURLs) == 1
	}, "image url never published to the item")

	doc, _ := f.store.GetOnce(ctx, "users/u1/items/"+item.ID)
	urls, _ := doc["image_urls"].([]string)
	if len(urls) != 1 {
		t.Fatalf("persisted image_urls: %v", doc["image_urls"])
	}

	if previews, _ := f.engine.PendingPreviews(item.ID); len(previews) != 0 {
		t.Errorf("synced attachment still listed as preview: %v", previews)
	}
}

func waitForSnapshot(t *testing.T, e *Engine, cond func(Snapshot) bool, msg string) Snapshot {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case snap := <-e.Updates():
			if cond(snap) {
				return snap
			}
		case <-deadline:
			t.Fatal(msg)
			return Snapshot{}
		}
	}
}

func TestPublishedSnapshotCarriesPendingPreviews(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx := context.Background()
	item := models.NewItem("u1", "photo")
	if err := f.engine.AddOrUpdate(ctx, item); err != nil {
		t.Fatal(err)
	}

	// Park the upload so the attachment stays local.
	f.blobs.FailPuts(10)
	staged, err := f.engine.StageImages(ctx, item.ID, [][]byte{[]byte("jpeg bytes")})
	if err != nil {
		t.Fatal(err)
	}
	f.up.Wait()

	snap := waitForSnapshot(t, f.engine, func(s Snapshot) bool {
		return len(s.PendingPreviews[item.ID]) == 1
	}, "staged attachment never appeared in the published snapshot")
	if snap.PendingPreviews[item.ID][0].ID != staged[0].ID {
		t.Errorf("published preview: got %s, want %s", snap.PendingPreviews[item.ID][0].ID, staged[0].ID)
	}

	// Once synced the attachment leaves the previews map and its URL
	// lands on the item.
	f.blobs.FailPuts(0)
	if err := f.up.Retry(ctx, staged[0].ID); err != nil {
		t.Fatal(err)
	}
	f.up.Wait()

	waitForSnapshot(t, f.engine, func(s Snapshot) bool {
		if len(s.PendingPreviews[item.ID]) != 0 {
			return false
		}
		for _, it := range s.Items {
			if it.ID == item.ID && len(it.ImageURLs) == 1 {
				return true
			}
		}
		return false
	}, "synced attachment still published as a pending preview")
}

func TestImageCapKeepsNewestThree(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx := context.Background()
	item := models.NewItem("u1", "gallery")
	if err := f.engine.AddOrUpdate(ctx, item); err != nil {
		t.Fatal(err)
	}

	images := [][]byte{[]byte("1"), []byte("2"), []byte("3"), []byte("4")}
	if _, err := f.engine.StageImages(ctx, item.ID, images); err != nil {
		t.Fatal(err)
	}
	f.up.Wait()

	waitFor(t, func() bool {
		got, ok := f.engine.Get(item.Key())
		return ok && len(got.ImageURLs) == models.MaxImageURLs
	}, "image list never settled at the cap")
}

func TestReplaceImages(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx := context.Background()
	item := models.NewItem("u1", "redo")
	if err := f.engine.AddOrUpdate(ctx, item); err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.StageImages(ctx, item.ID, [][]byte{[]byte("old")}); err != nil {
		t.Fatal(err)
	}
	f.up.Wait()

	staged, err := f.engine.ReplaceImages(ctx, item.ID, [][]byte{[]byte("new")})
	if err != nil {
		t.Fatalf("ReplaceImages failed: %v", err)
	}
	if len(staged) != 1 {
		t.Fatalf("staged: got %d, want 1", len(staged))
	}
	f.up.Wait()

	waitFor(t, func() bool {
		got, ok := f.engine.Get(item.Key())
		return ok && len(got.ImageURLs) == 1
	}, "replacement image never published")

	atts, _ := f.ledger.List(item.ID)
	if len(atts) != 1 || atts[0].ID != staged[0].ID {
		t.Errorf("ledger after replace: %v", atts)
	}
}

func TestSnapshotWritesThroughToCache(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	item := models.NewItem("u1", "cached")
	if err := f.engine.AddOrUpdate(context.Background(), item); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool {
		items, _, ok := f.cache.GetItems("u1")
		return ok && len(items) == 1 && items[0].Name == "cached"
	}, "snapshot never written through to the cache")
}

func TestResolvePrefix(t *testing.T) {
	f := newFixture(t)
	f.start(t)

	ctx := context.Background()
	item := models.NewItem("u1", "findme")
	if err := f.engine.AddOrUpdate(ctx, item); err != nil {
		t.Fatal(err)
	}

	got, err := f.engine.Resolve(item.ID[:8])
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.ID != item.ID {
		t.Errorf("resolved wrong item: %s", got.ID)
	}

	if _, err := f.engine.Resolve("zzzzzzzz"); err == nil {
		t.Error("expected error for unknown prefix")
	}
}
