// ABOUTME: Live item list engine merging the owned and shared feeds into one snapshot
// ABOUTME: Single-writer loop; optimistic edits with rollback; attachment cascade on delete

package merge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/harper/sharelist/internal/ledger"
	"github.com/harper/sharelist/internal/models"
	"github.com/harper/sharelist/internal/remote"
	"github.com/harper/sharelist/internal/snapcache"
	"github.com/harper/sharelist/internal/uploader"
)

// Config carries the engine's collaborators and identity.
type Config struct {
	UserID string
	Handle string

	Docs    remote.DocumentStore
	Blobs   remote.BlobStore
	Ledger  *ledger.Ledger
	Uploads *uploader.Uploader

	// Cache is optional; when set, merged snapshots are written through
	// and the last snapshot is served before the first server batch.
	Cache *snapcache.Cache

	Ordering  Order
	Staleness time.Duration
	Logger    *log.Logger
}

// Snapshot is one published view of the merged list: the sorted items
// plus, keyed by item ID, the staged attachments that have not synced
// yet. Consumers can render local previews next to remote URLs without
// a second query.
type Snapshot struct {
	Items           []models.Item
	PendingPreviews map[string][]models.Attachment
}

// Engine owns the merged item list. Two live feeds, items the user owns
// and items shared with their handle, land in per-feed document sets; a
// recompute merges them, overlays unconfirmed local edits, sorts, and
// publishes the snapshot. All feed state is owned by a single loop
// goroutine; public methods hand closures to that loop.
type Engine struct {
	userID    string
	handle    string
	docs      remote.DocumentStore
	blobs     remote.BlobStore
	ledger    *ledger.Ledger
	uploads   *uploader.Uploader
	cache     *snapcache.Cache
	ordering  Order
	pending   *pendingSet
	logger    *log.Logger

	cmds    chan func()
	updates chan Snapshot
	errs    chan error
	ready   chan struct{}
	stopped chan struct{}

	readyOnce sync.Once
	stopOnce  sync.Once

	// publishMu serializes image-list publishes per engine, so two
	// finished uploads cannot write their read-modify-update out of
	// order and strand the shorter list on the server.
	publishMu sync.Mutex

	// Loop-owned state. Never touched outside the loop goroutine.
	owned       map[string]remote.Document
	shared      map[models.ItemKey]remote.Document
	ownedReady  bool
	sharedReady bool
	snapshot    []models.Item

	subOwned  remote.Subscription
	subShared remote.Subscription
}

// New creates an engine. Call Start before any other method.
func New(cfg Config) *Engine {
	staleness := cfg.Staleness
	if staleness <= 0 {
		staleness = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		userID:   cfg.UserID,
		handle:   cfg.Handle,
		docs:     cfg.Docs,
		blobs:    cfg.Blobs,
		ledger:   cfg.Ledger,
		uploads:  cfg.Uploads,
		cache:    cfg.Cache,
		ordering: cfg.Ordering,
		pending:  newPendingSet(staleness),
		logger:   logger,
		cmds:     make(chan func()),
		updates:  make(chan Snapshot, 1),
		errs:     make(chan error, 16),
		ready:    make(chan struct{}),
		stopped:  make(chan struct{}),
		owned:    make(map[string]remote.Document),
		shared:   make(map[models.ItemKey]remote.Document),
	}
}

// Start serves the cached snapshot if one exists, opens both live feeds,
// and launches the merge loop.
func (e *Engine) Start(ctx context.Context) error {
	if e.cache != nil {
		if items, _, ok := e.cache.GetItems(e.userID); ok {
			e.snapshot = items
			e.publish(Snapshot{Items: items, PendingPreviews: e.pendingByItem()})
		}
	}

	ownedQ := remote.Query{
		Collection: "items",
		Where:      []remote.Where{{Field: "owner_id", Op: remote.OpEqual, Value: e.userID}},
	}
	sharedQ := remote.Query{
		Collection: "items",
		Where:      []remote.Where{{Field: "shared_with", Op: remote.OpArrayContains, Value: e.handle}},
	}

	var err error
	e.subOwned, err = e.docs.Subscribe(ctx, ownedQ)
	if err != nil {
		return fmt.Errorf("failed to open owned feed: %w", err)
	}
	e.subShared, err = e.docs.Subscribe(ctx, sharedQ)
	if err != nil {
		e.subOwned.Close()
		return fmt.Errorf("failed to open shared feed: %w", err)
	}

	go e.loop(ctx)
	return nil
}

// Stop shuts down the feeds and the merge loop.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopped)
		if e.subOwned != nil {
			e.subOwned.Close()
		}
		if e.subShared != nil {
			e.subShared.Close()
		}
	})
}

// Updates returns the snapshot channel. Only the latest snapshot is
// retained; slow consumers skip intermediates rather than stalling the
// loop.
func (e *Engine) Updates() <-chan Snapshot { return e.updates }

// Errors returns the channel carrying failed-write notifications.
func (e *Engine) Errors() <-chan error { return e.errs }

// WaitReady blocks until both feeds have delivered their initial batch.
func (e *Engine) WaitReady(ctx context.Context) error {
	select {
	case <-e.ready:
		return nil
	case <-e.stopped:
		return fmt.Errorf("engine stopped before feeds were ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Items returns a copy of the current merged snapshot.
func (e *Engine) Items() []models.Item {
	var items []models.Item
	e.do(func() {
		items = append([]models.Item(nil), e.snapshot...)
	})
	return items
}

// Get returns the item with the given key from the current snapshot.
func (e *Engine) Get(key models.ItemKey) (*models.Item, bool) {
	var found *models.Item
	e.do(func() {
		for i := range e.snapshot {
			if e.snapshot[i].Key() == key {
				found = e.snapshot[i].Clone()
				return
			}
		}
	})
	return found, found != nil
}

// Resolve finds an item whose ID starts with prefix, searching owned
// items first. Ambiguous prefixes are an error.
func (e *Engine) Resolve(prefix string) (*models.Item, error) {
	items := e.Items()
	var matches []models.Item
	for _, it := range items {
		if len(it.ID) >= len(prefix) && it.ID[:len(prefix)] == prefix {
			matches = append(matches, it)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("no item matches %q", prefix)
	case 1:
		return matches[0].Clone(), nil
	default:
		return nil, fmt.Errorf("%q matches %d items; use a longer prefix", prefix, len(matches))
	}
}

// AddOrUpdate writes an owned item. The snapshot reflects the change
// immediately; a failed server write rolls it back and surfaces the
// error on both the return value and the error channel.
func (e *Engine) AddOrUpdate(ctx context.Context, item *models.Item) error {
	if item.OwnerID == "" {
		item.OwnerID = e.userID
	}
	if item.OwnerID != e.userID {
		return fmt.Errorf("cannot write to another user's list")
	}
	item.UpdatedAt = time.Now()

	doc, err := itemToDoc(item)
	if err != nil {
		return err
	}

	var prev remote.Document
	var existed bool
	e.do(func() {
		prev, existed = e.owned[item.ID]
		e.owned[item.ID] = doc
		e.recompute()
	})
	e.pending.record(item.Key(), doc)

	if err := e.docs.Upsert(ctx, e.itemPath(item.OwnerID, item.ID), doc, nil); err != nil {
		e.pending.rollback(item.Key(), nil)
		e.do(func() {
			if existed {
				e.owned[item.ID] = prev
			} else {
				delete(e.owned, item.ID)
			}
			e.recompute()
		})
		err = fmt.Errorf("failed to save item: %w", err)
		e.reportError(err)
		return err
	}
	return nil
}

// ToggleCompleted flips the completed flag on an owned item and returns
// the new value.
func (e *Engine) ToggleCompleted(ctx context.Context, itemID string) (bool, error) {
	key := models.ItemKey{OwnerID: e.userID, ID: itemID}
	return e.toggleField(ctx, key, "completed")
}

// ToggleLiked flips the liked flag. Shared items are allowed; the write
// lands on the owner's document with a field-scoped merge, so it cannot
// clobber the owner's concurrent edits.
func (e *Engine) ToggleLiked(ctx context.Context, key models.ItemKey) (bool, error) {
	return e.toggleField(ctx, key, "liked")
}

func (e *Engine) toggleField(ctx context.Context, key models.ItemKey, field string) (bool, error) {
	var prev remote.Document
	var newVal bool
	var found bool
	e.do(func() {
		doc, ok := e.lookup(key)
		if !ok {
			return
		}
		found = true
		prev = cloneDocument(doc)

		cur, _ := doc[field].(bool)
		newVal = !cur

		next := cloneDocument(doc)
		next[field] = newVal
		next["updated_at"] = time.Now().Format(time.RFC3339Nano)
		e.store(key, next)
		e.recompute()
	})
	if !found {
		return false, fmt.Errorf("no such item: %s", key.ID)
	}

	fields := remote.Document{
		field:        newVal,
		"updated_at": time.Now().Format(time.RFC3339Nano),
	}
	e.pending.record(key, fields)

	err := e.docs.Upsert(ctx, e.itemPath(key.OwnerID, key.ID), fields, []string{field, "updated_at"})
	if err != nil {
		e.pending.rollback(key, []string{field, "updated_at"})
		e.do(func() {
			e.store(key, prev)
			e.recompute()
		})
		err = fmt.Errorf("failed to update %s: %w", field, err)
		e.reportError(err)
		return false, err
	}
	return newVal, nil
}

// Delete removes an owned item: in-flight uploads are cancelled, the
// server document is deleted, then local attachment state and remote
// blobs are cleaned up. A failed server delete restores the snapshot
// and leaves local attachments untouched.
func (e *Engine) Delete(ctx context.Context, itemID string) error {
	key := models.ItemKey{OwnerID: e.userID, ID: itemID}

	var prev remote.Document
	var existed bool
	e.do(func() {
		prev, existed = e.owned[itemID]
		if existed {
			delete(e.owned, itemID)
			e.recompute()
		}
	})
	if !existed {
		return fmt.Errorf("no such item: %s", itemID)
	}

	e.uploads.CancelItem(itemID)

	if err := e.docs.Delete(ctx, e.itemPath(e.userID, itemID)); err != nil {
		e.do(func() {
			e.owned[itemID] = prev
			e.recompute()
		})
		err = fmt.Errorf("failed to delete item: %w", err)
		e.reportError(err)
		return err
	}
	e.pending.rollback(key, nil)

	if _, err := e.ledger.RemoveAll(itemID); err != nil {
		e.logger.Warn("failed to remove local attachments", "item", itemID, "err", err)
	}
	e.deleteRemoteBlobs(ctx, itemID)
	return nil
}

// StageImages stages image bytes for an owned item and schedules their
// uploads. The previews appear in the published snapshot until each
// upload syncs and the item's image list updates.
func (e *Engine) StageImages(ctx context.Context, itemID string, images [][]byte) ([]models.Attachment, error) {
	if _, ok := e.Get(models.ItemKey{OwnerID: e.userID, ID: itemID}); !ok {
		return nil, fmt.Errorf("no such item: %s", itemID)
	}

	var staged []models.Attachment
	for _, data := range images {
		att, err := e.ledger.Create(itemID, data)
		if err != nil {
			return staged, fmt.Errorf("failed to stage image: %w", err)
		}
		e.uploads.Schedule(ctx, att)
		staged = append(staged, *att)
	}
	if len(staged) > 0 {
		e.do(e.recompute)
	}
	return staged, nil
}

// ReplaceImages discards an item's existing images, local and remote,
// and stages the given ones in their place.
func (e *Engine) ReplaceImages(ctx context.Context, itemID string, images [][]byte) ([]models.Attachment, error) {
	key := models.ItemKey{OwnerID: e.userID, ID: itemID}

	var prev remote.Document
	var existed bool
	e.do(func() {
		doc, ok := e.owned[itemID]
		if !ok {
			return
		}
		existed = true
		prev = cloneDocument(doc)

		next := cloneDocument(doc)
		next["image_urls"] = []string{}
		next["updated_at"] = time.Now().Format(time.RFC3339Nano)
		e.owned[itemID] = next
		e.recompute()
	})
	if !existed {
		return nil, fmt.Errorf("no such item: %s", itemID)
	}

	e.uploads.CancelItem(itemID)
	if _, err := e.ledger.RemoveAll(itemID); err != nil {
		return nil, fmt.Errorf("failed to clear staged images: %w", err)
	}

	fields := remote.Document{
		"image_urls": []string{},
		"updated_at": time.Now().Format(time.RFC3339Nano),
	}
	e.pending.record(key, fields)

	err := e.docs.Upsert(ctx, e.itemPath(e.userID, itemID), fields, []string{"image_urls", "updated_at"})
	if err != nil {
		e.pending.rollback(key, []string{"image_urls", "updated_at"})
		e.do(func() {
			e.owned[itemID] = prev
			e.recompute()
		})
		err = fmt.Errorf("failed to clear images: %w", err)
		e.reportError(err)
		return nil, err
	}

	e.deleteRemoteBlobs(ctx, itemID)
	return e.StageImages(ctx, itemID, images)
}

// PendingPreviews returns the item's attachments that have not synced
// yet, so callers can render local previews alongside remote URLs.
func (e *Engine) PendingPreviews(itemID string) ([]models.Attachment, error) {
	atts, err := e.ledger.List(itemID)
	if err != nil {
		return nil, err
	}
	var out []models.Attachment
	for _, a := range atts {
		if a.Status != models.StatusSynced {
			out = append(out, a)
		}
	}
	return out, nil
}

// HandleAttachmentSynced publishes a freshly uploaded attachment's URL
// onto its item. The blob is already durable when this runs, so the
// metadata write never references bytes that do not exist.
func (e *Engine) HandleAttachmentSynced(att models.Attachment) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()

	key := models.ItemKey{OwnerID: e.userID, ID: att.ItemID}

	var updated []string
	var found bool
	e.do(func() {
		doc, ok := e.owned[att.ItemID]
		if !ok {
			return
		}
		found = true

		item, err := docToItem(doc)
		if err != nil {
			return
		}
		item.AppendImageURL(att.RemoteURL)
		item.UpdatedAt = time.Now()
		updated = item.ImageURLs

		next, err := itemToDoc(&item)
		if err != nil {
			return
		}
		e.owned[att.ItemID] = next
		e.recompute()
	})
	if !found {
		// Item deleted while the upload ran; drop the stranded record.
		if err := e.ledger.Remove(att.ID); err != nil {
			e.logger.Warn("failed to drop stranded attachment", "attachment", att.ID, "err", err)
		}
		return
	}

	fields := remote.Document{
		"image_urls": updated,
		"updated_at": time.Now().Format(time.RFC3339Nano),
	}
	e.pending.record(key, fields)

	err := e.docs.Upsert(context.Background(), e.itemPath(e.userID, att.ItemID), fields, []string{"image_urls", "updated_at"})
	if err != nil {
		// The blob and ledger record are durable; only the item metadata
		// lagged. Surface it and let the next write carry the list.
		e.pending.rollback(key, []string{"image_urls", "updated_at"})
		e.reportError(fmt.Errorf("failed to publish image url for item %s: %w", att.ItemID, err))
	}
}

func (e *Engine) itemPath(ownerID, itemID string) string {
	return fmt.Sprintf("users/%s/items/%s", ownerID, itemID)
}

func (e *Engine) blobDir(itemID string) string {
	return fmt.Sprintf("users/%s/items/%s", e.userID, itemID)
}

func (e *Engine) deleteRemoteBlobs(ctx context.Context, itemID string) {
	children, err := e.blobs.ListChildren(ctx, e.blobDir(itemID))
	if err != nil {
		e.logger.Warn("failed to list remote blobs", "item", itemID, "err", err)
		return
	}
	for _, child := range children {
		if err := e.blobs.Delete(ctx, child); err != nil {
			e.logger.Warn("failed to delete remote blob", "path", child, "err", err)
		}
	}
}

// lookup finds a document by key in either feed. Loop goroutine only.
func (e *Engine) lookup(key models.ItemKey) (remote.Document, bool) {
	if key.OwnerID == e.userID {
		doc, ok := e.owned[key.ID]
		return doc, ok
	}
	doc, ok := e.shared[key]
	return doc, ok
}

// store writes a document back to the feed it came from. Loop goroutine only.
func (e *Engine) store(key models.ItemKey, doc remote.Document) {
	if key.OwnerID == e.userID {
		e.owned[key.ID] = doc
		return
	}
	e.shared[key] = doc
}

// loop is the single writer over feed state.
func (e *Engine) loop(ctx context.Context) {
	ownedCh := e.subOwned.Changes()
	sharedCh := e.subShared.Changes()

	for {
		select {
		case <-ctx.Done():
			e.Stop()
			return
		case <-e.stopped:
			return
		case fn := <-e.cmds:
			fn()
		case batch, ok := <-ownedCh:
			if !ok {
				if err := e.subOwned.Err(); err != nil {
					e.reportError(fmt.Errorf("owned feed closed: %w", err))
				}
				ownedCh = nil
				continue
			}
			e.applyOwned(batch)
		case batch, ok := <-sharedCh:
			if !ok {
				if err := e.subShared.Err(); err != nil {
					e.reportError(fmt.Errorf("shared feed closed: %w", err))
				}
				sharedCh = nil
				continue
			}
			e.applyShared(batch)
		}
	}
}

func (e *Engine) applyOwned(batch remote.ChangeBatch) {
	for _, ch := range batch.Changes {
		id := pathTail(ch.Path)
		switch ch.Kind {
		case remote.ChangeRemoved:
			delete(e.owned, id)
		default:
			e.owned[id] = ch.Data
		}
	}
	e.ownedReady = true
	e.recompute()
}

func (e *Engine) applyShared(batch remote.ChangeBatch) {
	for _, ch := range batch.Changes {
		key := models.ItemKey{ID: pathTail(ch.Path)}
		if owner, ok := ch.Data["owner_id"].(string); ok {
			key.OwnerID = owner
		} else if ch.Kind == remote.ChangeRemoved {
			// Removal carries no data; find the entry by ID.
			for k := range e.shared {
				if k.ID == key.ID {
					key = k
					break
				}
			}
		}
		switch ch.Kind {
		case remote.ChangeRemoved:
			delete(e.shared, key)
		default:
			e.shared[key] = ch.Data
		}
	}
	e.sharedReady = true
	e.recompute()
}

// recompute rebuilds the merged snapshot from both feeds. Pure given
// the feed state: same documents in, same snapshot out. Loop goroutine
// only.
func (e *Engine) recompute() {
	merged := make(map[models.ItemKey]remote.Document, len(e.owned)+len(e.shared))
	for key, doc := range e.shared {
		merged[key] = doc
	}
	// Owned entries win when the same item appears in both feeds.
	for id, doc := range e.owned {
		merged[models.ItemKey{OwnerID: e.userID, ID: id}] = doc
	}

	items := make([]models.Item, 0, len(merged))
	for key, doc := range merged {
		doc = e.pending.overlay(key, doc)
		item, err := docToItem(doc)
		if err != nil {
			e.logger.Warn("dropping malformed item document", "id", key.ID, "err", err)
			continue
		}
		items = append(items, item)
	}
	SortItems(items, e.ordering)

	e.snapshot = items
	if e.ownedReady && e.sharedReady {
		if e.cache != nil {
			if err := e.cache.PutItems(e.userID, items); err != nil {
				e.logger.Warn("failed to persist snapshot", "err", err)
			}
		}
		e.readyOnce.Do(func() { close(e.ready) })
	}
	e.publish(Snapshot{Items: items, PendingPreviews: e.pendingByItem()})
}

// pendingByItem gathers the unsynced attachments, grouped by item ID,
// for the published snapshot.
func (e *Engine) pendingByItem() map[string][]models.Attachment {
	all, err := e.ledger.ListAll()
	if err != nil {
		e.logger.Warn("failed to read pending previews", "err", err)
		return nil
	}
	var out map[string][]models.Attachment
	for _, a := range all {
		if a.Status == models.StatusSynced {
			continue
		}
		if out == nil {
			out = make(map[string][]models.Attachment)
		}
		out[a.ItemID] = append(out[a.ItemID], a)
	}
	return out
}

// publish posts the snapshot, replacing any unconsumed one.
func (e *Engine) publish(snap Snapshot) {
	for {
		select {
		case e.updates <- snap:
			return
		default:
			select {
			case <-e.updates:
			default:
			}
		}
	}
}

// do runs fn on the loop goroutine and waits for it.
func (e *Engine) do(fn func()) {
	done := make(chan struct{})
	select {
	case e.cmds <- func() {
		fn()
		close(done)
	}:
		<-done
	case <-e.stopped:
	}
}

func (e *Engine) reportError(err error) {
	select {
	case e.errs <- err:
	default:
		e.logger.Warn("dropping unconsumed engine error", "err", err)
	}
}

func pathTail(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}

func cloneDocument(doc remote.Document) remote.Document {
	out := make(remote.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// itemToDoc converts an item to its wire document via JSON, so field
// names always match the subscription payloads.
func itemToDoc(item *models.Item) (remote.Document, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	var doc remote.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("encode item: %w", err)
	}
	return doc, nil
}

func docToItem(doc remote.Document) (models.Item, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return models.Item{}, fmt.Errorf("decode item: %w", err)
	}
	var item models.Item
	if err := json.Unmarshal(data, &item); err != nil {
		return models.Item{}, fmt.Errorf("decode item: %w", err)
	}
	if item.ID == "" || item.OwnerID == "" {
		return models.Item{}, fmt.Errorf("item document missing id or owner")
	}
	return item, nil
}
