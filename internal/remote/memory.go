// ABOUTME: In-memory DocumentStore with live subscriptions for tests and offline development
// ABOUTME: Evaluates equality and array-contains predicates and fans out change batches

package remote

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// MemoryStore is a goroutine-safe in-memory DocumentStore. Subscriptions
// see an initial batch of current matches followed by incremental changes.
// FailUpserts and FailDeletes inject faults for error-path tests.
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]Document
	subs    map[int]*memSubscription
	nextSub int
	seq     int

	FailUpserts error
	FailDeletes error
}

// NewMemoryStore creates an empty in-memory document store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]Document),
		subs: make(map[int]*memSubscription),
	}
}

// collectionOf extracts the collection segment from a document path:
// "users/u1/items/i1" belongs to collection "items".
func collectionOf(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-2]
}

func matchesQuery(path string, doc Document, q Query) bool {
	if q.Collection != "" && collectionOf(path) != q.Collection {
		return false
	}
	for _, w := range q.Where {
		if !matchesWhere(doc, w) {
			return false
		}
	}
	return true
}

func matchesWhere(doc Document, w Where) bool {
	val, ok := doc[w.Field]
	if !ok {
		return false
	}
	switch w.Op {
	case OpEqual:
		return reflect.DeepEqual(val, w.Value)
	case OpArrayContains:
		rv := reflect.ValueOf(val)
		if rv.Kind() != reflect.Slice {
			return false
		}
		for i := 0; i < rv.Len(); i++ {
			if reflect.DeepEqual(rv.Index(i).Interface(), w.Value) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Upsert implements DocumentStore.
func (s *MemoryStore) Upsert(_ context.Context, path string, doc Document, mergeFields []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailUpserts != nil {
		return s.FailUpserts
	}

	prev, existed := s.docs[path]

	var next Document
	if len(mergeFields) > 0 && existed {
		next = cloneDoc(prev)
		for _, f := range mergeFields {
			if v, ok := doc[f]; ok {
				next[f] = v
			}
		}
	} else if len(mergeFields) > 0 {
		next = make(Document, len(mergeFields))
		for _, f := range mergeFields {
			if v, ok := doc[f]; ok {
				next[f] = v
			}
		}
	} else {
		next = cloneDoc(doc)
	}

	s.docs[path] = next
	s.fanOut(path, prev, existed, next, true)
	return nil
}

// Delete implements DocumentStore. Deleting an absent path succeeds.
func (s *MemoryStore) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDeletes != nil {
		return s.FailDeletes
	}

	prev, existed := s.docs[path]
	if !existed {
		return nil
	}
	delete(s.docs, path)
	s.fanOut(path, prev, true, nil, false)
	return nil
}

// GetOnce implements DocumentStore.
func (s *MemoryStore) GetOnce(_ context.Context, path string) (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return cloneDoc(doc), nil
}

// Subscribe implements DocumentStore. The initial batch contains every
// currently matching document as an added change.
func (s *MemoryStore) Subscribe(_ context.Context, q Query) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := newMemSubscription(s, s.nextSub, q)
	s.subs[s.nextSub] = sub
	s.nextSub++

	var initial []DocumentChange
	for path, doc := range s.docs {
		if matchesQuery(path, doc, q) {
			initial = append(initial, DocumentChange{
				Kind: ChangeAdded,
				Path: path,
				Data: cloneDoc(doc),
			})
		}
	}
	s.seq++
	sub.enqueue(ChangeBatch{Changes: initial, Cursor: fmt.Sprintf("%d", s.seq)})
	return sub, nil
}

// fanOut delivers a change to every subscription whose match state it
// affects. Caller holds s.mu.
func (s *MemoryStore) fanOut(path string, prev Document, existed bool, next Document, nextExists bool) {
	s.seq++
	cursor := fmt.Sprintf("%d", s.seq)

	for _, sub := range s.subs {
		matchedBefore := existed && matchesQuery(path, prev, sub.query)
		matchesAfter := nextExists && matchesQuery(path, next, sub.query)

		var kind ChangeKind
		var data Document
		switch {
		case !matchedBefore && matchesAfter:
			kind, data = ChangeAdded, cloneDoc(next)
		case matchedBefore && matchesAfter:
			kind, data = ChangeModified, cloneDoc(next)
		case matchedBefore && !matchesAfter:
			kind = ChangeRemoved
		default:
			continue
		}
		sub.enqueue(ChangeBatch{
			Changes: []DocumentChange{{Kind: kind, Path: path, Data: data}},
			Cursor:  cursor,
		})
	}
}

func (s *MemoryStore) removeSub(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
}

// Len returns the number of stored documents.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

func cloneDoc(doc Document) Document {
	if doc == nil {
		return nil
	}
	c := make(Document, len(doc))
	for k, v := range doc {
		c[k] = v
	}
	return c
}

// memSubscription queues batches internally so store writers never block
// on a slow consumer.
type memSubscription struct {
	store *MemoryStore
	id    int
	query Query

	mu     sync.Mutex
	queue  []ChangeBatch
	notify chan struct{}
	ch     chan ChangeBatch
	done   chan struct{}
	once   sync.Once
}

func newMemSubscription(store *MemoryStore, id int, q Query) *memSubscription {
	sub := &memSubscription{
		store:  store,
		id:     id,
		query:  q,
		notify: make(chan struct{}, 1),
		ch:     make(chan ChangeBatch),
		done:   make(chan struct{}),
	}
	go sub.pump()
	return sub
}

func (sub *memSubscription) enqueue(batch ChangeBatch) {
	sub.mu.Lock()
	sub.queue = append(sub.queue, batch)
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *memSubscription) pump() {
	defer close(sub.ch)
	for {
		sub.mu.Lock()
		var batch *ChangeBatch
		if len(sub.queue) > 0 {
			b := sub.queue[0]
			sub.queue = sub.queue[1:]
			batch = &b
		}
		sub.mu.Unlock()

		if batch == nil {
			select {
			case <-sub.notify:
				continue
			case <-sub.done:
				return
			}
		}

		select {
		case sub.ch <- *batch:
		case <-sub.done:
			return
		}
	}
}

func (sub *memSubscription) Changes() <-chan ChangeBatch { return sub.ch }

func (sub *memSubscription) Err() error { return nil }

func (sub *memSubscription) Close() {
	sub.once.Do(func() {
		sub.store.removeSub(sub.id)
		close(sub.done)
	})
}

var _ DocumentStore = (*MemoryStore)(nil)
