// ABOUTME: Pending local edits that override server snapshots until confirmed
// ABOUTME: Field-level records with a staleness window after which the server wins

package merge

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"github.com/harper/sharelist/internal/models"
	"github.com/harper/sharelist/internal/remote"
)

// pendingField is one unconfirmed local write.
type pendingField struct {
	value      any
	recordedAt time.Time
}

// pendingSet tracks optimistic field writes per item. A write overrides
// incoming server documents until the server echoes the same value back
// or the staleness window expires, whichever comes first. After expiry
// the server value wins, so a lost write cannot shadow remote state
// forever.
type pendingSet struct {
	mu     sync.Mutex
	window time.Duration
	fields map[models.ItemKey]map[string]pendingField
	now    func() time.Time
}

func newPendingSet(window time.Duration) *pendingSet {
	return &pendingSet{
		window: window,
		fields: make(map[models.ItemKey]map[string]pendingField),
		now:    time.Now,
	}
}

// record stores optimistic values for key. Values are normalized through
// JSON so later comparison against decoded server documents is exact.
func (p *pendingSet) record(key models.ItemKey, fields map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.fields[key]
	if m == nil {
		m = make(map[string]pendingField)
		p.fields[key] = m
	}
	at := p.now()
	for f, v := range fields {
		m[f] = pendingField{value: normalize(v), recordedAt: at}
	}
}

// rollback discards the named optimistic fields for key, or all of them
// when fields is nil.
func (p *pendingSet) rollback(key models.ItemKey, fields []string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if fields == nil {
		delete(p.fields, key)
		return
	}
	m := p.fields[key]
	for _, f := range fields {
		delete(m, f)
	}
	if len(m) == 0 {
		delete(p.fields, key)
	}
}

// overlay reconciles a server document against pending writes for key:
// confirmed fields (server matches) are dropped, expired fields yield to
// the server, and everything else overrides the document. The returned
// document is safe to use as the merged view.
func (p *pendingSet) overlay(key models.ItemKey, doc remote.Document) remote.Document {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := p.fields[key]
	if len(m) == 0 {
		return doc
	}

	out := make(remote.Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}

	now := p.now()
	for f, pf := range m {
		if now.Sub(pf.recordedAt) > p.window {
			delete(m, f)
			continue
		}
		if reflect.DeepEqual(normalize(out[f]), pf.value) {
			delete(m, f)
			continue
		}
		out[f] = pf.value
	}
	if len(m) == 0 {
		delete(p.fields, key)
	}
	return out
}

// has reports whether key still carries unconfirmed writes.
func (p *pendingSet) has(key models.ItemKey) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fields[key]) > 0
}

// normalize round-trips a value through JSON so in-memory Go values
// compare equal to decoded wire values.
func normalize(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}
