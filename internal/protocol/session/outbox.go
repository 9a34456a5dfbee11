package session

import (
	"sort"
	"sync"
	"time"

	"github.com/danmuck/handstream/internal/hand"
	"github.com/danmuck/handstream/internal/protocol/envelope"
)

// SnapshotKey addresses one topology slot: one snapshot kind for one hand.
type SnapshotKey struct {
	Kind envelope.Kind
	Side hand.Side
}

// PendingSnapshot is the latest encoded snapshot for one key. It stays in
// the outbox after delivery so a reconnecting stream can send it again.
type PendingSnapshot struct {
	Key           SnapshotKey
	Payload       []byte
	Attempts      int
	QueuedAt      time.Time
	LastAttemptAt time.Time
	DeliveredAt   time.Time
	LastError     string
}

func (p PendingSnapshot) Delivered() bool {
	return !p.DeliveredAt.IsZero()
}

// SnapshotOutbox stores the latest snapshot payload per key.
type SnapshotOutbox struct {
	mu    sync.RWMutex
	items map[SnapshotKey]PendingSnapshot
}

func NewSnapshotOutbox() *SnapshotOutbox {
	return &SnapshotOutbox{
		items: make(map[SnapshotKey]PendingSnapshot),
	}
}

// Upsert replaces the entry for item.Key. Attempt history is reset.
func (o *SnapshotOutbox) Upsert(item PendingSnapshot) {
	if !item.Key.Side.Valid() || len(item.Payload) == 0 {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.items[item.Key] = item
}

func (o *SnapshotOutbox) MarkAttempt(key SnapshotKey, at time.Time, lastErr error) (PendingSnapshot, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	item, ok := o.items[key]
	if !ok {
		return PendingSnapshot{}, false
	}
	item.Attempts++
	item.LastAttemptAt = at
	item.LastError = ""
	if lastErr != nil {
		item.LastError = lastErr.Error()
	} else {
		item.DeliveredAt = at
	}
	o.items[key] = item
	return item, true
}

func (o *SnapshotOutbox) Len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.items)
}

// List returns entries ordered skeletons first, then meshes, left before
// right. Consumers build a hand from its skeleton before its mesh.
func (o *SnapshotOutbox) List() []PendingSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]PendingSnapshot, 0, len(o.items))
	for _, item := range o.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Kind != out[j].Key.Kind {
			return out[i].Key.Kind < out[j].Key.Kind
		}
		return out[i].Key.Side < out[j].Key.Side
	})
	return out
}
