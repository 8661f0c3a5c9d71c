package events

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

const (
	defaultHistoryLimit = 2048
	subscriberBuffer    = 32
)

// Hub retains a bounded history of committed records and fans new records out
// to live subscribers. Slow subscribers miss records rather than blocking the
// publisher.
type Hub struct {
	mu      sync.Mutex
	limit   int
	seq     uint64
	nextID  uint64
	history []Record
	subs    map[uint64]chan Record
}

// NewHub constructs a hub retaining at most limit records. A non-positive
// limit selects the default.
func NewHub(limit int) *Hub {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &Hub{limit: limit, subs: make(map[uint64]chan Record)}
}

// Emit implements Emitter. Non-record events are ignored.
func (h *Hub) Emit(evt Event) {
	record, ok := evt.(Record)
	if !ok {
		return
	}
	h.Publish(record)
}

// Publish assigns the next sequence number and broadcasts the record.
func (h *Hub) Publish(record Record) Record {
	if h == nil {
		return record
	}
	h.mu.Lock()
	h.seq++
	record.Sequence = h.seq
	stored := cloneRecord(record)
	h.history = append(h.history, stored)
	if len(h.history) > h.limit {
		excess := len(h.history) - h.limit
		trimmed := make([]Record, h.limit)
		copy(trimmed, h.history[excess:])
		h.history = trimmed
	}
	// Sends stay under the lock so cancel cannot close a channel mid-send.
	for _, ch := range h.subs {
		select {
		case ch <- cloneRecord(record):
		default:
		}
	}
	h.mu.Unlock()
	return record
}

// Subscribe registers a live subscriber. Records with a sequence greater than
// cursor that are still retained are returned as the backlog. The returned
// cancel function is idempotent and also runs when ctx is done.
func (h *Hub) Subscribe(ctx context.Context, cursor string) (<-chan Record, func(), []Record) {
	updates := make(chan Record, subscriberBuffer)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		if parsed, err := strconv.ParseUint(trimmed, 10, 64); err == nil {
			since = parsed
		}
	}

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = updates
	backlog := make([]Record, 0, len(h.history))
	for _, entry := range h.history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneRecord(entry))
		}
	}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
			h.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}
	return updates, cancel, backlog
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
