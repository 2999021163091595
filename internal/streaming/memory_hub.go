package streaming

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/sfnsim/pkg/schema"
)

const defaultChannelBuffer = 256

type subscriber struct {
	ch     chan schema.TransitionRecord
	filter TransitionFilter
}

// MemoryHub is an in-memory TransitionHub implementation using channels.
type MemoryHub struct {
	mu      sync.RWMutex
	subs    map[uint64]*subscriber
	seq     atomic.Uint64
	dropped atomic.Uint64
}

// NewMemoryHub creates a new MemoryHub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{
		subs: make(map[uint64]*subscriber),
	}
}

// Publish sends a transition to all matching subscribers.
// Non-blocking: if a subscriber's channel is full the record is dropped.
func (h *MemoryHub) Publish(ctx context.Context, rec schema.TransitionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !matchFilter(sub.filter, rec) {
			continue
		}
		select {
		case sub.ch <- rec:
		default:
			h.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe creates a new subscription filtered by the given TransitionFilter.
// The cancel function removes the subscription and closes the channel.
func (h *MemoryHub) Subscribe(ctx context.Context, filter TransitionFilter) (<-chan schema.TransitionRecord, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	id := h.seq.Add(1)
	ch := make(chan schema.TransitionRecord, defaultChannelBuffer)

	h.mu.Lock()
	h.subs[id] = &subscriber{ch: ch, filter: filter}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel, nil
}

// Dropped returns how many records were discarded for slow subscribers.
func (h *MemoryHub) Dropped() uint64 {
	return h.dropped.Load()
}

func matchFilter(f TransitionFilter, rec schema.TransitionRecord) bool {
	if f.ExecutionID != "" && f.ExecutionID != rec.ExecutionID {
		return false
	}
	if f.StateName != "" && f.StateName != rec.StateName {
		return false
	}
	if len(f.Labels) > 0 && !slices.Contains(f.Labels, rec.Label) {
		return false
	}
	return true
}

var _ TransitionHub = (*MemoryHub)(nil)
