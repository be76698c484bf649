package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

const defaultChannelBuffer = 64

// subscription holds one subscriber's channel and filter, plus a count of
// events dropped because the channel was full.
type subscription struct {
	ch      chan StreamEvent
	filter  EventFilter
	dropped atomic.Uint64
}

// MemoryHub is an in-process EventHub backed by buffered channels. A slow
// subscriber loses events rather than stalling run execution.
type MemoryHub struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscription
	nextID atomic.Uint64
}

// NewMemoryHub creates an empty hub.
func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[uint64]*subscription)}
}

// Publish fans the event out to every matching subscriber without blocking.
func (h *MemoryHub) Publish(ctx context.Context, event StreamEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if !sub.filter.Matches(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			sub.dropped.Add(1)
		}
	}
	return nil
}

// Subscribe registers a filtered subscription. The returned cancel function
// detaches it; the channel is never closed by the hub.
func (h *MemoryHub) Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	sub := &subscription{
		ch:     make(chan StreamEvent, defaultChannelBuffer),
		filter: filter,
	}
	id := h.nextID.Add(1)

	h.mu.Lock()
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	return sub.ch, cancel, nil
}

// Dropped returns the total number of events lost to slow subscribers.
func (h *MemoryHub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var total uint64
	for _, sub := range h.subs {
		total += sub.dropped.Load()
	}
	return total
}
