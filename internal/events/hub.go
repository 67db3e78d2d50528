package events

import (
	"sync"

	"closeline/internal/domain"
)

const defaultBuffer = 64

// Hub fans committed events out to subscribers of an app. Publishing never
// blocks: a subscriber whose buffer is full misses the event and is ended.
// Events already buffered stay readable, so a consumer can resume from the
// last one it saw.
type Hub struct {
	mu     sync.Mutex
	subs   map[uint64]map[*Subscription]struct{}
	buffer int
}

func NewHub() *Hub {
	return &Hub{subs: map[uint64]map[*Subscription]struct{}{}, buffer: defaultBuffer}
}

type Subscription struct {
	AppID   uint64
	C       <-chan domain.Event
	c       chan domain.Event
	hub     *Hub
	dropped int
	once    sync.Once
}

// SetBuffer sets the channel capacity of later subscriptions.
func (h *Hub) SetBuffer(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buffer = n
}

// Subscribe registers interest in events of appID; 0 subscribes to all apps.
func (h *Hub) Subscribe(appID uint64) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = map[uint64]map[*Subscription]struct{}{}
	}
	size := h.buffer
	if size <= 0 {
		size = defaultBuffer
	}
	ch := make(chan domain.Event, size)
	s := &Subscription{AppID: appID, C: ch, c: ch, hub: h}
	if h.subs[appID] == nil {
		h.subs[appID] = map[*Subscription]struct{}{}
	}
	h.subs[appID][s] = struct{}{}
	return s
}

// Publish delivers events to the subscribers of their app and to catch-all
// subscribers.
func (h *Hub) Publish(evts ...domain.Event) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range evts {
		for _, key := range []uint64{e.AppID, 0} {
			for s := range h.subs[key] {
				select {
				case s.c <- e:
				default:
					s.dropped++
					s.once.Do(func() { h.remove(s) })
				}
			}
			if e.AppID == 0 {
				break
			}
		}
	}
}

// Subscribers reports the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return n
}

// Dropped reports how many events were discarded for s.
func (s *Subscription) Dropped() int {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.dropped
}

// Close unregisters s and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.mu.Lock()
		defer s.hub.mu.Unlock()
		s.hub.remove(s)
	})
}

// remove requires h.mu.
func (h *Hub) remove(s *Subscription) {
	delete(h.subs[s.AppID], s)
	if len(h.subs[s.AppID]) == 0 {
		delete(h.subs, s.AppID)
	}
	close(s.c)
}
