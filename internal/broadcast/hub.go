// Package broadcast fans committed record changes out to live viewers.
package broadcast

import (
	"sync"

	"github.com/golang/glog"

	"live-quiz-service/internal/domain"
)

// DefaultBuffer is the per-subscriber queue length.
const DefaultBuffer = 64

// Hub is an in-process pub/sub for record change events, keyed by game code.
// Publish never blocks: a subscriber whose queue is full is disconnected so it
// reloads state instead of silently missing a record update.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch  chan domain.Event
	seq *Sequencer
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Hub{
		buffer: buffer,
		subs:   make(map[string]map[*subscription]struct{}),
	}
}

// Subscribe registers a viewer of one game. The returned cancel function is
// idempotent and closes the channel.
func (h *Hub) Subscribe(code string) (<-chan domain.Event, func()) {
	sub := &subscription{
		ch:  make(chan domain.Event, h.buffer),
		seq: NewSequencer(),
	}

	h.mu.Lock()
	if h.subs[code] == nil {
		h.subs[code] = make(map[*subscription]struct{})
	}
	h.subs[code][sub] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		h.removeLocked(code, sub)
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// Publish delivers an event to every subscriber of its game.
func (h *Hub) Publish(event domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[event.Code] {
		if !sub.seq.Admit(event) {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			glog.Warningf("game %s: subscriber queue full, disconnecting", event.Code)
			h.removeLocked(event.Code, sub)
		}
	}
}

// Subscribers reports how many viewers a game has.
func (h *Hub) Subscribers(code string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[code])
}

func (h *Hub) removeLocked(code string, sub *subscription) {
	subs, ok := h.subs[code]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.ch)
	if len(subs) == 0 {
		delete(h.subs, code)
	}
}
