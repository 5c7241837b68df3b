package authority

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/jingkaihe/mocklock/pkg/api"
)

// Hub fans messages out to subscribers. A panicking subscriber is logged
// and skipped.
type Hub struct {
	logger *slog.Logger

	mu   sync.Mutex
	subs map[uint64]func(api.Message)
	next uint64
}

// NewHub returns a Hub; a nil logger means slog.Default().
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger: logger.With("component", "authority"),
		subs:   make(map[uint64]func(api.Message)),
	}
}

// Subscribe registers fn. The returned cancel is idempotent.
func (h *Hub) Subscribe(fn func(api.Message)) (cancel func()) {
	if fn == nil {
		return func() {}
	}
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers msg to every subscriber in registration order.
func (h *Hub) Publish(msg api.Message) {
	h.mu.Lock()
	ids := make([]uint64, 0, len(h.subs))
	for id := range h.subs {
		ids = append(ids, id)
	}
	fns := make([]func(api.Message), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		fns = append(fns, h.subs[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		h.deliver(fn, msg)
	}
}

func (h *Hub) deliver(fn func(api.Message), msg api.Message) {
	defer func() {
		if p := recover(); p != nil {
			h.logger.Warn("subscriber panicked", "kind", msg.Kind, "panic", p)
		}
	}()
	fn(*msg.Clone())
}
