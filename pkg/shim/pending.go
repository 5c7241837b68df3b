package shim

import (
	"sync"
	"time"

	"github.com/jingkaihe/mocklock/pkg/api"
)

type result struct {
	decision api.MatchDecision
	outcome  Outcome
}

type pendingEntry struct {
	done  chan result
	timer *time.Timer
}

// pendingRegistry maps correlation ids to waiting calls. Each entry is
// removed exactly once, by whichever of reply, deadline, cancellation or
// shutdown reaches it first.
type pendingRegistry struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
	closed  bool
}

func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{entries: make(map[string]*pendingEntry)}
}

// register adds id with a deadline after which it settles as a timeout.
// It fails if id is already pending or the registry is closed.
func (p *pendingRegistry) register(id string, timeout time.Duration) (<-chan result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, false
	}
	if _, exists := p.entries[id]; exists {
		return nil, false
	}
	e := &pendingEntry{done: make(chan result, 1)}
	e.timer = time.AfterFunc(timeout, func() {
		p.settle(id, result{decision: api.Passthrough(), outcome: OutcomeTimeout})
	})
	p.entries[id] = e
	return e.done, true
}

// settle delivers res to id's waiter. It reports false when id is no
// longer pending; the result is then dropped.
func (p *pendingRegistry) settle(id string, res result) bool {
	e := p.take(id)
	if e == nil {
		return false
	}
	e.done <- res
	return true
}

// remove drops id without delivering anything.
func (p *pendingRegistry) remove(id string) bool {
	return p.take(id) != nil
}

func (p *pendingRegistry) take(id string) *pendingEntry {
	p.mu.Lock()
	e, ok := p.entries[id]
	if ok {
		delete(p.entries, id)
	}
	p.mu.Unlock()
	if !ok {
		return nil
	}
	e.timer.Stop()
	return e
}

// close settles every waiter with res and refuses new registrations.
func (p *pendingRegistry) close(res result) {
	p.mu.Lock()
	p.closed = true
	entries := p.entries
	p.entries = make(map[string]*pendingEntry)
	p.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.done <- res
	}
}

func (p *pendingRegistry) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
