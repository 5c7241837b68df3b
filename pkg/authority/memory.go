package authority

import (
	"context"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
)

// MemoryStore keeps rules in insertion order in memory. It notifies
// subscribers once per effective change; writes that change nothing are
// silent.
type MemoryStore struct {
	hub *Hub
	now func() time.Time

	mu      sync.RWMutex
	rules   []api.Rule
	enabled bool
}

// NewMemoryStore returns an empty, globally enabled store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		hub:     NewHub(logger),
		now:     func() time.Time { return time.Now().UTC() },
		enabled: true,
	}
}

func (s *MemoryStore) Subscribe(fn func(api.Message)) func() {
	return s.hub.Subscribe(fn)
}

func (s *MemoryStore) Resolve(_ context.Context, url, method string) (api.MatchDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Match(s.rules, s.enabled, url, method), nil
}

func (s *MemoryStore) List(context.Context) ([]api.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.Rule, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (api.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := s.indexLocked(id)
	if i < 0 {
		return api.Rule{}, errx.With(api.ErrRuleNotFound, ": %q", id)
	}
	return s.rules[i].Clone(), nil
}

// Put inserts or replaces a rule. An empty ID is assigned a uuid. A
// replaced rule keeps its position and creation time.
func (s *MemoryStore) Put(_ context.Context, rule api.Rule) (api.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return api.Rule{}, err
	}
	rule = rule.Clone()

	s.mu.Lock()
	now := s.now()
	i := s.indexLocked(rule.ID)
	if i >= 0 {
		cur := s.rules[i]
		if sameRule(cur, rule) {
			s.mu.Unlock()
			return cur.Clone(), nil
		}
		rule.CreatedAt = cur.CreatedAt
		rule.UpdatedAt = now
		s.rules[i] = rule
	} else {
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now
		s.rules = append(s.rules, rule)
	}
	s.mu.Unlock()

	s.hub.Publish(*api.NewRulesUpdated())
	return rule.Clone(), nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return errx.With(api.ErrRuleNotFound, ": %q", id)
	}
	s.rules = append(s.rules[:i:i], s.rules[i+1:]...)
	s.mu.Unlock()

	s.hub.Publish(*api.NewRulesUpdated())
	return nil
}

func (s *MemoryStore) SetRuleEnabled(_ context.Context, id string, enabled bool) (api.Rule, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return api.Rule{}, errx.With(api.ErrRuleNotFound, ": %q", id)
	}
	if s.rules[i].Enabled == enabled {
		r := s.rules[i].Clone()
		s.mu.Unlock()
		return r, nil
	}
	s.rules[i].Enabled = enabled
	s.rules[i].UpdatedAt = s.now()
	r := s.rules[i].Clone()
	s.mu.Unlock()

	s.hub.Publish(*api.NewRulesUpdated())
	return r, nil
}

func (s *MemoryStore) Enabled(context.Context) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled, nil
}

func (s *MemoryStore) SetEnabled(_ context.Context, enabled bool) error {
	s.mu.Lock()
	if s.enabled == enabled {
		s.mu.Unlock()
		return nil
	}
	s.enabled = enabled
	s.mu.Unlock()

	s.hub.Publish(*api.NewGlobalStateChanged(enabled))
	return nil
}

// Replace swaps in a whole rule set, notifying for whichever of the rules
// and the global flag actually changed.
func (s *MemoryStore) Replace(set api.RuleSet) error {
	rules := make([]api.Rule, 0, len(set.Rules))
	seen := make(map[string]bool, len(set.Rules))
	for _, r := range set.Rules {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		if err := r.Validate(); err != nil {
			return err
		}
		if seen[r.ID] {
			return errx.With(api.ErrInvalidRule, ": duplicate id %q", r.ID)
		}
		seen[r.ID] = true
		rules = append(rules, r.Clone())
	}
	enabled := set.IsEnabled()

	s.mu.Lock()
	rulesChanged := len(rules) != len(s.rules)
	if !rulesChanged {
		for i := range rules {
			if !sameRule(rules[i], s.rules[i]) {
				rulesChanged = true
				break
			}
		}
	}
	if rulesChanged {
		s.rules = rules
	}
	flagChanged := s.enabled != enabled
	s.enabled = enabled
	s.mu.Unlock()

	if rulesChanged {
		s.hub.Publish(*api.NewRulesUpdated())
	}
	if flagChanged {
		s.hub.Publish(*api.NewGlobalStateChanged(enabled))
	}
	return nil
}

// Snapshot returns the current rules and global flag as a document.
func (s *MemoryStore) Snapshot() api.RuleSet {
	rules, _ := s.List(context.Background())
	enabled, _ := s.Enabled(context.Background())
	return api.RuleSet{Enabled: &enabled, Rules: rules}
}

func (s *MemoryStore) indexLocked(id string) int {
	for i := range s.rules {
		if s.rules[i].ID == id {
			return i
		}
	}
	return -1
}

// sameRule compares rules ignoring timestamps.
func sameRule(a, b api.Rule) bool {
	a.CreatedAt, a.UpdatedAt = time.Time{}, time.Time{}
	b.CreatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	if len(a.Response.Headers) == 0 {
		a.Response.Headers = nil
	}
	if len(b.Response.Headers) == 0 {
		b.Response.Headers = nil
	}
	return reflect.DeepEqual(a, b)
}

var _ Store = (*MemoryStore)(nil)
