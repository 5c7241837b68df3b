// Package authority owns mock rules and the global enable flag, and
// answers match queries for the relay.
package authority

import (
	"context"
	"strings"

	"github.com/jingkaihe/mocklock/pkg/api"
)

// Resolver answers whether a normalized (url, method) pair is mocked.
type Resolver interface {
	Resolve(ctx context.Context, url, method string) (api.MatchDecision, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, url, method string) (api.MatchDecision, error)

func (f ResolverFunc) Resolve(ctx context.Context, url, method string) (api.MatchDecision, error) {
	return f(ctx, url, method)
}

// Notifier delivers RULES_UPDATED and GLOBAL_STATE_CHANGED messages.
type Notifier interface {
	Subscribe(fn func(api.Message)) (cancel func())
}

// Store is the read/write surface shared by the rule stores.
type Store interface {
	Resolver
	Notifier
	List(ctx context.Context) ([]api.Rule, error)
	Get(ctx context.Context, id string) (api.Rule, error)
	Put(ctx context.Context, rule api.Rule) (api.Rule, error)
	Delete(ctx context.Context, id string) error
	SetRuleEnabled(ctx context.Context, id string, enabled bool) (api.Rule, error)
	Enabled(ctx context.Context) (bool, error)
	SetEnabled(ctx context.Context, enabled bool) error
}

// Match applies the read contract: with the global flag off nothing is
// mocked; otherwise the first enabled rule whose URL equals url byte for
// byte and whose method equals method ignoring case supplies the response.
func Match(rules []api.Rule, enabled bool, url, method string) api.MatchDecision {
	if !enabled {
		return api.Passthrough()
	}
	for i := range rules {
		rule := &rules[i]
		if !rule.Enabled || rule.Request.URL != url {
			continue
		}
		if strings.EqualFold(rule.Method(), method) {
			return api.Mock(rule.Response)
		}
	}
	return api.Passthrough()
}
