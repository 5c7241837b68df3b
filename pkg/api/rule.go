package api

import (
	"strings"
	"time"

	"github.com/jingkaihe/mocklock/internal/errx"
)

// RuleRequest is the (url, method) key a rule answers for.
type RuleRequest struct {
	URL    string `json:"url"`
	Method string `json:"method,omitempty"` // empty means GET
}

// Rule describes one mock rule owned by the rule authority.
type Rule struct {
	ID        string       `json:"id"`
	Name      string       `json:"name,omitempty"`
	Enabled   bool         `json:"enabled"`
	Request   RuleRequest  `json:"request"`
	Response  MockResponse `json:"response"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
	UpdatedAt time.Time    `json:"updated_at,omitempty"`
}

// Method returns the rule's uppercased HTTP method, defaulting to GET.
func (r *Rule) Method() string {
	m := strings.ToUpper(strings.TrimSpace(r.Request.Method))
	if m == "" {
		return "GET"
	}
	return m
}

// Validate checks the fields a rule cannot do without.
func (r *Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errx.Wrap(ErrInvalidRule, ErrMissingRuleID)
	}
	if r.Request.URL == "" {
		return errx.With(ErrInvalidRule, " %s: %w", r.ID, ErrMissingRuleURL)
	}
	if err := r.Response.Validate(); err != nil {
		return errx.With(ErrInvalidRule, " %s: %w", r.ID, err)
	}
	return nil
}

// Clone returns a deep copy.
func (r Rule) Clone() Rule {
	r.Response.Headers = r.Response.Headers.Clone()
	return r
}

// RuleSet is the document form of a rule collection plus the global flag.
type RuleSet struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Rules   []Rule `json:"rules"`
}

// IsEnabled reports the global flag; an absent flag means enabled.
func (s *RuleSet) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}
