package api

import (
	"strings"

	"github.com/jingkaihe/mocklock/internal/errx"
)

// Kind identifies a relay message.
type Kind string

const (
	KindCheckMock          Kind = "CHECK_MOCK"
	KindMockResponse       Kind = "MOCK_RESPONSE"
	KindRulesUpdated       Kind = "RULES_UPDATED"
	KindGlobalStateChanged Kind = "GLOBAL_STATE_CHANGED"
)

// IsNotification reports whether k is sent unsolicited by the authority.
func (k Kind) IsNotification() bool {
	return k == KindRulesUpdated || k == KindGlobalStateChanged
}

// MockResponse is the synthetic response payload a rule supplies.
type MockResponse struct {
	Status     int     `json:"status,omitempty" cbor:"status,omitempty"`
	StatusText string  `json:"statusText,omitempty" cbor:"statusText,omitempty"`
	Headers    Headers `json:"headers,omitempty" cbor:"headers,omitempty"`
	Body       string  `json:"body,omitempty" cbor:"body,omitempty"`
}

// Validate checks the status range. A zero status means "use the default".
func (r *MockResponse) Validate() error {
	if r == nil {
		return nil
	}
	if r.Status != 0 && (r.Status < 100 || r.Status > 599) {
		return errx.With(ErrInvalidStatus, ": got %d", r.Status)
	}
	return nil
}

// Clone returns a deep copy.
func (r *MockResponse) Clone() *MockResponse {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Headers = r.Headers.Clone()
	return &cp
}

// MatchQuery asks whether one intercepted call should be mocked.
type MatchQuery struct {
	CorrelationID string
	URL           string
	Method        string
}

// MatchDecision answers a MatchQuery. Response is nil unless ShouldMock.
type MatchDecision struct {
	ShouldMock bool
	Response   *MockResponse
}

// Passthrough is the decision that lets a call reach the real network.
func Passthrough() MatchDecision {
	return MatchDecision{}
}

// Mock returns a decision substituting resp.
func Mock(resp MockResponse) MatchDecision {
	return MatchDecision{ShouldMock: true, Response: resp.Clone()}
}

// Normalize enforces ShouldMock=false => Response=nil, and treats a mock
// decision without a payload as an empty 200 response.
func (d MatchDecision) Normalize() MatchDecision {
	if !d.ShouldMock {
		return MatchDecision{}
	}
	if d.Response == nil {
		d.Response = &MockResponse{}
	}
	return d
}

// Message is the envelope exchanged across the relay.
type Message struct {
	Kind          Kind          `json:"kind" cbor:"kind"`
	CorrelationID string        `json:"correlationId,omitempty" cbor:"correlationId,omitempty"`
	URL           string        `json:"url,omitempty" cbor:"url,omitempty"`
	Method        string        `json:"method,omitempty" cbor:"method,omitempty"`
	ShouldMock    bool          `json:"shouldMock,omitempty" cbor:"shouldMock,omitempty"`
	Response      *MockResponse `json:"response,omitempty" cbor:"response,omitempty"`
	Enabled       *bool         `json:"enabled,omitempty" cbor:"enabled,omitempty"`
}

// NewQuery wraps q as a CHECK_MOCK message.
func NewQuery(q MatchQuery) *Message {
	return &Message{
		Kind:          KindCheckMock,
		CorrelationID: q.CorrelationID,
		URL:           q.URL,
		Method:        q.Method,
	}
}

// NewReply wraps d as the MOCK_RESPONSE for correlationID.
func NewReply(correlationID string, d MatchDecision) *Message {
	d = d.Normalize()
	return &Message{
		Kind:          KindMockResponse,
		CorrelationID: correlationID,
		ShouldMock:    d.ShouldMock,
		Response:      d.Response,
	}
}

// NewRulesUpdated returns a RULES_UPDATED notification.
func NewRulesUpdated() *Message {
	return &Message{Kind: KindRulesUpdated}
}

// NewGlobalStateChanged returns a GLOBAL_STATE_CHANGED notification.
func NewGlobalStateChanged(enabled bool) *Message {
	return &Message{Kind: KindGlobalStateChanged, Enabled: &enabled}
}

// Clone returns a deep copy of m.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	cp := *m
	cp.Response = m.Response.Clone()
	if m.Enabled != nil {
		enabled := *m.Enabled
		cp.Enabled = &enabled
	}
	return &cp
}

// Query extracts the MatchQuery from a CHECK_MOCK message.
func (m *Message) Query() MatchQuery {
	return MatchQuery{
		CorrelationID: m.CorrelationID,
		URL:           m.URL,
		Method:        m.Method,
	}
}

// Decision extracts the MatchDecision from a MOCK_RESPONSE message.
func (m *Message) Decision() MatchDecision {
	return MatchDecision{ShouldMock: m.ShouldMock, Response: m.Response}.Normalize()
}

// Validate checks that the fields required by the kind are present.
func (m *Message) Validate() error {
	if m == nil {
		return errx.With(ErrInvalidMessage, ": nil message")
	}
	switch m.Kind {
	case KindCheckMock:
		if strings.TrimSpace(m.CorrelationID) == "" {
			return errx.With(ErrInvalidMessage, ": %s without correlationId", m.Kind)
		}
	case KindMockResponse:
		if strings.TrimSpace(m.CorrelationID) == "" {
			return errx.With(ErrInvalidMessage, ": %s without correlationId", m.Kind)
		}
		if m.ShouldMock {
			return m.Response.Validate()
		}
	case KindRulesUpdated:
	case KindGlobalStateChanged:
		if m.Enabled == nil {
			return errx.With(ErrInvalidMessage, ": %s without enabled", m.Kind)
		}
	default:
		return errx.With(ErrUnknownKind, " %q", m.Kind)
	}
	return nil
}
