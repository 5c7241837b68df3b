// Package shim intercepts the two network primitives, asks the rule
// authority through a relay port whether each call is mocked, and either
// answers from the emulator or lets the call through untouched.
//
// A Shim is installed once per execution context and owns its pending
// query registry:
//
//	port, err := relay.Dial(ctx, socketPath, relay.JSONCodec{})
//	if err != nil {
//	    return err
//	}
//	s := shim.Install(port, shim.Options{Origin: "https://app.example"})
//	defer s.Close()
//	client := s.Client(http.DefaultClient)
package shim

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/authority"
	"github.com/jingkaihe/mocklock/pkg/emulator"
	"github.com/jingkaihe/mocklock/pkg/logging"
	"github.com/jingkaihe/mocklock/pkg/relay"
)

// DefaultTimeout bounds the wait for a decision.
const DefaultTimeout = time.Second

// notificationBuffer is how many authority notifications may queue behind
// a slow OnChange subscriber before new ones are dropped.
const notificationBuffer = 64

// Outcome says how a decision was reached.
type Outcome string

const (
	OutcomeMocked      Outcome = "mocked"
	OutcomePassthrough Outcome = "passthrough"
	OutcomeTimeout     Outcome = "timeout"
	OutcomeTransport   Outcome = "transport"
	OutcomeCanceled    Outcome = "canceled"
)

// Options configures Install.
type Options struct {
	// Origin resolves relative URLs.
	Origin string
	// Timeout bounds each decision; zero means DefaultTimeout.
	Timeout time.Duration
	// Emulator renders mocked xhr lifecycles; nil means emulator.New().
	Emulator *emulator.Emulator
	// Fetch is the original stream-style primitive; nil means
	// DefaultFetch(http.DefaultClient).
	Fetch   FetchFunc
	Logger  *slog.Logger
	Emitter *logging.Emitter
}

// Shim is the single interception point of one execution context.
type Shim struct {
	port     relay.Port
	origin   string
	timeout  time.Duration
	emulator *emulator.Emulator
	fetch    FetchFunc
	logger   *slog.Logger
	emitter  *logging.Emitter

	pending     *pendingRegistry
	subscribers *authority.Hub
	notices     chan api.Message

	ctx       context.Context
	cancel    context.CancelFunc
	pumpDone  chan struct{}
	closeOnce sync.Once
}

// Install starts the inbound pump on port and returns the Shim. The Shim
// owns port and closes it on Close.
func Install(port relay.Port, opts Options) *Shim {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	emu := opts.Emulator
	if emu == nil {
		emu = emulator.New(emulator.WithLogger(logger))
	}
	fetch := opts.Fetch
	if fetch == nil {
		fetch = DefaultFetch(http.DefaultClient)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Shim{
		port:        port,
		origin:      opts.Origin,
		timeout:     timeout,
		emulator:    emu,
		fetch:       fetch,
		logger:      logger.With("component", "shim"),
		emitter:     opts.Emitter,
		pending:     newPendingRegistry(),
		subscribers: authority.NewHub(logger),
		notices:     make(chan api.Message, notificationBuffer),
		ctx:         ctx,
		cancel:      cancel,
		pumpDone:    make(chan struct{}),
	}
	go s.pump()
	go s.deliver()
	return s
}

// Close stops the pump, closes the port and releases every waiting call
// as passthrough.
func (s *Shim) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.port.Close()
		<-s.pumpDone
	})
	return err
}

// Origin returns the origin relative URLs are resolved against.
func (s *Shim) Origin() string {
	return s.origin
}

// Timeout returns the decision deadline.
func (s *Shim) Timeout() time.Duration {
	return s.timeout
}

// OnChange subscribes fn to RULES_UPDATED and GLOBAL_STATE_CHANGED
// messages from the authority. Subscribers run in order on one delivery
// goroutine, never on the reply pump. A panicking fn is logged and does
// not stop delivery to others.
func (s *Shim) OnChange(fn func(api.Message)) (cancel func()) {
	return s.subscribers.Subscribe(fn)
}

// Decide asks the authority about an already normalized (url, method)
// key. It never fails: an unreachable relay, a missed deadline, ctx
// cancellation or a closed shim all yield a passthrough decision, and the
// Outcome says which.
func (s *Shim) Decide(ctx context.Context, url, method string) (api.MatchDecision, Outcome) {
	if ctx.Err() != nil {
		return api.Passthrough(), OutcomeCanceled
	}
	id := uuid.NewString()
	done, ok := s.pending.register(id, s.timeout)
	if !ok {
		return api.Passthrough(), OutcomeTransport
	}

	postCtx, cancel := context.WithTimeout(ctx, s.timeout)
	err := s.port.Post(postCtx, api.NewQuery(api.MatchQuery{CorrelationID: id, URL: url, Method: method}))
	cancel()
	if err != nil {
		s.pending.remove(id)
		if ctx.Err() != nil {
			return api.Passthrough(), OutcomeCanceled
		}
		s.logger.Debug("query not delivered", "url", url, "method", method, "error", err)
		return api.Passthrough(), OutcomeTransport
	}

	select {
	case res := <-done:
		return res.decision, res.outcome
	case <-ctx.Done():
		s.pending.remove(id)
		return api.Passthrough(), OutcomeCanceled
	}
}

func (s *Shim) pump() {
	defer close(s.pumpDone)
	defer close(s.notices)
	defer s.pending.close(result{decision: api.Passthrough(), outcome: OutcomeTransport})

	for {
		msg, err := s.port.Receive(s.ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.logger.Warn("relay receive failed", "error", err)
			}
			return
		}
		s.dispatch(msg)
	}
}

func (s *Shim) dispatch(msg *api.Message) {
	switch {
	case msg.Kind == api.KindMockResponse:
		res := result{decision: msg.Decision(), outcome: OutcomePassthrough}
		if err := msg.Validate(); err != nil {
			s.logger.Warn("invalid reply, using passthrough", "correlation_id", msg.CorrelationID, "error", err)
			res.decision = api.Passthrough()
		}
		if res.decision.ShouldMock {
			res.outcome = OutcomeMocked
		}
		if !s.pending.settle(msg.CorrelationID, res) {
			s.logger.Debug("dropping reply without pending query", "correlation_id", msg.CorrelationID)
		}
	case msg.Kind.IsNotification():
		select {
		case s.notices <- *msg:
		default:
			s.logger.Warn("subscribers lagging, dropping notification", "kind", msg.Kind)
		}
	default:
		s.logger.Debug("ignoring message", "kind", msg.Kind)
	}
}

// deliver runs OnChange subscribers off the pump so replies are never
// queued behind them.
func (s *Shim) deliver() {
	for msg := range s.notices {
		s.subscribers.Publish(msg)
	}
}

func (s *Shim) record(primitive, method, url string, outcome Outcome, status int, start time.Time) {
	elapsed := time.Since(start)
	s.logger.Debug("mock decision",
		"primitive", primitive,
		"method", method,
		"url", url,
		"outcome", string(outcome),
		"duration", elapsed,
	)
	_ = s.emitter.Emit(logging.EventMockDecision, method+" "+url+" -> "+string(outcome), "shim",
		[]string{primitive, string(outcome)},
		&logging.MockDecisionData{
			Primitive:  primitive,
			Method:     method,
			URL:        url,
			Outcome:    string(outcome),
			Status:     status,
			DurationMS: elapsed.Milliseconds(),
		})
}
