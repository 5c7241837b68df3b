package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/authority"
)

const notifyBuffer = 32

// Bridge is the authority side of a relay. It forwards each CHECK_MOCK to
// the Resolver and posts the MOCK_RESPONSE back, and forwards Notifier
// messages unsolicited. It keeps no decision state.
type Bridge struct {
	Resolver authority.Resolver
	Notifier authority.Notifier // optional
	Logger   *slog.Logger
}

// Serve runs until port is closed or ctx is done. Queries are resolved
// concurrently, so replies may leave in a different order than queries
// arrived.
func (b *Bridge) Serve(ctx context.Context, port Port) error {
	if b.Resolver == nil {
		return ErrNoResolver
	}
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "relay")

	var wg sync.WaitGroup
	defer wg.Wait()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if b.Notifier != nil {
		notes := make(chan api.Message, notifyBuffer)
		unsubscribe := b.Notifier.Subscribe(func(msg api.Message) {
			select {
			case notes <- msg:
			default:
				logger.Warn("dropping notification, peer is slow", "kind", msg.Kind)
			}
		})
		defer unsubscribe()

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case msg := <-notes:
					if err := port.Post(ctx, &msg); err != nil {
						logger.Debug("notification not delivered", "kind", msg.Kind, "error", err)
					}
				}
			}
		}()
	}

	for {
		msg, err := port.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch msg.Kind {
		case api.KindCheckMock:
			if err := msg.Validate(); err != nil {
				logger.Warn("discarding invalid query", "error", err)
				continue
			}
			wg.Add(1)
			go func(q api.MatchQuery) {
				defer wg.Done()
				b.answer(ctx, logger, port, q)
			}(msg.Query())
		default:
			logger.Debug("ignoring message", "kind", msg.Kind)
		}
	}
}

func (b *Bridge) answer(ctx context.Context, logger *slog.Logger, port Port, q api.MatchQuery) {
	decision, err := b.Resolver.Resolve(ctx, q.URL, q.Method)
	if err != nil {
		logger.Warn("resolve failed, answering passthrough", "url", q.URL, "method", q.Method, "error", err)
		decision = api.Passthrough()
	}
	if err := port.Post(ctx, api.NewReply(q.CorrelationID, decision)); err != nil {
		logger.Debug("reply not delivered", "correlation_id", q.CorrelationID, "error", err)
	}
}
