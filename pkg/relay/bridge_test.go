package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/authority"
)

type fakeNotifier struct {
	mu   sync.Mutex
	subs map[int]func(api.Message)
	next int
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{subs: make(map[int]func(api.Message))}
}

func (n *fakeNotifier) Subscribe(fn func(api.Message)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

func (n *fakeNotifier) publish(msg api.Message) {
	n.mu.Lock()
	subs := make([]func(api.Message), 0, len(n.subs))
	for _, fn := range n.subs {
		subs = append(subs, fn)
	}
	n.mu.Unlock()
	for _, fn := range subs {
		fn(msg)
	}
}

func startBridge(t *testing.T, b *Bridge) (Port, <-chan error) {
	t.Helper()
	shimSide, authSide := Pipe()
	errCh := make(chan error, 1)
	go func() { errCh <- b.Serve(context.Background(), authSide) }()
	t.Cleanup(func() { _ = shimSide.Close() })
	return shimSide, errCh
}

func TestBridge_AnswersQueries(t *testing.T) {
	ctx := testContext(t)
	resolver := authority.ResolverFunc(func(_ context.Context, url, method string) (api.MatchDecision, error) {
		if url == "https://api.x/users" && method == "POST" {
			return api.Mock(api.MockResponse{Status: 201, Body: `{"id":1}`}), nil
		}
		return api.Passthrough(), nil
	})
	port, errCh := startBridge(t, &Bridge{Resolver: resolver})

	require.NoError(t, port.Post(ctx, api.NewQuery(api.MatchQuery{CorrelationID: "a", URL: "https://api.x/users", Method: "POST"})))
	reply, err := port.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.KindMockResponse, reply.Kind)
	assert.Equal(t, "a", reply.CorrelationID)
	assert.True(t, reply.ShouldMock)
	assert.Equal(t, 201, reply.Response.Status)

	require.NoError(t, port.Post(ctx, api.NewQuery(api.MatchQuery{CorrelationID: "b", URL: "https://api.x/users", Method: "GET"})))
	reply, err = port.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", reply.CorrelationID)
	assert.False(t, reply.ShouldMock)
	assert.Nil(t, reply.Response)

	require.NoError(t, port.Close())
	require.NoError(t, <-errCh)
}

func TestBridge_RepliesOutOfOrder(t *testing.T) {
	ctx := testContext(t)
	release := make(chan struct{})
	resolver := authority.ResolverFunc(func(ctx context.Context, url, _ string) (api.MatchDecision, error) {
		if url == "slow" {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return api.Passthrough(), nil
	})
	port, _ := startBridge(t, &Bridge{Resolver: resolver})

	require.NoError(t, port.Post(ctx, api.NewQuery(api.MatchQuery{CorrelationID: "slow-1", URL: "slow", Method: "GET"})))
	require.NoError(t, port.Post(ctx, api.NewQuery(api.MatchQuery{CorrelationID: "fast-2", URL: "fast", Method: "GET"})))

	first, err := port.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fast-2", first.CorrelationID)

	close(release)
	second, err := port.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "slow-1", second.CorrelationID)
}

func TestBridge_ResolverErrorIsPassthrough(t *testing.T) {
	ctx := testContext(t)
	resolver := authority.ResolverFunc(func(context.Context, string, string) (api.MatchDecision, error) {
		return api.MatchDecision{ShouldMock: true}, errors.New("store down")
	})
	port, _ := startBridge(t, &Bridge{Resolver: resolver})

	require.NoError(t, port.Post(ctx, api.NewQuery(api.MatchQuery{CorrelationID: "x", URL: "u", Method: "GET"})))
	reply, err := port.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, reply.ShouldMock)
	assert.Nil(t, reply.Response)
}

func TestBridge_ForwardsNotificationsAndIgnoresUnknown(t *testing.T) {
	ctx := testContext(t)
	notifier := newFakeNotifier()
	resolver := authority.ResolverFunc(func(context.Context, string, string) (api.MatchDecision, error) {
		return api.Passthrough(), nil
	})
	port, errCh := startBridge(t, &Bridge{Resolver: resolver, Notifier: notifier})

	require.Eventually(t, func() bool { return notifier.count() == 1 }, time.Second, 5*time.Millisecond)

	// Unknown and reply kinds are ignored by the bridge.
	require.NoError(t, port.Post(ctx, &api.Message{Kind: "PING"}))
	require.NoError(t, port.Post(ctx, api.NewReply("stray", api.Passthrough())))
	// A query without a correlation id is discarded.
	require.NoError(t, port.Post(ctx, &api.Message{Kind: api.KindCheckMock, URL: "u"}))

	notifier.publish(*api.NewGlobalStateChanged(false))
	msg, err := port.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.KindGlobalStateChanged, msg.Kind)
	assert.False(t, *msg.Enabled)

	notifier.publish(*api.NewRulesUpdated())
	msg, err = port.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, api.KindRulesUpdated, msg.Kind)

	require.NoError(t, port.Close())
	require.NoError(t, <-errCh)
	assert.Equal(t, 0, notifier.count(), "bridge must unsubscribe on exit")
}

func TestBridge_RequiresResolver(t *testing.T) {
	_, b := Pipe()
	err := (&Bridge{}).Serve(context.Background(), b)
	assert.ErrorIs(t, err, ErrNoResolver)
}

func TestBridge_ContextCancel(t *testing.T) {
	_, authSide := Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- (&Bridge{Resolver: authority.ResolverFunc(func(context.Context, string, string) (api.MatchDecision, error) {
			return api.Passthrough(), nil
		})}).Serve(ctx, authSide)
	}()
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
}
