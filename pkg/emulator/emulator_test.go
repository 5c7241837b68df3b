package emulator

import (
	"context"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/xhr"
)

func TestStatusLine_Defaults(t *testing.T) {
	tests := []struct {
		name       string
		payload    *api.MockResponse
		wantStatus int
		wantText   string
	}{
		{name: "nil payload", payload: nil, wantStatus: 200, wantText: "OK"},
		{name: "empty payload", payload: &api.MockResponse{}, wantStatus: 200, wantText: "OK"},
		{name: "status only", payload: &api.MockResponse{Status: 404}, wantStatus: 404, wantText: "Not Found"},
		{name: "custom text", payload: &api.MockResponse{Status: 201, StatusText: "Made"}, wantStatus: 201, wantText: "Made"},
		{name: "unknown code", payload: &api.MockResponse{Status: 599}, wantStatus: 599, wantText: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, text := StatusLine(tt.payload)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func TestResponse_FromPayload(t *testing.T) {
	req, err := http.NewRequest(http.MethodPost, "https://api.x/users", nil)
	require.NoError(t, err)

	resp := Response(req, &api.MockResponse{
		Status:     201,
		StatusText: "Created",
		Headers:    api.Headers{{Name: "Content-Type", Value: "application/json"}},
		Body:       `{"id":1}`,
	})
	assert.Equal(t, 201, resp.StatusCode)
	assert.Equal(t, "201 Created", resp.Status)
	assert.Equal(t, "application/json", resp.Header.Get("content-type"))
	assert.Equal(t, int64(8), resp.ContentLength)
	assert.Same(t, req, resp.Request)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"id":1}`, string(body))
}

func TestResponse_NilPayload(t *testing.T) {
	resp := Response(nil, nil)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "200 OK", resp.Status)
	assert.NotNil(t, resp.Header)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Empty(t, body)
}

// driveInHook runs Drive from a Send hook, the way the shim does.
func driveInHook(t *testing.T, e *Emulator, payload *api.MockResponse, setup func(r *xhr.Request)) (*xhr.Request, chan error) {
	t.Helper()
	errCh := make(chan error, 1)
	r := xhr.New(xhr.WithHooks(xhr.Hooks{
		Send: func(r *xhr.Request, _ []byte, _ xhr.TransmitFunc) {
			errCh <- e.Drive(context.Background(), r, payload)
		},
	}))
	if setup != nil {
		setup(r)
	}
	require.NoError(t, r.Open("GET", "https://a/b"))
	require.NoError(t, r.Send(nil))
	return r, errCh
}

func TestEmulator_DriveSequence(t *testing.T) {
	var mu sync.Mutex
	var log []string
	record := func(s string) {
		mu.Lock()
		log = append(log, s)
		mu.Unlock()
	}

	payload := &api.MockResponse{
		Status:  200,
		Headers: api.Headers{{Name: "Content-Type", Value: "application/json"}, {Name: "X-Trace", Value: "t1"}},
		Body:    `{"ok":true}`,
	}
	r, errCh := driveInHook(t, New(WithDelay(time.Millisecond)), payload, func(r *xhr.Request) {
		r.OnReadyStateChange = func() {
			record("rs:" + r.ReadyState().String())
			if r.ReadyState() == xhr.Done {
				assert.Equal(t, `{"ok":true}`, r.ResponseText())
			}
		}
		r.OnLoad = func() { record("onload") }
		r.OnLoadEnd = func() { record("onloadend") }
		r.AddEventListener(xhr.EventLoad, func(xhr.Event) { record("event:load") })
		r.AddEventListener(xhr.EventLoadEnd, func(xhr.Event) { record("event:loadend") })
	})

	require.NoError(t, <-errCh)
	require.NoError(t, r.Wait(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"rs:OPENED",
		"rs:HEADERS_RECEIVED",
		"rs:LOADING",
		"rs:DONE",
		"onload",
		"onloadend",
		"event:load",
		"event:loadend",
	}, log)

	assert.Equal(t, xhr.Done, r.ReadyState())
	assert.Equal(t, 200, r.Status())
	assert.Equal(t, "OK", r.StatusText())
	assert.Equal(t, `{"ok":true}`, r.Response())
	assert.Equal(t, "", r.ResponseURL())
	assert.Equal(t, "Content-Type: application/json\r\nX-Trace: t1", r.GetAllResponseHeaders())

	ct, ok := r.GetResponseHeader("content-type")
	require.True(t, ok)
	assert.Equal(t, "application/json", ct)
	v, ok := r.GetResponseHeader("x-none")
	assert.False(t, ok)
	assert.Equal(t, "", v)
}

func TestEmulator_TransitionsAreSpaced(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	delay := 5 * time.Millisecond

	_, errCh := driveInHook(t, New(WithDelay(delay)), &api.MockResponse{}, func(r *xhr.Request) {
		r.OnReadyStateChange = func() {
			mu.Lock()
			stamps = append(stamps, time.Now())
			mu.Unlock()
		}
	})
	require.NoError(t, <-errCh)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, stamps, 4)
	for i := 2; i < len(stamps); i++ {
		assert.GreaterOrEqual(t, stamps[i].Sub(stamps[i-1]), delay)
	}
}

func TestEmulator_AbortStopsDrive(t *testing.T) {
	var mu sync.Mutex
	var states []xhr.ReadyState
	reached := make(chan struct{})
	var once sync.Once

	r, errCh := driveInHook(t, New(WithDelay(20*time.Millisecond)), &api.MockResponse{Body: "x"}, func(r *xhr.Request) {
		r.OnReadyStateChange = func() {
			s := r.ReadyState()
			mu.Lock()
			states = append(states, s)
			mu.Unlock()
			if s == xhr.HeadersReceived {
				once.Do(func() { close(reached) })
			}
		}
	})
	<-reached
	r.Abort()

	require.ErrorIs(t, <-errCh, xhr.ErrAborted)
	assert.Equal(t, xhr.Unsent, r.ReadyState())
	assert.Equal(t, "", r.ResponseText())

	mu.Lock()
	defer mu.Unlock()
	assert.NotContains(t, states, xhr.Loading)
}

func TestEmulator_DriveContextCanceled(t *testing.T) {
	e := New(WithDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	r := xhr.New(xhr.WithHooks(xhr.Hooks{
		Send: func(r *xhr.Request, _ []byte, _ xhr.TransmitFunc) {
			errCh <- e.Drive(ctx, r, nil)
		},
	}))
	require.NoError(t, r.Open("GET", "https://a/b"))
	require.NoError(t, r.Send(nil))
	cancel()

	require.ErrorIs(t, <-errCh, context.Canceled)
	assert.Equal(t, xhr.Opened, r.ReadyState())
}

func TestEmulator_PanickingHandlersAreSwallowed(t *testing.T) {
	loadEnd := make(chan struct{})
	_, errCh := driveInHook(t, New(WithDelay(time.Millisecond)), nil, func(r *xhr.Request) {
		r.OnLoad = func() { panic("onload") }
		r.AddEventListener(xhr.EventLoad, func(xhr.Event) { panic("listener") })
		r.AddEventListener(xhr.EventLoadEnd, func(xhr.Event) { close(loadEnd) })
	})
	require.NoError(t, <-errCh)
	<-loadEnd
}

func TestNew_NonPositiveDelayKeepsDefault(t *testing.T) {
	assert.Equal(t, DefaultDelay, New(WithDelay(0)).Delay())
	assert.Equal(t, DefaultDelay, New(WithDelay(-time.Second)).Delay())
	assert.Equal(t, time.Second, New(WithDelay(time.Second)).Delay())
}
