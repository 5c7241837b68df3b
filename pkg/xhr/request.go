// Package xhr implements a stateful, XMLHttpRequest-style HTTP client.
//
// A Request walks the lifecycle Unsent -> Opened -> HeadersReceived ->
// Loading -> Done and reports progress through handler fields and
// listeners:
//
//	req := xhr.New()
//	req.OnLoad = func() { fmt.Println(req.Status(), req.ResponseText()) }
//	if err := req.Open("GET", "https://example.com/"); err != nil {
//	    return err
//	}
//	if err := req.Send(nil); err != nil {
//	    return err
//	}
//	_ = req.Wait(ctx)
//
// Handler fields and ResponseType must be set before Send. Send never
// blocks; the exchange runs on its own goroutine and handlers are invoked
// from it, one at a time.
package xhr

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/jingkaihe/mocklock/internal/errx"
	"github.com/jingkaihe/mocklock/pkg/api"
)

// ReadyState is the lifecycle state of a Request.
type ReadyState int

const (
	Unsent ReadyState = iota
	Opened
	HeadersReceived
	Loading
	Done
)

func (s ReadyState) String() string {
	switch s {
	case Unsent:
		return "UNSENT"
	case Opened:
		return "OPENED"
	case HeadersReceived:
		return "HEADERS_RECEIVED"
	case Loading:
		return "LOADING"
	case Done:
		return "DONE"
	default:
		return "ReadyState(" + strconv.Itoa(int(s)) + ")"
	}
}

// ResponseType selects how Response decodes the body.
type ResponseType string

const (
	ResponseTypeText ResponseType = ""
	ResponseTypeJSON ResponseType = "json"
)

// TransmitFunc performs the real network exchange for a sent request.
type TransmitFunc func(body []byte)

// Hooks wrap the lifecycle entry points of a Request without changing the
// type callers hold.
type Hooks struct {
	// Open runs after the request has been opened.
	Open func(r *Request, method, rawURL string)
	// Send replaces the network dispatch. It runs on the request's
	// goroutine and must either call transmit or complete the request
	// through its Override. The request is finished when Send returns.
	Send func(r *Request, body []byte, transmit TransmitFunc)
}

// Option configures a Request.
type Option func(*Request)

// WithTransport sets the round tripper used for real exchanges.
func WithTransport(rt http.RoundTripper) Option {
	return func(r *Request) {
		r.transport = rt
	}
}

// WithHooks installs lifecycle hooks.
func WithHooks(h Hooks) Option {
	return func(r *Request) {
		r.hooks = h
	}
}

// Request is one XMLHttpRequest-style exchange. A Request may be reused by
// calling Open again once it is done.
type Request struct {
	OnReadyStateChange func()
	OnLoadStart        func()
	OnLoad             func()
	OnLoadEnd          func()
	OnError            func()
	OnAbort            func()
	OnTimeout          func()

	ResponseType ResponseType
	// Timeout bounds a real exchange; zero means no limit.
	Timeout time.Duration

	transport http.RoundTripper
	hooks     Hooks

	mu          sync.Mutex
	gen         uint64
	state       ReadyState
	method      string
	rawURL      string
	header      http.Header
	sent        bool
	aborted     bool
	status      int
	statusText  string
	respHeader  api.Headers
	body        string
	responseURL string
	err         error
	ctx         context.Context
	cancel      context.CancelFunc
	done        chan struct{}
	doneOnce    *sync.Once
	override    *Override
	listeners   map[string][]*listener
	values      map[any]any
}

// New creates an unsent Request.
func New(opts ...Option) *Request {
	r := &Request{
		transport: http.DefaultTransport,
		header:    make(http.Header),
		listeners: make(map[string][]*listener),
		done:      make(chan struct{}),
		doneOnce:  &sync.Once{},
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.transport == nil {
		r.transport = http.DefaultTransport
	}
	return r
}

// Open initializes the request. Any exchange still in flight is aborted.
func (r *Request) Open(method, rawURL string) error {
	method = strings.TrimSpace(method)
	if method == "" || strings.ContainsAny(method, " \t\r\n") {
		return errx.With(ErrInvalidMethod, " %q", method)
	}
	method = strings.ToUpper(method)

	r.mu.Lock()
	if r.sent && r.state != Done && r.cancel != nil {
		r.aborted = true
		r.cancel()
	}
	r.gen++
	r.state = Opened
	r.method = method
	r.rawURL = rawURL
	r.header = make(http.Header)
	r.sent = false
	r.aborted = false
	r.resetResponseLocked()
	r.override = nil
	r.done = make(chan struct{})
	r.doneOnce = &sync.Once{}
	r.mu.Unlock()

	r.fire(EventReadyStateChange)

	if r.hooks.Open != nil {
		r.hooks.Open(r, method, rawURL)
	}
	return nil
}

// SetRequestHeader adds a request header. It is only valid between Open
// and Send.
func (r *Request) SetRequestHeader(name, value string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Opened || r.sent {
		return errx.With(ErrInvalidState, ": SetRequestHeader in state %s", r.state)
	}
	r.header.Add(name, value)
	return nil
}

// Send starts the exchange and returns immediately.
func (r *Request) Send(body []byte) error {
	r.mu.Lock()
	if r.state != Opened || r.sent {
		state := r.state
		r.mu.Unlock()
		return errx.With(ErrInvalidState, ": Send in state %s", state)
	}
	r.sent = true
	ctx, cancel := context.WithCancel(context.Background())
	r.ctx = ctx
	r.cancel = cancel
	hook := r.hooks.Send
	gen := r.gen
	doneOnce := r.doneOnce
	done := r.done
	r.mu.Unlock()

	transmit := func(body []byte) { r.transmit(ctx, gen, body) }
	payload := append([]byte(nil), body...)
	go func() {
		defer doneOnce.Do(func() { close(done) })
		defer cancel()
		if hook != nil {
			hook(r, payload, transmit)
			return
		}
		transmit(payload)
	}()
	return nil
}

// Abort cancels an in-flight exchange. Handlers for readystatechange, abort
// and loadend run before Abort returns; the request then rests in Unsent.
func (r *Request) Abort() {
	r.mu.Lock()
	state := r.state
	if o := r.override; o != nil && o.state != nil {
		state = *o.state
	}
	finished := false
	select {
	case <-r.done:
		finished = true
	default:
	}
	inFlight := r.sent && !r.aborted && !finished && state != Done
	if !inFlight {
		if state == Done {
			r.resetResponseLocked()
			r.override = nil
			r.state = Unsent
		}
		r.mu.Unlock()
		return
	}
	r.aborted = true
	if r.cancel != nil {
		r.cancel()
	}
	r.resetResponseLocked()
	r.override = nil
	r.state = Done
	r.err = ErrAborted
	r.mu.Unlock()

	r.fire(EventReadyStateChange)
	r.fire(EventAbort)
	r.fire(EventLoadEnd)

	r.mu.Lock()
	r.state = Unsent
	r.mu.Unlock()
}

// Context is canceled when the exchange ends or is aborted. Send hooks use
// it to stop work early.
func (r *Request) Context() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// Done is closed once the current exchange has finished.
func (r *Request) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Wait blocks until the current exchange finishes or ctx is done.
func (r *Request) Wait(ctx context.Context) error {
	select {
	case <-r.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Method returns the uppercased method given to Open.
func (r *Request) Method() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.method
}

// URL returns the url given to Open, unmodified.
func (r *Request) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rawURL
}

// RequestHeader returns a copy of the headers set with SetRequestHeader.
func (r *Request) RequestHeader() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.Clone()
}

// Err reports why a real exchange failed, if it did.
func (r *Request) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// SetValue attaches an arbitrary value to the request for the current
// lifecycle owner, in the manner of context values.
func (r *Request) SetValue(key, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.values == nil {
		r.values = make(map[any]any)
	}
	r.values[key] = value
}

// Value returns a value stored with SetValue.
func (r *Request) Value(key any) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.values[key]
}

func (r *Request) resetResponseLocked() {
	r.status = 0
	r.statusText = ""
	r.respHeader = nil
	r.body = ""
	r.responseURL = ""
	r.err = nil
}

func (r *Request) transmit(ctx context.Context, gen uint64, body []byte) {
	r.mu.Lock()
	method := r.method
	rawURL := r.rawURL
	header := r.header.Clone()
	timeout := r.Timeout
	r.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	r.fire(EventLoadStart)

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		r.failExchange(gen, EventError, errx.Wrap(ErrNetwork, err))
		return
	}
	req.Header = header

	client := &http.Client{Transport: r.transport}
	resp, err := client.Do(req)
	if err != nil {
		r.failed(ctx, gen, err)
		return
	}
	defer resp.Body.Close()

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	if !r.advance(gen, HeadersReceived, func() {
		r.status = resp.StatusCode
		r.statusText = statusText(resp)
		r.respHeader = api.FromHTTPHeader(resp.Header)
		r.responseURL = finalURL
	}) {
		return
	}
	if !r.advance(gen, Loading, nil) {
		return
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		r.failed(ctx, gen, err)
		return
	}
	if !r.advance(gen, Done, func() { r.body = string(data) }) {
		return
	}
	r.fire(EventLoad)
	r.fire(EventLoadEnd)
}

// advance moves the real exchange to state and fires readystatechange. It
// reports false when the request was aborted or reopened meanwhile.
func (r *Request) advance(gen uint64, state ReadyState, update func()) bool {
	r.mu.Lock()
	if r.aborted || r.gen != gen {
		r.mu.Unlock()
		return false
	}
	if update != nil {
		update()
	}
	r.state = state
	r.mu.Unlock()
	r.fire(EventReadyStateChange)
	return true
}

func (r *Request) failed(ctx context.Context, gen uint64, err error) {
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		// Abort already reported the outcome.
		return
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		r.failExchange(gen, EventTimeout, errx.Wrap(ErrTimeout, err))
	default:
		r.failExchange(gen, EventError, errx.Wrap(ErrNetwork, err))
	}
}

func (r *Request) failExchange(gen uint64, event string, err error) {
	if !r.advance(gen, Done, func() {
		r.resetResponseLocked()
		r.err = err
	}) {
		return
	}
	r.fire(event)
	r.fire(EventLoadEnd)
}

func statusText(resp *http.Response) string {
	prefix := strconv.Itoa(resp.StatusCode) + " "
	if strings.HasPrefix(resp.Status, prefix) {
		return strings.TrimPrefix(resp.Status, prefix)
	}
	if resp.Status != "" {
		return resp.Status
	}
	return http.StatusText(resp.StatusCode)
}

// ReadyState returns the current state.
func (r *Request) ReadyState() ReadyState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o := r.override; o != nil && o.state != nil {
		return *o.state
	}
	return r.state
}

// Status returns the response status code, or 0 before headers arrive.
func (r *Request) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.snapshotLocked(); s != nil {
		return s.Status
	}
	return r.status
}

// StatusText returns the response reason phrase.
func (r *Request) StatusText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.snapshotLocked(); s != nil {
		return s.StatusText
	}
	return r.statusText
}

// ResponseText returns the response body as text.
func (r *Request) ResponseText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.snapshotLocked(); s != nil {
		return s.Body
	}
	return r.body
}

// Response returns the body decoded per ResponseType: the text itself, or
// for ResponseTypeJSON the decoded value (nil until Done or when the body
// is not valid JSON).
func (r *Request) Response() any {
	text := r.ResponseText()
	if r.ResponseType != ResponseTypeJSON {
		return text
	}
	if r.ReadyState() != Done || !gjson.Valid(text) {
		return nil
	}
	return gjson.Parse(text).Value()
}

// ResponseURL returns the final URL of the response.
func (r *Request) ResponseURL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.snapshotLocked(); s != nil {
		return s.URL
	}
	return r.responseURL
}

// GetAllResponseHeaders returns every response header as CRLF-joined
// "Name: value" lines.
func (r *Request) GetAllResponseHeaders() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.snapshotLocked(); s != nil {
		return s.Header.Lines()
	}
	return r.respHeader.Lines()
}

// GetResponseHeader looks name up case-insensitively. The second result
// is false when the header is absent.
func (r *Request) GetResponseHeader(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.snapshotLocked(); s != nil {
		return s.Header.Get(name)
	}
	return r.respHeader.Get(name)
}

func (r *Request) snapshotLocked() *Snapshot {
	if r.override == nil {
		return nil
	}
	return r.override.resp
}
