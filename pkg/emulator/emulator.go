// Package emulator builds synthetic responses from mock payloads for both
// network primitives: a terminal *http.Response for the stream-style path
// and a timed readyState walk for an xhr.Request.
package emulator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jingkaihe/mocklock/pkg/api"
	"github.com/jingkaihe/mocklock/pkg/xhr"
)

// DefaultDelay separates consecutive readyState transitions.
const DefaultDelay = 10 * time.Millisecond

// Emulator drives mocked xhr requests.
type Emulator struct {
	delay  time.Duration
	logger *slog.Logger
}

// Option configures an Emulator.
type Option func(*Emulator)

// WithDelay sets the pause between transitions. Non-positive values keep
// the default so transitions never share a tick.
func WithDelay(d time.Duration) Option {
	return func(e *Emulator) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithLogger sets the logger used for swallowed dispatch failures.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Emulator) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an Emulator.
func New(opts ...Option) *Emulator {
	e := &Emulator{
		delay:  DefaultDelay,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With("component", "emulator")
	return e
}

// Delay returns the configured transition delay.
func (e *Emulator) Delay() time.Duration {
	return e.delay
}

// StatusLine returns the effective status code and reason phrase for p.
func StatusLine(p *api.MockResponse) (int, string) {
	status := http.StatusOK
	text := ""
	if p != nil {
		if p.Status != 0 {
			status = p.Status
		}
		text = p.StatusText
	}
	if text == "" {
		text = http.StatusText(status)
	}
	return status, text
}

// Response builds the terminal response for a mocked stream-style call.
func Response(req *http.Request, p *api.MockResponse) *http.Response {
	status, text := StatusLine(p)
	var body string
	var header http.Header
	if p != nil {
		body = p.Body
		header = p.Headers.HTTPHeader()
	} else {
		header = make(http.Header)
	}

	return &http.Response{
		Status:        strconv.Itoa(status) + " " + text,
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

// Drive walks r from its current state through HeadersReceived, Loading
// and Done, one transition per delay, then reports load and loadend. The
// walk stops early when ctx or the request's own context ends, or when the
// request is reopened; the returned error is then the context error or
// xhr.ErrAborted.
func (e *Emulator) Drive(ctx context.Context, r *xhr.Request, p *api.MockResponse) error {
	ov := r.Override()
	reqCtx := r.Context()
	status, text := StatusLine(p)
	var snap xhr.Snapshot
	snap.Status = status
	snap.StatusText = text
	if p != nil {
		snap.Header = p.Headers
		snap.Body = p.Body
	}

	timer := time.NewTimer(e.delay)
	defer timer.Stop()

	for _, state := range []xhr.ReadyState{xhr.HeadersReceived, xhr.Loading, xhr.Done} {
		timer.Reset(e.delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reqCtx.Done():
			return xhr.ErrAborted
		case <-timer.C:
		}
		if !ov.Active() {
			return xhr.ErrAborted
		}
		if state == xhr.Done {
			ov.SetResponse(snap)
		}
		ov.SetReadyState(state)
		r.InvokeHandler(xhr.EventReadyStateChange)
	}

	r.InvokeHandler(xhr.EventLoad)
	r.InvokeHandler(xhr.EventLoadEnd)
	for _, typ := range []string{xhr.EventLoad, xhr.EventLoadEnd} {
		if err := r.DispatchEvent(xhr.Event{Type: typ, Target: r}); err != nil {
			e.logger.Debug("event dispatch failed", "event", typ, "error", err)
		}
	}
	return nil
}
