package shim

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jingkaihe/mocklock/pkg/emulator"
)

// RequestInit carries the optional arguments of a fetch call.
type RequestInit struct {
	Method string
	Header http.Header
	Body   []byte
}

// FetchFunc is the stream-style primitive. input is a URL string, a
// *url.URL or an *http.Request.
type FetchFunc func(ctx context.Context, input any, init *RequestInit) (*http.Response, error)

// DefaultFetch returns a FetchFunc performing the call with c.
func DefaultFetch(c *http.Client) FetchFunc {
	if c == nil {
		c = http.DefaultClient
	}
	return func(ctx context.Context, input any, init *RequestInit) (*http.Response, error) {
		req, err := buildRequest(ctx, input, init)
		if err != nil {
			return nil, err
		}
		return c.Do(req)
	}
}

// Fetch runs the wrapped FetchFunc unless the authority mocks the call, in
// which case the emulated response is returned and the original is never
// invoked.
func (s *Shim) Fetch(ctx context.Context, input any, init *RequestInit) (*http.Response, error) {
	start := time.Now()
	rawURL, method := fetchKey(input, init)
	key := NormalizeURL(s.origin, rawURL)
	method = NormalizeMethod(method)

	decision, outcome := s.Decide(ctx, key, method)
	if !decision.ShouldMock {
		s.record("fetch", method, key, outcome, 0, start)
		return s.fetch(ctx, input, init)
	}

	req, ok := input.(*http.Request)
	if !ok {
		req, _ = http.NewRequestWithContext(ctx, method, key, nil)
	}
	resp := emulator.Response(req, decision.Response)
	s.record("fetch", method, key, outcome, resp.StatusCode, start)
	return resp, nil
}

// Transport wraps orig so every round trip is checked first. A nil orig
// means http.DefaultTransport.
func (s *Shim) Transport(orig http.RoundTripper) http.RoundTripper {
	if orig == nil {
		orig = http.DefaultTransport
	}
	return &transport{shim: s, orig: orig}
}

// Client returns a shallow copy of c whose transport goes through the
// shim. A nil c means http.DefaultClient.
func (s *Shim) Client(c *http.Client) *http.Client {
	if c == nil {
		c = http.DefaultClient
	}
	cp := *c
	cp.Transport = s.Transport(c.Transport)
	return &cp
}

type transport struct {
	shim *Shim
	orig http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	key := NormalizeURL(t.shim.origin, req.URL.String())
	method := NormalizeMethod(req.Method)

	decision, outcome := t.shim.Decide(req.Context(), key, method)
	if !decision.ShouldMock {
		t.shim.record("transport", method, key, outcome, 0, start)
		return t.orig.RoundTrip(req)
	}
	if req.Body != nil {
		_ = req.Body.Close()
	}
	resp := emulator.Response(req, decision.Response)
	t.shim.record("transport", method, key, outcome, resp.StatusCode, start)
	return resp, nil
}

func fetchKey(input any, init *RequestInit) (rawURL, method string) {
	switch v := input.(type) {
	case string:
		rawURL = v
	case *url.URL:
		if v != nil {
			rawURL = v.String()
		}
	case *http.Request:
		if v != nil {
			method = v.Method
			if v.URL != nil {
				rawURL = v.URL.String()
			}
		}
	}
	if init != nil && init.Method != "" {
		method = init.Method
	}
	return rawURL, method
}

func buildRequest(ctx context.Context, input any, init *RequestInit) (*http.Request, error) {
	if req, ok := input.(*http.Request); ok && req != nil {
		req = req.Clone(ctx)
		if init != nil {
			applyInit(req, init)
		}
		return req, nil
	}

	rawURL, method := fetchKey(input, init)
	var body io.Reader
	if init != nil && init.Body != nil {
		body = bytes.NewReader(init.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	if init != nil {
		for name, values := range init.Header {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
	}
	return req, nil
}

func applyInit(req *http.Request, init *RequestInit) {
	if init.Method != "" {
		req.Method = init.Method
	}
	for name, values := range init.Header {
		req.Header.Del(name)
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if init.Body != nil {
		req.Body = io.NopCloser(bytes.NewReader(init.Body))
		req.ContentLength = int64(len(init.Body))
	}
}
