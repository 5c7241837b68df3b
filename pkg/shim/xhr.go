package shim

import (
	"time"

	"github.com/jingkaihe/mocklock/pkg/emulator"
	"github.com/jingkaihe/mocklock/pkg/xhr"
)

type xhrKey struct{}

type requestKey struct {
	url    string
	method string
}

// NewXHR returns an xhr.Request whose Send consults the authority. Mocked
// calls are emulated on the same instance; the rest are transmitted as
// usual. Hooks passed in opts are replaced.
func (s *Shim) NewXHR(opts ...xhr.Option) *xhr.Request {
	opts = append(opts, xhr.WithHooks(xhr.Hooks{
		Open: s.xhrOpen,
		Send: s.xhrSend,
	}))
	return xhr.New(opts...)
}

func (s *Shim) xhrOpen(r *xhr.Request, method, rawURL string) {
	r.SetValue(xhrKey{}, requestKey{
		url:    NormalizeURL(s.origin, rawURL),
		method: NormalizeMethod(method),
	})
}

func (s *Shim) xhrSend(r *xhr.Request, body []byte, transmit xhr.TransmitFunc) {
	start := time.Now()
	key, ok := r.Value(xhrKey{}).(requestKey)
	if !ok {
		key = requestKey{url: NormalizeURL(s.origin, r.URL()), method: NormalizeMethod(r.Method())}
	}

	decision, outcome := s.Decide(r.Context(), key.url, key.method)
	if outcome == OutcomeCanceled {
		s.record("xhr", key.method, key.url, outcome, 0, start)
		return
	}
	if !decision.ShouldMock {
		s.record("xhr", key.method, key.url, outcome, 0, start)
		transmit(body)
		return
	}

	status, _ := emulator.StatusLine(decision.Response)
	s.record("xhr", key.method, key.url, outcome, status, start)
	if err := s.emulator.Drive(r.Context(), r, decision.Response); err != nil {
		s.logger.Debug("emulation stopped", "url", key.url, "error", err)
	}
}
