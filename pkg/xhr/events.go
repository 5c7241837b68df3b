package xhr

import (
	"fmt"

	"github.com/jingkaihe/mocklock/internal/errx"
)

const (
	EventReadyStateChange = "readystatechange"
	EventLoadStart        = "loadstart"
	EventProgress         = "progress"
	EventLoad             = "load"
	EventLoadEnd          = "loadend"
	EventError            = "error"
	EventAbort            = "abort"
	EventTimeout          = "timeout"
)

// Event is delivered to listeners registered with AddEventListener.
type Event struct {
	Type   string
	Target *Request
}

type listener struct {
	fn func(Event)
}

func supportedEvent(typ string) bool {
	switch typ {
	case EventReadyStateChange, EventLoadStart, EventProgress, EventLoad,
		EventLoadEnd, EventError, EventAbort, EventTimeout:
		return true
	}
	return false
}

func (r *Request) handler(typ string) func() {
	switch typ {
	case EventReadyStateChange:
		return r.OnReadyStateChange
	case EventLoadStart:
		return r.OnLoadStart
	case EventLoad:
		return r.OnLoad
	case EventLoadEnd:
		return r.OnLoadEnd
	case EventError:
		return r.OnError
	case EventAbort:
		return r.OnAbort
	case EventTimeout:
		return r.OnTimeout
	}
	return nil
}

// AddEventListener registers fn for typ and returns a function that removes
// it again. Listeners run after the matching On* handler field.
func (r *Request) AddEventListener(typ string, fn func(Event)) (remove func()) {
	if fn == nil {
		return func() {}
	}
	l := &listener{fn: fn}
	r.mu.Lock()
	r.listeners[typ] = append(r.listeners[typ], l)
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		ls := r.listeners[typ]
		for i, cur := range ls {
			if cur == l {
				r.listeners[typ] = append(ls[:i:i], ls[i+1:]...)
				return
			}
		}
	}
}

// InvokeHandler calls the On* handler field for typ, if one is set. A
// panicking handler is recovered. It reports whether a handler ran.
func (r *Request) InvokeHandler(typ string) bool {
	h := r.handler(typ)
	if h == nil {
		return false
	}
	_ = safeCall(h)
	return true
}

// DispatchEvent delivers ev to the listeners registered for its type. The
// On* handler fields are not called.
func (r *Request) DispatchEvent(ev Event) error {
	if !supportedEvent(ev.Type) {
		return errx.With(ErrUnsupportedEvent, " %q", ev.Type)
	}
	if ev.Target == nil {
		ev.Target = r
	}

	r.mu.Lock()
	ls := append([]*listener(nil), r.listeners[ev.Type]...)
	r.mu.Unlock()

	var firstErr error
	for _, l := range ls {
		if err := safeCall(func() { l.fn(ev) }); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// fire runs the handler field and then the listeners for typ.
func (r *Request) fire(typ string) {
	r.InvokeHandler(typ)
	_ = r.DispatchEvent(Event{Type: typ, Target: r})
}

func safeCall(fn func()) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = errx.With(ErrListenerPanic, ": %s", fmt.Sprint(p))
		}
	}()
	fn()
	return nil
}
