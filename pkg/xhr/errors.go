package xhr

import "errors"

var (
	ErrInvalidState     = errors.New("invalid request state")
	ErrInvalidMethod    = errors.New("invalid request method")
	ErrUnsupportedEvent = errors.New("unsupported event type")
	ErrListenerPanic    = errors.New("event listener panicked")
	ErrNetwork          = errors.New("network error")
	ErrTimeout          = errors.New("request timed out")
	ErrAborted          = errors.New("request aborted")
)
