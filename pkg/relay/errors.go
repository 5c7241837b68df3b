package relay

import "errors"

var (
	ErrClosed        = errors.New("relay: port closed")
	ErrUnknownCodec  = errors.New("relay: unknown codec")
	ErrFrameTooLarge = errors.New("relay: frame too large")
	ErrEncode        = errors.New("relay: encode message")
	ErrDecode        = errors.New("relay: decode message")
	ErrDial          = errors.New("relay: dial")
	ErrListen        = errors.New("relay: listen")
	ErrNoResolver    = errors.New("relay: resolver is required")
)
