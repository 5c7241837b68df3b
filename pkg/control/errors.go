package control

import "errors"

var (
	ErrBadRequest       = errors.New("bad request")
	ErrRequest          = errors.New("control request failed")
	ErrUnexpectedStatus = errors.New("unexpected control status")
	ErrDecodeResponse   = errors.New("decode control response")
)
