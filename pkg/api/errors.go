package api

import "errors"

var (
	ErrInvalidHeaders = errors.New("invalid headers")
	ErrInvalidStatus  = errors.New("status must be within 100-599")
	ErrInvalidRule    = errors.New("invalid rule")
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownKind    = errors.New("unknown message kind")
	ErrRuleNotFound   = errors.New("rule not found")
	ErrMissingRuleURL = errors.New("rule request url is required")
	ErrMissingRuleID  = errors.New("rule id is required")
)
