package main

import "errors"

// Config errors
var (
	ErrInvalidLogLevel = errors.New("invalid log level")
	ErrUnknownStore    = errors.New("unknown store")
	ErrMissingDBPath   = errors.New("--db is required for the sqlite store")
	ErrMissingRules    = errors.New("--rules-file is required for the file store")
)

// Serve errors
var (
	ErrOpenStore     = errors.New("open rule store")
	ErrOpenEventLog  = errors.New("open event log")
	ErrStartRelay    = errors.New("start relay server")
	ErrStartControl  = errors.New("start control API")
	ErrWatchRules    = errors.New("watch rules file")
	ErrInvalidCodec  = errors.New("invalid codec")
	ErrInvalidHeader = errors.New("invalid header")
)

// Rule errors
var (
	ErrMissingURL  = errors.New("--url is required")
	ErrReadBody    = errors.New("read body file")
	ErrBodyFlags   = errors.New("--body and --body-file are mutually exclusive")
	ErrNoInputRule = errors.New("no curl command given")
)

// Fetch errors
var (
	ErrDialRelay = errors.New("dial relay")
	ErrFetch     = errors.New("fetch failed")
)
