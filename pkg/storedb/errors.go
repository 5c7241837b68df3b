package storedb

import "errors"

var (
	ErrOpen    = errors.New("storedb: open database")
	ErrMigrate = errors.New("storedb: migrate")
)
