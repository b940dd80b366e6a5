package store

import "errors"

// Sentinel errors for internal use.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)
