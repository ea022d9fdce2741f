package storage

import "errors"

// ErrNotFound is returned when a requested job or task does not exist.
var ErrNotFound = errors.New("storage: not found")
