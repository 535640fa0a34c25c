package storage

import "errors"

// ErrNotFound is returned when no open-position snapshot exists for a strategy.
var ErrNotFound = errors.New("not found")
