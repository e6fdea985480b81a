package postgres

import "github.com/narvanalabs/jsbuilder/internal/store"

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = store.ErrNotFound
