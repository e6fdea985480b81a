package filter

import "errors"

// ErrUnknownFilter is returned when a filter id is not registered.
var ErrUnknownFilter = errors.New("unknown filter")
