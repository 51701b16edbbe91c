package tracing

import "errors"

// ErrNoTransaction is returned when a segment is requested while no transaction is recording
var ErrNoTransaction = errors.New("no transaction is recording")
