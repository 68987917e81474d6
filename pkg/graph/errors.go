package graph

import "errors"

// ErrNotFound is returned when a lookup by id finds no matching row.
var ErrNotFound = errors.New("graph: not found")
