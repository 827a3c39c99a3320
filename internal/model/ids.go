package model

import "github.com/oklog/ulid/v2"

// NewID returns a new lexicographically sortable identifier (ULID, 26 chars)
func NewID() string {
	return ulid.Make().String()
}
