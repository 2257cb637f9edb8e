package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Embedding describes one cached vector without its payload.
type Embedding struct {
	Model     string
	TextHash  string
	Dims      int
	CreatedAt time.Time
}
