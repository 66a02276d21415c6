// Package idgen provides connection and request ID generators.
package idgen

import (
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator produces unique identifiers.
type Generator interface {
	New() string
}

// UUID generates random UUIDs.
type UUID struct{}

// New generates a new UUID v4.
func (UUID) New() string {
	return uuid.NewString()
}

// Sequential generates prefixed, increasing IDs. Tests use it for
// predictable connection IDs.
type Sequential struct {
	prefix  string
	counter atomic.Uint64
}

// NewSequential creates a sequential ID generator.
func NewSequential(prefix string) *Sequential {
	return &Sequential{prefix: prefix}
}

// New generates the next sequential ID, starting at 1.
func (s *Sequential) New() string {
	return s.prefix + strconv.FormatUint(s.counter.Add(1), 10)
}

var (
	_ Generator = UUID{}
	_ Generator = (*Sequential)(nil)
)
