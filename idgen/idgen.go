// Package idgen provides identifier generators. Sequential IDs keep traces
// reproducible; XIDs label whole runs that must not collide across processes.
package idgen

import (
	"sync/atomic"

	"github.com/rs/xid"
)

// ID is a unique identifier represented as a uint64.
type ID uint64

// Generator produces unique identifiers.
type Generator interface {
	Generate() ID
}

// New returns a sequential generator whose first emitted ID is 1.
func New() Generator {
	return &sequentialGenerator{}
}

type sequentialGenerator struct {
	next atomic.Uint64
}

func (g *sequentialGenerator) Generate() ID {
	return ID(g.next.Add(1))
}

// NewRunID returns a globally unique, sortable identifier for a simulation
// run.
func NewRunID() string {
	return xid.New().String()
}
