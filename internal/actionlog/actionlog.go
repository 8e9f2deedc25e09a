// Package actionlog buffers accepted paints until the actions durability
// worker drains them.
package actionlog

import (
	"sync"
	"time"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
)

// Action is one admitted paint. Every admitted paint produces exactly one
// Action, whether or not it changed the cell.
type Action struct {
	X     uint16
	Y     uint16
	Color pixel.Color
	UID   int64
	Time  time.Time
}

// Buffer is an append-only in-memory queue in insertion order.
type Buffer struct {
	mu      sync.Mutex
	actions []Action
}

// NewBuffer creates an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{}
}

// Append adds one action. It only takes a short lock and never blocks on I/O.
func (b *Buffer) Append(a Action) {
	b.mu.Lock()
	b.actions = append(b.actions, a)
	b.mu.Unlock()
}

// Drain removes and returns all buffered actions.
func (b *Buffer) Drain() []Action {
	b.mu.Lock()
	drained := b.actions
	b.actions = nil
	b.mu.Unlock()
	return drained
}

// Len returns the number of buffered actions.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.actions)
}
