// Package canvas holds the authoritative in-memory board state.
package canvas

import (
	"sync"
	"time"

	"github.com/Nikaidou-Shinku/yur-paintboard/internal/pixel"
)

// lockShards stripes cell mutexes so concurrent writers to different cells
// do not contend. Must be a power of two.
const lockShards = 1024

// Cell is the current state of one board coordinate. UID is -1 until a
// user paints the cell.
type Cell struct {
	Color pixel.Color
	UID   int64
	Time  time.Time
}

// Canvas is a fixed-size grid of cells with per-cell atomic access.
// Cells are stored x-major so enumeration is lexicographic by (x, y).
type Canvas struct {
	width  int
	height int
	cells  []Cell
	locks  [lockShards]sync.Mutex
}

// New allocates a width×height canvas with every cell set to the default
// color, UID -1 and the given timestamp.
func New(width, height int, def pixel.Color, now time.Time) *Canvas {
	c := &Canvas{
		width:  width,
		height: height,
		cells:  make([]Cell, width*height),
	}

	blank := Cell{Color: def, UID: -1, Time: now}
	for i := range c.cells {
		c.cells[i] = blank
	}

	return c
}

func (c *Canvas) Width() int  { return c.width }
func (c *Canvas) Height() int { return c.height }

// Contains reports whether (x, y) is inside the grid.
func (c *Canvas) Contains(x, y uint16) bool {
	return int(x) < c.width && int(y) < c.height
}

func (c *Canvas) index(x, y uint16) int {
	return int(x)*c.height + int(y)
}

func (c *Canvas) lockFor(idx int) *sync.Mutex {
	return &c.locks[idx&(lockShards-1)]
}

// Get returns the cell at (x, y). The read is atomic at cell granularity.
func (c *Canvas) Get(x, y uint16) Cell {
	idx := c.index(x, y)
	mu := c.lockFor(idx)

	mu.Lock()
	cell := c.cells[idx]
	mu.Unlock()

	return cell
}

// Set replaces the cell at (x, y) and returns the previous color.
// Writers to the same cell serialize on the cell's lock shard.
func (c *Canvas) Set(x, y uint16, cell Cell) pixel.Color {
	idx := c.index(x, y)
	mu := c.lockFor(idx)

	mu.Lock()
	prev := c.cells[idx].Color
	c.cells[idx] = cell
	mu.Unlock()

	return prev
}

// Range calls fn for every cell in lexicographic (x, y) order. Each cell
// is read atomically, but the walk as a whole may interleave with writers.
// Returning false from fn stops the walk.
func (c *Canvas) Range(fn func(x, y uint16, cell Cell) bool) {
	for x := 0; x < c.width; x++ {
		for y := 0; y < c.height; y++ {
			if !fn(uint16(x), uint16(y), c.Get(uint16(x), uint16(y))) {
				return
			}
		}
	}
}
