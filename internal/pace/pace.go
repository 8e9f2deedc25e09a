// Package pace enforces the per-user paint interval.
package pace

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Table tracks one rate limiter per uid. A limiter with burst 1 and a
// refill period equal to the minimum paint interval admits a paint exactly
// when the previous admitted paint is at least that interval old, which is
// the check_and_mark contract. Calls for the same uid linearize on the
// limiter's own lock, so a user painting over several connections cannot
// get two admissions inside one interval.
type Table struct {
	interval time.Duration

	mu    sync.Mutex
	users map[int64]*rate.Limiter
}

// NewTable creates an empty pace table with the given minimum interval.
func NewTable(interval time.Duration) *Table {
	return &Table{
		interval: interval,
		users:    make(map[int64]*rate.Limiter),
	}
}

// Allow reports whether a paint by uid at the given instant is admitted,
// and if so records it. A rejected call does not consume the user's slot.
func (t *Table) Allow(uid int64, now time.Time) bool {
	t.mu.Lock()
	lim, ok := t.users[uid]
	if !ok {
		lim = rate.NewLimiter(rate.Every(t.interval), 1)
		t.users[uid] = lim
	}
	t.mu.Unlock()

	return lim.AllowN(now, 1)
}

// Len returns the number of tracked users.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.users)
}
