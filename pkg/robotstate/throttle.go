package robotstate

import (
	"sync"
	"time"

	"github.com/teslashibe/go-robotstate/internal/clock"
)

// throttle lets one event through per interval.
type throttle struct {
	clock    clock.Clock
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

func newThrottle(clk clock.Clock, interval time.Duration) *throttle {
	return &throttle{clock: clk, interval: interval}
}

// Allow reports whether an event may be emitted now, and if so starts a new
// interval.
func (t *throttle) Allow() bool {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.last.IsZero() && now.Sub(t.last) < t.interval {
		return false
	}
	t.last = now
	return true
}
