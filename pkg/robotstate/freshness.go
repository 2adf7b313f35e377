package robotstate

import (
	"time"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
)

// Source identifies where an estimate came from.
type Source int

const (
	SourceNone Source = iota
	SourceReal
	SourceInjected
	SourceTransform
)

func (s Source) String() string {
	switch s {
	case SourceReal:
		return "real"
	case SourceInjected:
		return "injected"
	case SourceTransform:
		return "transform"
	default:
		return "none"
	}
}

// MarshalText lets Source appear by name in JSON.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Sample is one cached odometry message.
type Sample struct {
	Odometry protocol.Odometry
	Raw      []byte    // payload as received
	Stamp    time.Time // receipt time, not the header stamp
}

// Tracker holds the latest sample of each odometry source and answers
// whether it is still fresh. It is not safe for concurrent use; it lives on
// the executor goroutine.
type Tracker struct {
	clock   clock.Clock
	samples map[Source]Sample
}

// NewTracker creates an empty tracker.
func NewTracker(clk clock.Clock) *Tracker {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Tracker{clock: clk, samples: make(map[Source]Sample, 2)}
}

// Record stores s as the latest sample of source, stamped with the current
// time. Any previous sample is replaced.
func (t *Tracker) Record(source Source, s Sample) {
	s.Stamp = t.clock.Now()
	t.samples[source] = s
}

// Fresh reports whether source has a sample younger than FreshTimeout.
// A source that never reported is stale.
func (t *Tracker) Fresh(source Source) bool {
	s, ok := t.samples[source]
	if !ok {
		return false
	}
	return t.clock.Since(s.Stamp) < FreshTimeout
}

// Latest returns the cached sample of source regardless of age.
func (t *Tracker) Latest(source Source) (Sample, bool) {
	s, ok := t.samples[source]
	return s, ok
}
