package robotstate

import (
	"github.com/teslashibe/go-robotstate/pkg/geometry"
)

// Fallback produces a pose when neither odometry source is fresh.
type Fallback interface {
	Resolve() (geometry.Pose2D, bool)
}

// Estimate is one arbitration result.
type Estimate struct {
	Source Source              `json:"source"`
	State  geometry.RobotState `json:"state"`
}

// Arbiter picks the source of the published state, in fixed priority:
// fresh real odometry, then fresh injected odometry, then the fallback.
// It never blends sources and keeps no memory between calls.
type Arbiter struct {
	tracker  *Tracker
	fallback Fallback
}

// NewArbiter creates an arbiter. fallback may be nil.
func NewArbiter(tracker *Tracker, fallback Fallback) *Arbiter {
	return &Arbiter{tracker: tracker, fallback: fallback}
}

// Resolve returns the current estimate, or false when there is nothing
// trustworthy to publish.
func (a *Arbiter) Resolve() (Estimate, bool) {
	for _, src := range []Source{SourceReal, SourceInjected} {
		if !a.tracker.Fresh(src) {
			continue
		}
		s, _ := a.tracker.Latest(src)
		return Estimate{
			Source: src,
			State:  geometry.NewRobotState(s.Odometry.Pose2D(), s.Odometry.Velocity2D()),
		}, true
	}

	if a.fallback == nil {
		return Estimate{}, false
	}
	pose, ok := a.fallback.Resolve()
	if !ok {
		return Estimate{}, false
	}
	return Estimate{
		Source: SourceTransform,
		State:  geometry.NewRobotState(pose, geometry.Velocity2D{}),
	}, true
}
