// Package robotstate fuses real odometry, injected (UI) odometry and a
// transform-graph fallback into one pose/velocity estimate published at a
// fixed rate, and keeps the injected feed from looping back as "real".
package robotstate

import "time"

// Timing constants. These are part of the engine's contract and are not
// configurable.
const (
	// FreshTimeout is how long a cached odometry sample stays usable.
	FreshTimeout = 200 * time.Millisecond

	// SamplePeriod is the publication period of the fused state.
	SamplePeriod = 50 * time.Millisecond

	// TransformTimeout bounds the wait for the fallback transform.
	TransformTimeout = 100 * time.Millisecond

	// WarnThrottle is the minimum spacing of repeated transform warnings.
	WarnThrottle = 2000 * time.Millisecond
)

// Default topic names.
const (
	TopicRealOdom     = "/odom"
	TopicInjectedOdom = "/konva_odom"
	TopicCommandIn    = "/konva_cmd_vel"
	TopicCommandOut   = "/cmd_vel"
	TopicPose         = "/robot_pose2d"
	TopicVelocity     = "/robot_velocity"
	TopicState        = "/robot_state"
)

// Default frames for the transform fallback.
const (
	FrameOdom          = "odom"
	FrameBaseFootprint = "base_footprint"
)
