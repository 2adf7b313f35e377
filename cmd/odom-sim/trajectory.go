package main

import (
	"math"
	"time"

	"github.com/teslashibe/go-robotstate/pkg/geometry"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
)

// circle drives a constant-speed circle of the given radius around the origin.
type circle struct {
	radius float64 // m
	speed  float64 // m/s
}

// at returns the pose and body-frame velocity t into the run.
func (c circle) at(t time.Duration) (geometry.Pose2D, geometry.Velocity2D) {
	if c.radius <= 0 {
		return geometry.Pose2D{}, geometry.Velocity2D{}
	}
	omega := c.speed / c.radius
	phase := omega * t.Seconds()
	pose := geometry.Pose2D{
		X:     c.radius * math.Cos(phase),
		Y:     c.radius * math.Sin(phase),
		Theta: normalizeAngle(phase + math.Pi/2),
	}
	return pose, geometry.Velocity2D{VX: c.speed, Omega: omega}
}

// transform returns the frame pair parent←child for the pose at t.
func (c circle) transform(t time.Duration, parent, child string, stamp time.Time) protocol.TransformStamped {
	pose, _ := c.at(t)
	return protocol.TransformStamped{
		Header:       protocol.Header{Stamp: protocol.StampFromTime(stamp), FrameID: parent},
		ChildFrameID: child,
		Transform: geometry.Transform{
			Translation: geometry.Vector3{X: pose.X, Y: pose.Y},
			Rotation:    geometry.QuaternionFromYaw(pose.Theta),
		},
	}
}

func normalizeAngle(a float64) float64 {
	return math.Atan2(math.Sin(a), math.Cos(a))
}
