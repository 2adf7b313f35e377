package tf

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/geometry"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
)

const delta = 1e-9

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func planar(x, y, theta float64) geometry.Transform {
	return geometry.Transform{
		Translation: geometry.Vector3{X: x, Y: y},
		Rotation:    geometry.QuaternionFromYaw(theta),
	}
}

func edgeOf(parent, child string, tf geometry.Transform) Stamped {
	return Stamped{Parent: parent, Child: child, Stamp: epoch, Transform: tf}
}

func assertPose(t *testing.T, want geometry.Pose2D, got geometry.Transform) {
	t.Helper()
	p := geometry.PoseFromTransform(got)
	assert.InDelta(t, want.X, p.X, delta, "x")
	assert.InDelta(t, want.Y, p.Y, delta, "y")
	assert.InDelta(t, want.Theta, p.Theta, delta, "theta")
}

func TestLookup_DirectEdge(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)
	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(1, 2, 0.5)), false))

	st, err := b.LookupTransform("odom", "base_footprint")
	require.NoError(t, err)
	assert.Equal(t, "odom", st.Parent)
	assert.Equal(t, "base_footprint", st.Child)
	assertPose(t, geometry.Pose2D{X: 1, Y: 2, Theta: 0.5}, st.Transform)
}

func TestLookup_Inverse(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)
	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(1, 0, math.Pi/2)), false))

	st, err := b.LookupTransform("base_footprint", "odom")
	require.NoError(t, err)
	// odom origin seen from a robot at (1,0) facing +y is directly to its left.
	assertPose(t, geometry.Pose2D{X: 0, Y: 1, Theta: -math.Pi / 2}, st.Transform)
}

func TestLookup_ChainsThroughAncestor(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)
	require.NoError(t, b.Set(edgeOf("map", "odom", planar(10, 0, 0)), true))
	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(1, 2, 0.5)), false))
	require.NoError(t, b.Set(edgeOf("base_footprint", "laser", planar(0.2, 0, 0)), true))

	st, err := b.LookupTransform("map", "base_footprint")
	require.NoError(t, err)
	assertPose(t, geometry.Pose2D{X: 11, Y: 2, Theta: 0.5}, st.Transform)

	// sibling branch: laser seen from odom
	st, err = b.LookupTransform("odom", "laser")
	require.NoError(t, err)
	assertPose(t, geometry.Pose2D{
		X:     1 + 0.2*math.Cos(0.5),
		Y:     2 + 0.2*math.Sin(0.5),
		Theta: 0.5,
	}, st.Transform)
}

func TestLookup_SameFrame(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)
	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(1, 2, 0.5)), false))

	st, err := b.LookupTransform("odom", "odom")
	require.NoError(t, err)
	assertPose(t, geometry.Pose2D{}, st.Transform)
}

func TestLookup_Errors(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)
	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(0, 0, 0)), false))
	require.NoError(t, b.Set(edgeOf("world", "camera", planar(0, 0, 0)), false))

	_, err := b.LookupTransform("odom", "nowhere")
	assert.ErrorIs(t, err, ErrUnknownFrame)

	_, err = b.LookupTransform("odom", "camera")
	assert.ErrorIs(t, err, ErrDisconnected)
}

func TestLookup_DynamicEdgeExpires(t *testing.T) {
	mock := clock.NewMock(epoch)
	b := NewBuffer(mock, time.Second)
	require.NoError(t, b.Set(edgeOf("map", "odom", planar(0, 0, 0)), true))
	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(1, 0, 0)), false))

	mock.Advance(time.Second)
	_, err := b.LookupTransform("odom", "base_footprint")
	require.NoError(t, err, "edge is valid up to and including cache time")

	mock.Advance(time.Millisecond)
	_, err = b.LookupTransform("odom", "base_footprint")
	assert.ErrorIs(t, err, ErrExpired)

	mock.Advance(time.Hour)
	_, err = b.LookupTransform("map", "odom")
	assert.NoError(t, err, "static edges never expire")
}

func TestSet_Invalid(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)

	tests := []struct {
		name string
		st   Stamped
	}{
		{"empty parent", edgeOf("", "a", geometry.IdentityTransform)},
		{"empty child", edgeOf("a", "", geometry.IdentityTransform)},
		{"self parent", edgeOf("a", "a", geometry.IdentityTransform)},
		{"zero quaternion", edgeOf("a", "b", geometry.Transform{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, b.Set(tt.st, false), ErrInvalid)
		})
	}

	require.NoError(t, b.Set(edgeOf("a", "b", geometry.IdentityTransform), false))
	assert.ErrorIs(t, b.Set(edgeOf("b", "a", geometry.IdentityTransform), false), ErrInvalid, "cycle")
}

func TestSet_Reparent(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)
	require.NoError(t, b.Set(edgeOf("odom", "wheel", planar(0, 0, 0)), true))
	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(1, 0, 0)), false))
	require.NoError(t, b.Set(edgeOf("map", "base_footprint", planar(5, 0, 0)), false))

	_, err := b.LookupTransform("odom", "base_footprint")
	assert.ErrorIs(t, err, ErrDisconnected)

	assert.ElementsMatch(t, []string{"odom", "wheel", "map", "base_footprint"}, b.Frames())
}

func TestCanTransform(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)

	start := time.Now()
	assert.False(t, b.CanTransform("odom", "base_footprint", 20*time.Millisecond))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond, "waits the full timeout")

	assert.False(t, b.CanTransform("odom", "base_footprint", 0))

	require.NoError(t, b.Set(edgeOf("odom", "base_footprint", planar(0, 0, 0)), false))
	assert.True(t, b.CanTransform("odom", "base_footprint", 0))
}

func TestCanTransform_WokenBySet(t *testing.T) {
	b := NewBuffer(clock.NewMock(epoch), 0)

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = b.Set(edgeOf("odom", "other", planar(0, 0, 0)), false)
		_ = b.Set(edgeOf("odom", "base_footprint", planar(0, 0, 0)), false)
	}()

	start := time.Now()
	assert.True(t, b.CanTransform("odom", "base_footprint", 5*time.Second))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestListener_FeedsBuffer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bb := bus.New(logger)
	buf := NewBuffer(clock.NewMock(epoch), 0)

	l, err := NewListener(bb, buf, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })

	driver := bb.Join("driver")

	msg, err := protocol.NewTFMessage(protocol.TransformStamped{
		Header:       protocol.Header{FrameID: "odom", Stamp: protocol.StampFromTime(epoch)},
		ChildFrameID: "base_footprint",
		Transform:    planar(3, 4, 1),
	})
	require.NoError(t, err)
	raw, err := msg.Bytes()
	require.NoError(t, err)
	require.NoError(t, driver.Publish(TopicTF, raw))

	static, err := protocol.NewTFMessage(protocol.TransformStamped{
		Header:       protocol.Header{FrameID: "map"},
		ChildFrameID: "odom",
		Transform:    geometry.IdentityTransform,
	})
	require.NoError(t, err)
	raw, err = static.Bytes()
	require.NoError(t, err)
	require.NoError(t, driver.Publish(TopicTFStatic, raw))

	require.NoError(t, driver.Publish(TopicTF, []byte("garbage")))

	st, err := buf.LookupTransform("map", "base_footprint")
	require.NoError(t, err)
	assertPose(t, geometry.Pose2D{X: 3, Y: 4, Theta: 1}, st.Transform)
	assert.Equal(t, int64(2), l.Applied())
	assert.Equal(t, int64(1), l.Rejected())
}
