package protocol

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-robotstate/pkg/geometry"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewOdometryMessage creates an odometry message for a planar pose and velocity.
func NewOdometryMessage(frameID, childFrameID string, pose geometry.Pose2D, vel geometry.Velocity2D, stamp time.Time) (*Message, error) {
	return NewMessageAt(TypeOdometry, Odometry{
		Header:       Header{Stamp: StampFromTime(stamp), FrameID: frameID},
		ChildFrameID: childFrameID,
		Pose: PoseWithCovariance{Pose: Pose{
			Position:    geometry.Vector3{X: pose.X, Y: pose.Y},
			Orientation: geometry.QuaternionFromYaw(pose.Theta),
		}},
		Twist: TwistWithCovariance{Twist: VelocityToTwist(vel)},
	}, stamp)
}

// NewTwistMessage creates a velocity command message.
func NewTwistMessage(vel geometry.Velocity2D) (*Message, error) {
	return NewMessage(TypeTwist, VelocityToTwist(vel))
}

// NewTFMessage creates a TF message holding transforms.
func NewTFMessage(transforms ...TransformStamped) (*Message, error) {
	return NewMessage(TypeTF, TFMessage{Transforms: transforms})
}

// NewPingMessage creates a keepalive ping.
func NewPingMessage(seq int64) (*Message, error) {
	return NewMessage(TypePing, PingData{Seq: seq})
}

// NewPongMessage answers a ping sent at pingTS.
func NewPongMessage(seq, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		Seq:       seq,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

func (m *Message) parseTyped(want MessageType, v interface{}) error {
	if m.Type != want {
		return fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, want, m.Type)
	}
	if len(m.Data) == 0 {
		return fmt.Errorf("%w: %s", ErrNoData, want)
	}
	if err := m.ParseData(v); err != nil {
		return fmt.Errorf("failed to parse %s data: %w", want, err)
	}
	return nil
}

// GetOdometry extracts an odometry payload.
func (m *Message) GetOdometry() (*Odometry, error) {
	var data Odometry
	if err := m.parseTyped(TypeOdometry, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTwist extracts a twist payload.
func (m *Message) GetTwist() (*Twist, error) {
	var data Twist
	if err := m.parseTyped(TypeTwist, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTF extracts a TF payload.
func (m *Message) GetTF() (*TFMessage, error) {
	var data TFMessage
	if err := m.parseTyped(TypeTF, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPose2D extracts a planar pose payload.
func (m *Message) GetPose2D() (*geometry.Pose2D, error) {
	var data geometry.Pose2D
	if err := m.parseTyped(TypePose2D, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetRobotState extracts a fused state payload.
func (m *Message) GetRobotState() (*geometry.RobotState, error) {
	var data geometry.RobotState
	if err := m.parseTyped(TypeRobotState, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data. An empty ping is valid.
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if m.Type != TypePing {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrTypeMismatch, TypePing, m.Type)
	}
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data.
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.parseTyped(TypePong, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeOdometry parses raw bytes straight into an odometry payload.
func DecodeOdometry(raw []byte) (*Odometry, error) {
	msg, err := ParseMessage(raw)
	if err != nil {
		return nil, err
	}
	return msg.GetOdometry()
}

// Encode marshals a typed payload into envelope bytes stamped with ts.
func Encode(msgType MessageType, data interface{}, ts time.Time) ([]byte, error) {
	msg, err := NewMessageAt(msgType, data, ts)
	if err != nil {
		return nil, err
	}
	return msg.Bytes()
}
