// Package protocol defines the JSON messages exchanged on the topic bus and
// over the gateway websocket. Payload shapes follow the ROS messages the
// dashboard and robot drivers already speak (nav_msgs/Odometry,
// geometry_msgs/Twist, geometry_msgs/Pose2D, tf2_msgs/TFMessage).
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/teslashibe/go-robotstate/pkg/geometry"
)

// MessageType identifies the payload carried by a Message.
type MessageType string

const (
	// Inputs
	TypeOdometry MessageType = "odometry" // nav_msgs/Odometry
	TypeTwist    MessageType = "twist"    // geometry_msgs/Twist
	TypeTF       MessageType = "tf"       // tf2_msgs/TFMessage

	// Outputs
	TypePose2D     MessageType = "pose2d"      // geometry_msgs/Pose2D
	TypeRobotState MessageType = "robot_state" // fused state record

	// Gateway keepalive
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

var (
	// ErrTypeMismatch is returned by a typed getter called on another message type.
	ErrTypeMismatch = errors.New("protocol: message type mismatch")

	// ErrNoData is returned when a typed getter finds an empty payload.
	ErrNoData = errors.New("protocol: message has no data")

	// ErrUnknownType is returned by Validate for unrecognised types.
	ErrUnknownType = errors.New("protocol: unknown message type")
)

// Message is the envelope for every bus and websocket payload.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	return NewMessageAt(msgType, data, time.Now())
}

// NewMessageAt creates a message stamped with ts.
func NewMessageAt(msgType MessageType, data interface{}, ts time.Time) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s data: %w", msgType, err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: ts.UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into v.
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// Validate checks the envelope type is one this service understands.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeOdometry, TypeTwist, TypeTF, TypePose2D, TypeRobotState, TypePing, TypePong:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
}

// ParseMessage parses a JSON message from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Payload types
// =============================================================================

// Stamp is a ROS time: seconds plus nanoseconds since the Unix epoch.
type Stamp struct {
	Sec     int64  `json:"sec"`
	Nanosec uint32 `json:"nanosec"`
}

// StampFromTime converts t to a Stamp.
func StampFromTime(t time.Time) Stamp {
	return Stamp{Sec: t.Unix(), Nanosec: uint32(t.Nanosecond())}
}

// Time converts the stamp back to a time.Time.
func (s Stamp) Time() time.Time {
	return time.Unix(s.Sec, int64(s.Nanosec))
}

// Header is std_msgs/Header.
type Header struct {
	Stamp   Stamp  `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// Pose is geometry_msgs/Pose.
type Pose struct {
	Position    geometry.Vector3    `json:"position"`
	Orientation geometry.Quaternion `json:"orientation"`
}

// PoseWithCovariance is geometry_msgs/PoseWithCovariance. Covariance is
// carried through untouched.
type PoseWithCovariance struct {
	Pose       Pose      `json:"pose"`
	Covariance []float64 `json:"covariance,omitempty"`
}

// Twist is geometry_msgs/Twist.
type Twist struct {
	Linear  geometry.Vector3 `json:"linear"`
	Angular geometry.Vector3 `json:"angular"`
}

// TwistWithCovariance is geometry_msgs/TwistWithCovariance.
type TwistWithCovariance struct {
	Twist      Twist     `json:"twist"`
	Covariance []float64 `json:"covariance,omitempty"`
}

// Odometry is nav_msgs/Odometry.
type Odometry struct {
	Header       Header              `json:"header"`
	ChildFrameID string              `json:"child_frame_id"`
	Pose         PoseWithCovariance  `json:"pose"`
	Twist        TwistWithCovariance `json:"twist"`
}

// Pose2D projects the odometry pose onto the plane.
func (o *Odometry) Pose2D() geometry.Pose2D {
	p := o.Pose.Pose
	return geometry.Pose2D{
		X:     p.Position.X,
		Y:     p.Position.Y,
		Theta: p.Orientation.Yaw(),
	}
}

// Velocity2D projects the odometry twist onto the plane.
func (o *Odometry) Velocity2D() geometry.Velocity2D {
	return TwistToVelocity(o.Twist.Twist)
}

// TwistToVelocity keeps linear x/y and angular z.
func TwistToVelocity(t Twist) geometry.Velocity2D {
	return geometry.Velocity2D{VX: t.Linear.X, VY: t.Linear.Y, Omega: t.Angular.Z}
}

// VelocityToTwist is the inverse of TwistToVelocity; other axes are zero.
func VelocityToTwist(v geometry.Velocity2D) Twist {
	return Twist{
		Linear:  geometry.Vector3{X: v.VX, Y: v.VY},
		Angular: geometry.Vector3{Z: v.Omega},
	}
}

// TransformStamped is geometry_msgs/TransformStamped.
type TransformStamped struct {
	Header       Header             `json:"header"`
	ChildFrameID string             `json:"child_frame_id"`
	Transform    geometry.Transform `json:"transform"`
}

// TFMessage is tf2_msgs/TFMessage.
type TFMessage struct {
	Transforms []TransformStamped `json:"transforms"`
}

// PingData is a keepalive request.
type PingData struct {
	Seq int64 `json:"seq,omitempty"`
}

// PongData answers a ping.
type PongData struct {
	Seq       int64 `json:"seq,omitempty"`
	PingTS    int64 `json:"ping_ts"`
	PongTS    int64 `json:"pong_ts"`
	LatencyMs int64 `json:"latency_ms"`
}
