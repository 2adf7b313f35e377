package protocol

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/teslashibe/go-robotstate/pkg/geometry"
)

const floatTolerance = 1e-9

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    interface{}
		wantErr bool
	}{
		{
			name:    "twist message",
			msgType: TypeTwist,
			data:    Twist{Linear: geometry.Vector3{X: 0.5}},
		},
		{
			name:    "pose message",
			msgType: TypePose2D,
			data:    geometry.Pose2D{X: 1, Y: 2, Theta: 0.5},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypeTwist,
			data:    math.Inf(1),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if msg.Timestamp == 0 {
				t.Error("NewMessage() timestamp should be set")
			}
		})
	}
}

func TestNewMessageAt_Deterministic(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	state := geometry.RobotState{X: 1, Y: 2, Theta: 0.5, VX: 0.1}

	a, err := Encode(TypeRobotState, state, ts)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	b, err := Encode(TypeRobotState, state, ts)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if string(a) != string(b) {
		t.Errorf("same input produced different bytes:\n%s\n%s", a, b)
	}
}

func TestOdometryMessage_Projection(t *testing.T) {
	stamp := time.Date(2026, 3, 1, 12, 0, 0, 500, time.UTC)
	msg, err := NewOdometryMessage("odom", "base_footprint",
		geometry.Pose2D{X: 1, Y: 2, Theta: 0.5},
		geometry.Velocity2D{VX: 0.3, VY: -0.1, Omega: 0.2},
		stamp)
	if err != nil {
		t.Fatalf("NewOdometryMessage() error = %v", err)
	}

	raw, err := msg.Bytes()
	if err != nil {
		t.Fatalf("Bytes() error = %v", err)
	}

	odom, err := DecodeOdometry(raw)
	if err != nil {
		t.Fatalf("DecodeOdometry() error = %v", err)
	}

	pose := odom.Pose2D()
	if pose.X != 1 || pose.Y != 2 || math.Abs(pose.Theta-0.5) > floatTolerance {
		t.Errorf("Pose2D() = %+v, want (1, 2, 0.5)", pose)
	}
	vel := odom.Velocity2D()
	if vel != (geometry.Velocity2D{VX: 0.3, VY: -0.1, Omega: 0.2}) {
		t.Errorf("Velocity2D() = %+v", vel)
	}
	if odom.Header.FrameID != "odom" || odom.ChildFrameID != "base_footprint" {
		t.Errorf("frames = %q/%q", odom.Header.FrameID, odom.ChildFrameID)
	}
	if !odom.Header.Stamp.Time().Equal(stamp) {
		t.Errorf("stamp = %v, want %v", odom.Header.Stamp.Time(), stamp)
	}
}

func TestOdometry_FromROSJSON(t *testing.T) {
	raw := []byte(`{
		"type": "odometry",
		"ts": 1700000000000,
		"data": {
			"header": {"stamp": {"sec": 10, "nanosec": 5}, "frame_id": "odom"},
			"child_frame_id": "base_footprint",
			"pose": {"pose": {
				"position": {"x": 3, "y": 4, "z": 0},
				"orientation": {"x": 0, "y": 0, "z": 0.479425538604203, "w": 0.8775825618903728}
			}},
			"twist": {"twist": {
				"linear": {"x": 0.5, "y": 0, "z": 9},
				"angular": {"x": 7, "y": 8, "z": 0.25}
			}}
		}
	}`)

	odom, err := DecodeOdometry(raw)
	if err != nil {
		t.Fatalf("DecodeOdometry() error = %v", err)
	}

	pose := odom.Pose2D()
	if pose.X != 3 || pose.Y != 4 || math.Abs(pose.Theta-1.0) > 1e-9 {
		t.Errorf("Pose2D() = %+v, want (3, 4, 1.0)", pose)
	}
	if vel := odom.Velocity2D(); vel != (geometry.Velocity2D{VX: 0.5, Omega: 0.25}) {
		t.Errorf("Velocity2D() = %+v, want linear.x/y and angular.z only", vel)
	}
}

func TestTypedGetters_Mismatch(t *testing.T) {
	msg, _ := NewTwistMessage(geometry.Velocity2D{VX: 1})

	if _, err := msg.GetOdometry(); !errors.Is(err, ErrTypeMismatch) {
		t.Errorf("GetOdometry() on twist error = %v, want ErrTypeMismatch", err)
	}

	twist, err := msg.GetTwist()
	if err != nil {
		t.Fatalf("GetTwist() error = %v", err)
	}
	if twist.Linear.X != 1 {
		t.Errorf("Linear.X = %v, want 1", twist.Linear.X)
	}
}

func TestTypedGetters_NoData(t *testing.T) {
	msg := &Message{Type: TypeOdometry}
	if _, err := msg.GetOdometry(); !errors.Is(err, ErrNoData) {
		t.Errorf("GetOdometry() error = %v, want ErrNoData", err)
	}
}

func TestParseMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"empty", ""},
		{"not json", "hello"},
		{"truncated", `{"type": "odometry"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseMessage([]byte(tt.data)); err == nil {
				t.Error("ParseMessage() expected error")
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := []MessageType{TypeOdometry, TypeTwist, TypeTF, TypePose2D, TypeRobotState, TypePing, TypePong}
	for _, mt := range valid {
		msg := &Message{Type: mt}
		if err := msg.Validate(); err != nil {
			t.Errorf("Validate(%s) error = %v", mt, err)
		}
	}

	bad := &Message{Type: "frame"}
	if err := bad.Validate(); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Validate(frame) error = %v, want ErrUnknownType", err)
	}
}

func TestTFMessage(t *testing.T) {
	msg, err := NewTFMessage(TransformStamped{
		Header:       Header{FrameID: "odom"},
		ChildFrameID: "base_footprint",
		Transform:    geometry.Transform{Translation: geometry.Vector3{X: 1}, Rotation: geometry.IdentityQuaternion},
	})
	if err != nil {
		t.Fatalf("NewTFMessage() error = %v", err)
	}

	tfm, err := msg.GetTF()
	if err != nil {
		t.Fatalf("GetTF() error = %v", err)
	}
	if len(tfm.Transforms) != 1 || tfm.Transforms[0].ChildFrameID != "base_footprint" {
		t.Errorf("GetTF() = %+v", tfm)
	}
}

func TestPingPong(t *testing.T) {
	ping, _ := NewPingMessage(7)
	data, err := ping.GetPingData()
	if err != nil {
		t.Fatalf("GetPingData() error = %v", err)
	}
	if data.Seq != 7 {
		t.Errorf("Seq = %d, want 7", data.Seq)
	}

	pong, _ := NewPongMessage(7, 1000, 1025)
	pd, err := pong.GetPongData()
	if err != nil {
		t.Fatalf("GetPongData() error = %v", err)
	}
	if pd.LatencyMs != 25 {
		t.Errorf("LatencyMs = %d, want 25", pd.LatencyMs)
	}
}

func TestMessage_JSONFieldNames(t *testing.T) {
	msg, _ := NewMessageAt(TypePose2D, geometry.Pose2D{X: 1}, time.UnixMilli(42))
	raw, _ := msg.Bytes()

	var generic map[string]json.RawMessage
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	for _, key := range []string{"type", "ts", "data"} {
		if _, ok := generic[key]; !ok {
			t.Errorf("missing %q field in %s", key, raw)
		}
	}
}
