package robotstate

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/geometry"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
	"github.com/teslashibe/go-robotstate/pkg/tf"
)

type topicRecorder struct {
	mu      sync.Mutex
	samples map[string][][]byte
}

func (r *topicRecorder) handle(s bus.Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.samples == nil {
		r.samples = make(map[string][][]byte)
	}
	r.samples[s.Topic] = append(r.samples[s.Topic], s.Payload)
}

func (r *topicRecorder) get(topic string) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.samples[topic]...)
}

type nodeRig struct {
	bus    *bus.Bus
	mock   *clock.Mock
	node   *Node
	driver *bus.Session
	ui     *bus.Session
	seen   *topicRecorder
}

func startNode(t *testing.T, graph tf.Graph) *nodeRig {
	t.Helper()
	r := &nodeRig{
		bus:  bus.New(testLogger()),
		mock: clock.NewMock(epoch),
		seen: &topicRecorder{},
	}

	n, err := NewNode(DefaultConfig(), Deps{Bus: r.bus, Graph: graph, Clock: r.mock, Logger: testLogger()})
	require.NoError(t, err)
	r.node = n

	r.driver = r.bus.Join("driver")
	r.ui = r.bus.Join("ui")

	dash := r.bus.Join("dashboard")
	for _, topic := range []string{TopicRealOdom, TopicCommandOut, TopicPose, TopicVelocity, TopicState} {
		_, err := dash.Subscribe(topic, r.seen.handle)
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- n.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-done)
	})
	return r
}

func (r *nodeRig) publish(t *testing.T, s *bus.Session, topic string, payload []byte) {
	t.Helper()
	before := r.node.exec.Stats().Tasks
	require.NoError(t, s.Publish(topic, payload))
	require.Eventually(t, func() bool { return r.node.exec.Stats().Tasks > before }, time.Second, time.Millisecond)
}

func (r *nodeRig) tick(t *testing.T) Status {
	t.Helper()
	before := r.node.Status().Ticks
	r.mock.Advance(SamplePeriod)
	require.Eventually(t, func() bool { return r.node.Status().Ticks > before }, time.Second, time.Millisecond)
	return r.node.Status()
}

func odomBytes(t *testing.T, x, y, theta float64) []byte {
	t.Helper()
	return odomSample(t, x, y, theta, geometry.Velocity2D{}).Raw
}

func TestNode_InjectedEchoIsNotReadBackAsReal(t *testing.T) {
	r := startNode(t, nil)

	inj := odomBytes(t, 3, 4, 1.0)
	r.publish(t, r.ui, TopicInjectedOdom, inj)

	echoes := r.seen.get(TopicRealOdom)
	require.Len(t, echoes, 1, "injected sample is echoed while real is stale")
	assert.Equal(t, inj, echoes[0])

	st := r.tick(t)
	assert.Equal(t, SourceInjected, st.Source, "echo must not make the real source fresh")
	assert.False(t, st.RealFresh)
	assert.Equal(t, int64(1), st.Republished)
}

func TestNode_RealSuppressesEcho(t *testing.T) {
	r := startNode(t, nil)

	r.publish(t, r.driver, TopicRealOdom, odomBytes(t, 1, 2, 0.5))
	r.publish(t, r.ui, TopicInjectedOdom, odomBytes(t, 3, 4, 1.0))

	assert.Len(t, r.seen.get(TopicRealOdom), 1, "only the driver's own sample")

	st := r.tick(t)
	assert.Equal(t, SourceReal, st.Source)
	require.NotNil(t, st.State)
	assert.Equal(t, 1.0, st.State.X)
	assert.Equal(t, int64(1), st.Suppressed)

	states := r.seen.get(TopicState)
	require.Len(t, states, 1)
	msg, err := protocol.ParseMessage(states[0])
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeRobotState, msg.Type)
	assert.Len(t, r.seen.get(TopicPose), 1)
	assert.Len(t, r.seen.get(TopicVelocity), 1)
}

func TestNode_ForwardsCommands(t *testing.T) {
	r := startNode(t, nil)

	cmd := []byte(`{"type":"twist","data":{"linear":{"x":0.4},"angular":{"z":0.1}}}`)
	r.publish(t, r.ui, TopicCommandIn, cmd)

	assert.Equal(t, [][]byte{cmd}, r.seen.get(TopicCommandOut))
	st := r.tick(t)
	assert.Equal(t, int64(1), st.Forwarded)
}

func TestNode_DropsMalformedOdometry(t *testing.T) {
	r := startNode(t, nil)

	r.publish(t, r.driver, TopicRealOdom, []byte("{not json"))
	twist, err := protocol.NewTwistMessage(geometry.Velocity2D{VX: 1})
	require.NoError(t, err)
	raw, err := twist.Bytes()
	require.NoError(t, err)
	r.publish(t, r.ui, TopicInjectedOdom, raw)

	st := r.tick(t)
	assert.Equal(t, int64(2), st.DecodeErrors)
	assert.Equal(t, SourceNone, st.Source)
	assert.Nil(t, st.State)
	assert.Equal(t, int64(1), st.Skipped)
	assert.Empty(t, r.seen.get(TopicState))
}

func TestNode_FallsBackToTransform(t *testing.T) {
	buf := tf.NewBuffer(clock.NewMock(epoch), 0)
	require.NoError(t, buf.Set(tf.Stamped{
		Parent:    FrameOdom,
		Child:     FrameBaseFootprint,
		Transform: geometry.Transform{Translation: geometry.Vector3{X: 5}, Rotation: geometry.QuaternionFromYaw(0.3)},
	}, true))

	r := startNode(t, buf)
	r.publish(t, r.driver, TopicRealOdom, odomBytes(t, 1, 2, 0.5))

	st := r.tick(t)
	assert.Equal(t, SourceReal, st.Source)

	// Real goes stale; the next ticks fall back to the transform.
	for i := 0; i < 4; i++ {
		st = r.tick(t)
	}
	assert.Equal(t, SourceTransform, st.Source)
	require.NotNil(t, st.State)
	assert.Equal(t, 5.0, st.State.X)
	assert.Zero(t, st.State.VX)
}

func TestNode_StatusDuringOutage(t *testing.T) {
	r := startNode(t, nil)
	r.publish(t, r.driver, TopicRealOdom, odomBytes(t, 1, 2, 0.5))

	st := r.tick(t)
	assert.Equal(t, SourceReal, st.Source)
	require.NotNil(t, st.LastPublishedAt)
	assert.Equal(t, epoch.Add(SamplePeriod), *st.LastPublishedAt)

	// Ticks at 100 and 150 ms still publish; real is stale from 200 ms on.
	for i := 0; i < 4; i++ {
		st = r.tick(t)
	}
	assert.Equal(t, SourceNone, st.Source, "a skipped tick has no winning source")
	assert.Equal(t, int64(2), st.Skipped)
	require.NotNil(t, st.State)
	assert.Equal(t, 1.0, st.State.X)
	require.NotNil(t, st.LastPublishedAt)
	assert.Equal(t, epoch.Add(3*SamplePeriod), *st.LastPublishedAt)
	assert.True(t, st.UpdatedAt.After(*st.LastPublishedAt))
}

func TestNode_RejectsLoopingConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Topics.OdomOut = cfg.Topics.InjectedOdom
	_, err := NewNode(cfg, Deps{Bus: bus.New(testLogger())})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg = DefaultConfig()
	cfg.Topics.CommandOut = cfg.Topics.CommandIn
	_, err = NewNode(cfg, Deps{Bus: bus.New(testLogger())})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewNode(DefaultConfig(), Deps{})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
