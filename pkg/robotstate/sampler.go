package robotstate

import (
	"log/slog"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
)

// Sinks are the three outputs of the sampler.
type Sinks struct {
	Pose     Sink
	Velocity Sink
	State    Sink

	// Topic names, for logs and metrics.
	PoseTopic     string
	VelocityTopic string
	StateTopic    string
}

// Sampler publishes the arbitration result once per tick.
type Sampler struct {
	arbiter  *Arbiter
	sinks    Sinks
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer
}

// NewSampler creates a sampler.
func NewSampler(arbiter *Arbiter, sinks Sinks, clk clock.Clock, logger *slog.Logger, observer Observer) *Sampler {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{
		arbiter:  arbiter,
		sinks:    sinks,
		clock:    clk,
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

// Tick resolves and publishes pose, velocity and state, in that order.
// With no result nothing is published. Messages are stamped with the clock,
// so an unchanged cache under a frozen clock yields identical bytes.
func (s *Sampler) Tick() (Estimate, bool) {
	est, ok := s.arbiter.Resolve()
	if !ok {
		s.observer.TickSkipped()
		return Estimate{}, false
	}

	now := s.clock.Now()
	outputs := []struct {
		sink    Sink
		topic   string
		msgType protocol.MessageType
		data    interface{}
	}{
		{s.sinks.Pose, s.sinks.PoseTopic, protocol.TypePose2D, est.State.Pose()},
		{s.sinks.Velocity, s.sinks.VelocityTopic, protocol.TypeTwist, protocol.VelocityToTwist(est.State.Velocity())},
		{s.sinks.State, s.sinks.StateTopic, protocol.TypeRobotState, est.State},
	}

	for _, out := range outputs {
		if out.sink == nil {
			continue
		}
		raw, err := protocol.Encode(out.msgType, out.data, now)
		if err != nil {
			s.logger.Error("failed to encode output", "topic", out.topic, "error", err)
			s.observer.PublishError(out.topic)
			continue
		}
		if err := out.sink.Put(raw); err != nil {
			s.logger.Debug("publish failed", "topic", out.topic, "error", err)
			s.observer.PublishError(out.topic)
		}
	}

	s.observer.TickPublished(est.Source)
	return est, true
}
