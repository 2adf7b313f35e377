package robotstate

import (
	"log/slog"
)

// FeedbackGuard echoes injected odometry onto the shared odometry topic,
// but only while the real feed is stale.
//
// The real-odometry subscription on that topic must ignore the node's own
// publications, otherwise the echo would be read back as real odometry and
// keep itself fresh forever.
type FeedbackGuard struct {
	tracker  *Tracker
	out      Sink
	topic    string
	logger   *slog.Logger
	observer Observer
}

// NewFeedbackGuard creates a guard publishing to out.
func NewFeedbackGuard(tracker *Tracker, out Sink, topic string, logger *slog.Logger, observer Observer) *FeedbackGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackGuard{
		tracker:  tracker,
		out:      out,
		topic:    topic,
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

// ShouldRepublish reports whether injected samples may be echoed right now.
func (g *FeedbackGuard) ShouldRepublish() bool {
	return !g.tracker.Fresh(SourceReal)
}

// Consider echoes raw if the real source is stale and reports whether it did.
func (g *FeedbackGuard) Consider(raw []byte) bool {
	if !g.ShouldRepublish() {
		g.observer.InjectedSuppressed()
		return false
	}
	if err := g.out.Put(raw); err != nil {
		g.logger.Debug("injected republish failed", "topic", g.topic, "error", err)
		g.observer.PublishError(g.topic)
		return false
	}
	g.observer.InjectedRepublished()
	return true
}
