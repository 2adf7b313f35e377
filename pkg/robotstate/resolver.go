package robotstate

import (
	"log/slog"
	"time"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/pkg/geometry"
	"github.com/teslashibe/go-robotstate/pkg/tf"
)

// Resolver derives a pose from the transform graph when no odometry is fresh.
type Resolver struct {
	graph    tf.Graph
	target   string
	source   string
	timeout  time.Duration
	warn     *throttle
	logger   *slog.Logger
	observer Observer

	checkFailures  int64
	lookupFailures int64
}

// NewResolver creates a resolver for target←source.
func NewResolver(graph tf.Graph, target, source string, clk clock.Clock, logger *slog.Logger, observer Observer) *Resolver {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		graph:    graph,
		target:   target,
		source:   source,
		timeout:  TransformTimeout,
		warn:     newThrottle(clk, WarnThrottle),
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

// Resolve returns the latest target←source pose. Any failure yields false;
// warnings for both failure kinds share one throttle.
func (r *Resolver) Resolve() (geometry.Pose2D, bool) {
	if r.graph == nil {
		return geometry.Pose2D{}, false
	}

	if !r.graph.CanTransform(r.target, r.source, r.timeout) {
		r.checkFailures++
		r.observer.TransformFailure(FailureCheck)
		if r.warn.Allow() {
			r.logger.Warn("transform not available",
				"target", r.target,
				"source", r.source,
				"timeout", r.timeout,
				"failures", r.checkFailures,
			)
		}
		return geometry.Pose2D{}, false
	}

	st, err := r.graph.LookupTransform(r.target, r.source)
	if err != nil {
		r.lookupFailures++
		r.observer.TransformFailure(FailureLookup)
		if r.warn.Allow() {
			r.logger.Warn("transform lookup failed",
				"target", r.target,
				"source", r.source,
				"error", err,
				"failures", r.lookupFailures,
			)
		}
		return geometry.Pose2D{}, false
	}

	return geometry.PoseFromTransform(st.Transform), true
}

// Failures returns the check and lookup failure counts.
func (r *Resolver) Failures() (check, lookup int64) {
	return r.checkFailures, r.lookupFailures
}
