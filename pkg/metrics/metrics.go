// Package metrics exposes the engine, bus and executor counters to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/robotstate"
)

const namespace = "robot_state"

// Recorder implements robotstate.Observer on Prometheus collectors.
type Recorder struct {
	ticks            *prometheus.CounterVec
	skipped          prometheus.Counter
	republished      prometheus.Counter
	suppressed       prometheus.Counter
	forwarded        prometheus.Counter
	transformFailure *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	publishErrors    *prometheus.CounterVec
}

var _ robotstate.Observer = (*Recorder)(nil)

// NewRecorder creates the engine collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) (*Recorder, error) {
	r := &Recorder{
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "ticks_published_total",
			Help:      "Ticks that published a state, by winning source.",
		}, []string{"source"}),
		skipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sampler",
			Name:      "ticks_skipped_total",
			Help:      "Ticks with no usable source.",
		}),
		republished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "injected_republished_total",
			Help:      "Injected odometry samples echoed onto the odometry topic.",
		}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "guard",
			Name:      "injected_suppressed_total",
			Help:      "Injected odometry samples not echoed because real odometry was fresh.",
		}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bridge",
			Name:      "commands_forwarded_total",
			Help:      "Velocity commands forwarded to the robot.",
		}),
		transformFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "transform_failures_total",
			Help:      "Transform fallback failures, by reason.",
		}, []string{"reason"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "decode_errors_total",
			Help:      "Malformed input payloads, by topic.",
		}, []string{"topic"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "node",
			Name:      "publish_errors_total",
			Help:      "Failed publishes, by topic.",
		}, []string{"topic"}),
	}

	for _, c := range []prometheus.Collector{
		r.ticks, r.skipped, r.republished, r.suppressed, r.forwarded,
		r.transformFailure, r.decodeErrors, r.publishErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	// Pre-create the label sets that should read 0 rather than be absent.
	for _, s := range []robotstate.Source{robotstate.SourceReal, robotstate.SourceInjected, robotstate.SourceTransform} {
		r.ticks.WithLabelValues(s.String())
	}
	r.transformFailure.WithLabelValues(robotstate.FailureCheck)
	r.transformFailure.WithLabelValues(robotstate.FailureLookup)

	return r, nil
}

func (r *Recorder) TickPublished(s robotstate.Source) { r.ticks.WithLabelValues(s.String()).Inc() }
func (r *Recorder) TickSkipped()                      { r.skipped.Inc() }
func (r *Recorder) InjectedRepublished()              { r.republished.Inc() }
func (r *Recorder) InjectedSuppressed()               { r.suppressed.Inc() }
func (r *Recorder) CommandForwarded()                 { r.forwarded.Inc() }

func (r *Recorder) TransformFailure(reason string) {
	r.transformFailure.WithLabelValues(reason).Inc()
}

func (r *Recorder) DecodeError(topic string) {
	r.decodeErrors.WithLabelValues(topic).Inc()
}

func (r *Recorder) PublishError(topic string) {
	r.publishErrors.WithLabelValues(topic).Inc()
}

// RegisterBus exposes the bus counters, read on every scrape.
func RegisterBus(reg prometheus.Registerer, b *bus.Bus) error {
	stat := func(pick func(bus.Stats) float64) func() float64 {
		return func() float64 { return pick(b.Stats()) }
	}
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "published_total",
			Help: "Samples published on the bus.",
		}, stat(func(s bus.Stats) float64 { return float64(s.Published) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "delivered_total",
			Help: "Samples delivered to subscribers.",
		}, stat(func(s bus.Stats) float64 { return float64(s.Delivered) })),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "bus", Name: "suppressed_total",
			Help: "Samples dropped by self-publication exclusion.",
		}, stat(func(s bus.Stats) float64 { return float64(s.Suppressed) })),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "bus", Name: "topics",
			Help: "Topics with at least one subscriber.",
		}, stat(func(s bus.Stats) float64 { return float64(s.Topics) })),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RegisterNode exposes executor health taken from the node status.
func RegisterNode(reg prometheus.Registerer, n *robotstate.Node) error {
	collectors := []prometheus.Collector{
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "executor", Name: "dropped_total",
			Help: "Input tasks dropped because the queue was full.",
		}, func() float64 { return float64(n.Status().Dropped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "executor", Name: "overruns_total",
			Help: "Ticks that took longer than the sample period.",
		}, func() float64 { return float64(n.Status().Overruns) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "node", Name: "real_fresh",
			Help: "1 while real odometry is fresh.",
		}, func() float64 { return boolGauge(n.Status().RealFresh) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "node", Name: "injected_fresh",
			Help: "1 while injected odometry is fresh.",
		}, func() float64 { return boolGauge(n.Status().InjectedFresh) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
