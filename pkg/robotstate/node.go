package robotstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/executor"
	"github.com/teslashibe/go-robotstate/pkg/geometry"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
	"github.com/teslashibe/go-robotstate/pkg/tf"
)

// ErrInvalidConfig is returned by NewNode for unusable topic or frame settings.
var ErrInvalidConfig = errors.New("robotstate: invalid config")

// Topics names every channel the node touches.
type Topics struct {
	RealOdom     string `yaml:"real_odom" toml:"real_odom"`
	InjectedOdom string `yaml:"injected_odom" toml:"injected_odom"`
	OdomOut      string `yaml:"odom_out" toml:"odom_out"` // echo target for injected odometry
	CommandIn    string `yaml:"command_in" toml:"command_in"`
	CommandOut   string `yaml:"command_out" toml:"command_out"`
	Pose         string `yaml:"pose" toml:"pose"`
	Velocity     string `yaml:"velocity" toml:"velocity"`
	State        string `yaml:"state" toml:"state"`
}

// DefaultTopics returns the standard topic layout.
func DefaultTopics() Topics {
	return Topics{
		RealOdom:     TopicRealOdom,
		InjectedOdom: TopicInjectedOdom,
		OdomOut:      TopicRealOdom,
		CommandIn:    TopicCommandIn,
		CommandOut:   TopicCommandOut,
		Pose:         TopicPose,
		Velocity:     TopicVelocity,
		State:        TopicState,
	}
}

// Frames names the fallback transform: Target←Source.
type Frames struct {
	Target string `yaml:"target" toml:"target"`
	Source string `yaml:"source" toml:"source"`
}

// DefaultFrames returns odom←base_footprint.
func DefaultFrames() Frames {
	return Frames{Target: FrameOdom, Source: FrameBaseFootprint}
}

// Config configures a Node.
type Config struct {
	Topics    Topics `yaml:"topics" toml:"topics"`
	Frames    Frames `yaml:"frames" toml:"frames"`
	QueueSize int    `yaml:"queue_size" toml:"queue_size"`
}

// DefaultConfig returns the standard node configuration.
func DefaultConfig() Config {
	return Config{
		Topics:    DefaultTopics(),
		Frames:    DefaultFrames(),
		QueueSize: executor.DefaultQueueSize,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	t := c.Topics
	named := map[string]string{
		"real_odom":     t.RealOdom,
		"injected_odom": t.InjectedOdom,
		"odom_out":      t.OdomOut,
		"command_in":    t.CommandIn,
		"command_out":   t.CommandOut,
		"pose":          t.Pose,
		"velocity":      t.Velocity,
		"state":         t.State,
		"frames.target": c.Frames.Target,
		"frames.source": c.Frames.Source,
	}
	for name, v := range named {
		if v == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidConfig, name)
		}
	}
	if t.OdomOut == t.InjectedOdom {
		return fmt.Errorf("%w: odom_out must differ from injected_odom", ErrInvalidConfig)
	}
	if t.CommandOut == t.CommandIn {
		return fmt.Errorf("%w: command_out must differ from command_in", ErrInvalidConfig)
	}
	if t.RealOdom == t.InjectedOdom {
		return fmt.Errorf("%w: real_odom and injected_odom must differ", ErrInvalidConfig)
	}
	return nil
}

// Deps are the collaborators of a Node.
type Deps struct {
	Bus      *bus.Bus
	Graph    tf.Graph // nil disables the transform fallback
	Clock    clock.Clock
	Logger   *slog.Logger
	Observer Observer
}

// Status is a point-in-time view of the node, safe to read from any goroutine.
// Source is the winner of the latest tick and is none when that tick was
// skipped. State is the last published state, stamped by LastPublishedAt.
type Status struct {
	Source          Source               `json:"source"`
	State           *geometry.RobotState `json:"state,omitempty"`
	LastPublishedAt *time.Time           `json:"last_published_at,omitempty"`
	UpdatedAt       time.Time            `json:"updated_at"`
	RealFresh       bool                 `json:"real_fresh"`
	InjectedFresh   bool                 `json:"injected_fresh"`

	Ticks          int64 `json:"ticks"`
	Published      int64 `json:"published"`
	Skipped        int64 `json:"skipped"`
	Republished    int64 `json:"republished"`
	Suppressed     int64 `json:"suppressed"`
	Forwarded      int64 `json:"forwarded"`
	DecodeErrors   int64 `json:"decode_errors"`
	CheckFailures  int64 `json:"transform_check_failures"`
	LookupFailures int64 `json:"transform_lookup_failures"`
	Dropped        int64 `json:"dropped"`
	Overruns       int64 `json:"overruns"`
}

// Node wires the arbitration engine to the bus. Input handlers only post
// work to a single executor; all engine state is touched from that
// executor's goroutine.
type Node struct {
	cfg      Config
	clock    clock.Clock
	logger   *slog.Logger
	observer Observer

	session  *bus.Session
	exec     *executor.Executor
	tracker  *Tracker
	guard    *FeedbackGuard
	bridge   *CommandBridge
	resolver *Resolver
	sampler  *Sampler

	// executor-owned
	ticks, published, skipped int64
	republished, suppressed   int64
	forwarded, decodeErrors   int64
	lastEstimate              Estimate
	lastPublishedAt           time.Time
	haveEstimate              bool
	lastTickPublished         bool

	dropWarn *throttle
	status   atomic.Pointer[Status]
}

// NewNode joins the bus and subscribes the node's inputs.
func NewNode(cfg Config, deps Deps) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Bus == nil {
		return nil, fmt.Errorf("%w: bus is required", ErrInvalidConfig)
	}
	clk := deps.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "robot_state")
	observer := observerOrNop(deps.Observer)

	n := &Node{
		cfg:      cfg,
		clock:    clk,
		logger:   logger,
		observer: observer,
		session:  deps.Bus.Join("robot_state"),
		exec:     executor.New(clk, cfg.QueueSize, logger),
		tracker:  NewTracker(clk),
		dropWarn: newThrottle(clk, WarnThrottle),
	}

	pubs := make(map[string]*bus.Publisher)
	for _, topic := range []string{cfg.Topics.OdomOut, cfg.Topics.CommandOut, cfg.Topics.Pose, cfg.Topics.Velocity, cfg.Topics.State} {
		pub, err := n.session.Publisher(topic)
		if err != nil {
			_ = n.session.Close()
			return nil, fmt.Errorf("failed to create publisher: %w", err)
		}
		pubs[topic] = pub
	}

	n.guard = NewFeedbackGuard(n.tracker, pubs[cfg.Topics.OdomOut], cfg.Topics.OdomOut, logger, countingObserver{n})
	n.bridge = NewCommandBridge(pubs[cfg.Topics.CommandOut], cfg.Topics.CommandOut, logger, countingObserver{n})

	var fallback Fallback
	if deps.Graph != nil {
		n.resolver = NewResolver(deps.Graph, cfg.Frames.Target, cfg.Frames.Source, clk, logger, observer)
		fallback = n.resolver
	}
	n.sampler = NewSampler(NewArbiter(n.tracker, fallback), Sinks{
		Pose:          pubs[cfg.Topics.Pose],
		Velocity:      pubs[cfg.Topics.Velocity],
		State:         pubs[cfg.Topics.State],
		PoseTopic:     cfg.Topics.Pose,
		VelocityTopic: cfg.Topics.Velocity,
		StateTopic:    cfg.Topics.State,
	}, clk, logger, observer)

	// The real odometry subscription always ignores our own publications:
	// the guard echoes injected samples onto OdomOut, which is normally the
	// same topic.
	subs := []struct {
		topic   string
		handler func([]byte)
		opts    []bus.SubscribeOption
	}{
		{cfg.Topics.RealOdom, n.onRealOdom, []bus.SubscribeOption{bus.IgnoreLocalPublications()}},
		{cfg.Topics.InjectedOdom, n.onInjectedOdom, nil},
		{cfg.Topics.CommandIn, n.onCommand, nil},
	}
	for _, s := range subs {
		handler := s.handler
		topic := s.topic
		_, err := n.session.Subscribe(topic, func(sample bus.Sample) {
			n.post(topic, func() { handler(sample.Payload) })
		}, s.opts...)
		if err != nil {
			_ = n.session.Close()
			return nil, fmt.Errorf("failed to subscribe: %w", err)
		}
	}

	n.publishStatus()
	logger.Info("robot state node ready",
		"real_odom", cfg.Topics.RealOdom,
		"injected_odom", cfg.Topics.InjectedOdom,
		"fallback", fallback != nil,
	)
	return n, nil
}

// post hands a task to the executor. Bus handlers must not block, so a full
// queue drops the sample.
func (n *Node) post(topic string, fn func()) {
	if err := n.exec.Post(fn); err != nil {
		if n.dropWarn.Allow() {
			n.logger.Warn("dropping input", "topic", topic, "error", err)
		}
	}
}

func (n *Node) onRealOdom(raw []byte) {
	odom, err := protocol.DecodeOdometry(raw)
	if err != nil {
		n.decodeFailed(n.cfg.Topics.RealOdom, err)
		return
	}
	n.tracker.Record(SourceReal, Sample{Odometry: *odom, Raw: raw})
}

func (n *Node) onInjectedOdom(raw []byte) {
	odom, err := protocol.DecodeOdometry(raw)
	if err != nil {
		n.decodeFailed(n.cfg.Topics.InjectedOdom, err)
		return
	}
	n.tracker.Record(SourceInjected, Sample{Odometry: *odom, Raw: raw})
	n.guard.Consider(raw)
}

func (n *Node) onCommand(raw []byte) {
	n.bridge.Forward(raw)
}

func (n *Node) decodeFailed(topic string, err error) {
	n.decodeErrors++
	n.observer.DecodeError(topic)
	n.logger.Debug("dropping malformed odometry", "topic", topic, "error", err)
}

func (n *Node) tick() {
	n.ticks++
	est, ok := n.sampler.Tick()
	n.lastTickPublished = ok
	if ok {
		n.published++
		n.lastEstimate = est
		n.lastPublishedAt = n.clock.Now()
		n.haveEstimate = true
	} else {
		n.skipped++
	}
	n.publishStatus()
}

func (n *Node) publishStatus() {
	st := &Status{
		Source:        SourceNone,
		UpdatedAt:     n.clock.Now(),
		RealFresh:     n.tracker.Fresh(SourceReal),
		InjectedFresh: n.tracker.Fresh(SourceInjected),
		Ticks:         n.ticks,
		Published:     n.published,
		Skipped:       n.skipped,
		Republished:   n.republished,
		Suppressed:    n.suppressed,
		Forwarded:     n.forwarded,
		DecodeErrors:  n.decodeErrors,
	}
	if n.haveEstimate {
		state := n.lastEstimate.State
		at := n.lastPublishedAt
		st.State = &state
		st.LastPublishedAt = &at
	}
	if n.lastTickPublished {
		st.Source = n.lastEstimate.Source
	}
	if n.resolver != nil {
		st.CheckFailures, st.LookupFailures = n.resolver.Failures()
	}
	es := n.exec.Stats()
	st.Dropped = es.Dropped
	st.Overruns = es.Overruns
	n.status.Store(st)
}

// Run drives the node until ctx is done, then leaves the bus.
func (n *Node) Run(ctx context.Context) error {
	defer n.session.Close()
	err := n.exec.Run(ctx, SamplePeriod, n.tick)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Status returns the latest snapshot.
func (n *Node) Status() Status {
	return *n.status.Load()
}

// countingObserver keeps the node's own counters in step with the guard and
// bridge before passing events on.
type countingObserver struct{ n *Node }

func (c countingObserver) TickPublished(s Source)    { c.n.observer.TickPublished(s) }
func (c countingObserver) TickSkipped()              { c.n.observer.TickSkipped() }
func (c countingObserver) TransformFailure(r string) { c.n.observer.TransformFailure(r) }
func (c countingObserver) DecodeError(t string)      { c.n.observer.DecodeError(t) }
func (c countingObserver) PublishError(t string)     { c.n.observer.PublishError(t) }

func (c countingObserver) InjectedRepublished() {
	c.n.republished++
	c.n.observer.InjectedRepublished()
}

func (c countingObserver) InjectedSuppressed() {
	c.n.suppressed++
	c.n.observer.InjectedSuppressed()
}

func (c countingObserver) CommandForwarded() {
	c.n.forwarded++
	c.n.observer.CommandForwarded()
}
