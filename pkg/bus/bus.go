// Package bus is an in-process topic bus standing in for the robot
// middleware. Participants join as sessions with their own identity so a
// subscriber can opt out of samples its own session published.
//
// Delivery is synchronous on the publisher's goroutine, in publish order
// per topic, with no buffering and no retries. Handlers must return quickly
// and hand work off (for example to an executor) instead of blocking.
package bus

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned when using a closed bus, session or publisher.
	ErrClosed = errors.New("bus: closed")

	// ErrEmptyTopic is returned for an empty topic name.
	ErrEmptyTopic = errors.New("bus: topic is required")

	// ErrNilHandler is returned when subscribing without a handler.
	ErrNilHandler = errors.New("bus: handler is required")
)

// Sample is one published payload as seen by a subscriber.
type Sample struct {
	Topic   string
	Payload []byte
	Origin  uuid.UUID // session that published it
}

// Handler receives samples for a subscription.
type Handler func(Sample)

// Bus routes samples between sessions.
type Bus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	subs     map[string][]*Subscriber
	pubCount map[string]int
	closed   bool

	// Stats
	published  atomic.Int64
	delivered  atomic.Int64
	suppressed atomic.Int64
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:   logger.With("component", "bus"),
		subs:     make(map[string][]*Subscriber),
		pubCount: make(map[string]int),
	}
}

// Join creates a new session. The name is only used for logs and listings.
func (b *Bus) Join(name string) *Session {
	s := &Session{
		id:         uuid.New(),
		name:       name,
		bus:        b,
		publishers: make(map[string]*Publisher),
	}
	b.logger.Debug("session joined", "session", name, "id", s.id)
	return s
}

func (b *Bus) addSubscriber(sub *Subscriber) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.subs[sub.topic] = append(b.subs[sub.topic], sub)
	return nil
}

func (b *Bus) removeSubscriber(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			b.subs[sub.topic] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.topic]) == 0 {
		delete(b.subs, sub.topic)
	}
}

func (b *Bus) addPublisher(topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.pubCount[topic]++
	return nil
}

func (b *Bus) removePublisher(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pubCount[topic]--; b.pubCount[topic] <= 0 {
		delete(b.pubCount, topic)
	}
}

// dispatch delivers a sample to every live subscriber of its topic.
func (b *Bus) dispatch(sample Sample) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := append([]*Subscriber(nil), b.subs[sample.Topic]...)
	b.mu.RUnlock()

	b.published.Add(1)

	for _, sub := range subs {
		if sub.closed.Load() {
			continue
		}
		if sub.ignoreLocal && sub.session.id == sample.Origin {
			b.suppressed.Add(1)
			sub.suppressed.Add(1)
			continue
		}
		sub.received.Add(1)
		b.delivered.Add(1)
		sub.handler(sample)
	}
	return nil
}

// TopicInfo describes one topic for listings.
type TopicInfo struct {
	Name        string `json:"name"`
	Publishers  int    `json:"publishers"`
	Subscribers int    `json:"subscribers"`
}

// Topics lists every topic with at least one publisher or subscriber, sorted by name.
func (b *Bus) Topics() []TopicInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make(map[string]struct{}, len(b.subs)+len(b.pubCount))
	for name := range b.subs {
		names[name] = struct{}{}
	}
	for name := range b.pubCount {
		names[name] = struct{}{}
	}

	infos := make([]TopicInfo, 0, len(names))
	for name := range names {
		infos = append(infos, TopicInfo{
			Name:        name,
			Publishers:  b.pubCount[name],
			Subscribers: len(b.subs[name]),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Close stops all delivery. Later publishes and subscribes fail with ErrClosed.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, list := range b.subs {
		for _, sub := range list {
			sub.closed.Store(true)
		}
	}
	b.subs = make(map[string][]*Subscriber)
	b.logger.Info("bus closed")
	return nil
}

// Stats returns bus counters.
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	topics := len(b.subs)
	b.mu.RUnlock()

	return Stats{
		Topics:     topics,
		Published:  b.published.Load(),
		Delivered:  b.delivered.Load(),
		Suppressed: b.suppressed.Load(),
	}
}

// Stats contains bus statistics.
type Stats struct {
	Topics     int   `json:"topics"`
	Published  int64 `json:"published"`
	Delivered  int64 `json:"delivered"`
	Suppressed int64 `json:"suppressed"`
}

// Session is one bus participant.
type Session struct {
	id   uuid.UUID
	name string
	bus  *Bus

	mu          sync.Mutex
	publishers  map[string]*Publisher
	subscribers []*Subscriber
	closed      bool
}

// ID returns the session identity stamped on every sample it publishes.
func (s *Session) ID() uuid.UUID { return s.id }

// Name returns the session name.
func (s *Session) Name() string { return s.name }

// Publisher returns the session's publisher for topic, creating it on first use.
func (s *Session) Publisher(topic string) (*Publisher, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if pub, ok := s.publishers[topic]; ok {
		return pub, nil
	}
	if err := s.bus.addPublisher(topic); err != nil {
		return nil, err
	}

	pub := &Publisher{session: s, topic: topic}
	s.publishers[topic] = pub
	return pub, nil
}

// Publish sends payload on topic from this session.
func (s *Session) Publish(topic string, payload []byte) error {
	pub, err := s.Publisher(topic)
	if err != nil {
		return err
	}
	return pub.Put(payload)
}

// SubscribeOption configures a subscription.
type SubscribeOption func(*Subscriber)

// IgnoreLocalPublications drops samples published by the subscribing session.
// Any subscriber that re-publishes onto its own topic needs this to avoid
// consuming its own output.
func IgnoreLocalPublications() SubscribeOption {
	return func(s *Subscriber) { s.ignoreLocal = true }
}

// Subscribe registers handler for samples on topic.
func (s *Session) Subscribe(topic string, handler Handler, opts ...SubscribeOption) (*Subscriber, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	sub := &Subscriber{session: s, topic: topic, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}

	if err := s.bus.addSubscriber(sub); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", topic, err)
	}
	s.subscribers = append(s.subscribers, sub)

	s.bus.logger.Debug("subscribed",
		"session", s.name,
		"topic", topic,
		"ignore_local", sub.ignoreLocal,
	)
	return sub, nil
}

// Close removes every publisher and subscriber of the session.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	for _, sub := range s.subscribers {
		sub.close()
	}
	s.subscribers = nil

	for topic, pub := range s.publishers {
		pub.closed.Store(true)
		s.bus.removePublisher(topic)
	}
	s.publishers = nil

	s.bus.logger.Debug("session left", "session", s.name, "id", s.id)
	return nil
}

// Publisher publishes on one topic for one session.
type Publisher struct {
	session *Session
	topic   string
	closed  atomic.Bool
	sent    atomic.Int64
}

// Topic returns the publisher's topic.
func (p *Publisher) Topic() string { return p.topic }

// Put publishes payload. The payload must not be modified afterwards.
func (p *Publisher) Put(payload []byte) error {
	if p.closed.Load() {
		return ErrClosed
	}
	err := p.session.bus.dispatch(Sample{
		Topic:   p.topic,
		Payload: payload,
		Origin:  p.session.id,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", p.topic, err)
	}
	p.sent.Add(1)
	return nil
}

// Sent returns how many samples this publisher has put.
func (p *Publisher) Sent() int64 { return p.sent.Load() }

// Subscriber is a live subscription.
type Subscriber struct {
	session     *Session
	topic       string
	handler     Handler
	ignoreLocal bool
	closed      atomic.Bool

	received   atomic.Int64
	suppressed atomic.Int64
}

// Topic returns the subscribed topic.
func (s *Subscriber) Topic() string { return s.topic }

// Received returns how many samples were delivered to the handler.
func (s *Subscriber) Received() int64 { return s.received.Load() }

// Suppressed returns how many self-published samples were dropped.
func (s *Subscriber) Suppressed() int64 { return s.suppressed.Load() }

// Close stops delivery to this subscriber.
func (s *Subscriber) Close() error {
	s.session.mu.Lock()
	defer s.session.mu.Unlock()

	for i, sub := range s.session.subscribers {
		if sub == s {
			s.session.subscribers = append(s.session.subscribers[:i:i], s.session.subscribers[i+1:]...)
			break
		}
	}
	s.close()
	return nil
}

func (s *Subscriber) close() {
	if s.closed.Swap(true) {
		return
	}
	s.session.bus.removeSubscriber(s)
}
