package tf

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
)

// Default topics carrying transforms.
const (
	TopicTF       = "/tf"
	TopicTFStatic = "/tf_static"
)

// Listener feeds a Buffer from the transform topics on the bus.
type Listener struct {
	buffer  *Buffer
	session *bus.Session
	logger  *slog.Logger

	applied  atomic.Int64
	rejected atomic.Int64
}

// NewListener joins the bus and subscribes to TopicTF and TopicTFStatic.
func NewListener(b *bus.Bus, buffer *Buffer, logger *slog.Logger) (*Listener, error) {
	if b == nil || buffer == nil {
		return nil, errors.New("tf: bus and buffer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Listener{
		buffer:  buffer,
		session: b.Join("tf_listener"),
		logger:  logger.With("component", "tf_listener"),
	}

	subs := []struct {
		topic  string
		static bool
	}{
		{TopicTF, false},
		{TopicTFStatic, true},
	}
	for _, s := range subs {
		static := s.static
		if _, err := l.session.Subscribe(s.topic, func(sample bus.Sample) {
			l.handle(sample.Payload, static)
		}); err != nil {
			_ = l.session.Close()
			return nil, fmt.Errorf("tf listener: %w", err)
		}
	}
	return l, nil
}

func (l *Listener) handle(payload []byte, static bool) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil {
		l.rejected.Add(1)
		l.logger.Debug("dropping malformed tf payload", "error", err)
		return
	}
	tfm, err := msg.GetTF()
	if err != nil {
		l.rejected.Add(1)
		l.logger.Debug("dropping non-tf message", "type", msg.Type, "error", err)
		return
	}

	for _, ts := range tfm.Transforms {
		err := l.buffer.Set(Stamped{
			Parent:    ts.Header.FrameID,
			Child:     ts.ChildFrameID,
			Stamp:     ts.Header.Stamp.Time(),
			Transform: ts.Transform,
		}, static)
		if err != nil {
			l.rejected.Add(1)
			l.logger.Debug("rejected transform", "error", err)
			continue
		}
		l.applied.Add(1)
	}
}

// Applied returns how many transforms were stored.
func (l *Listener) Applied() int64 { return l.applied.Load() }

// Rejected returns how many payloads or transforms were dropped.
func (l *Listener) Rejected() int64 { return l.rejected.Load() }

// Close leaves the bus.
func (l *Listener) Close() error {
	return l.session.Close()
}
