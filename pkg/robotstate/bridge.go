package robotstate

import (
	"log/slog"
)

// CommandBridge forwards velocity commands verbatim to the robot.
type CommandBridge struct {
	out      Sink
	topic    string
	logger   *slog.Logger
	observer Observer
}

// NewCommandBridge creates a bridge writing to out. topic is only used in logs.
func NewCommandBridge(out Sink, topic string, logger *slog.Logger, observer Observer) *CommandBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandBridge{
		out:      out,
		topic:    topic,
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

// Forward publishes payload once. Failures are logged and dropped.
func (b *CommandBridge) Forward(payload []byte) {
	if err := b.out.Put(payload); err != nil {
		b.logger.Debug("command forward failed", "topic", b.topic, "error", err)
		b.observer.PublishError(b.topic)
		return
	}
	b.observer.CommandForwarded()
}
