// odom-sim: Odometry and command driver for the robot-state service
// Drives a circle as real odometry, UI odometry or transforms, and can watch
// the arbitrated robot state come back.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/teslashibe/go-robotstate/internal/httpc"
	"github.com/teslashibe/go-robotstate/internal/log"
	"github.com/teslashibe/go-robotstate/pkg/geometry"
	"github.com/teslashibe/go-robotstate/pkg/protocol"
	"github.com/teslashibe/go-robotstate/pkg/robotstate"
	"github.com/teslashibe/go-robotstate/pkg/tf"
)

var (
	addr      = flag.String("addr", "localhost:8090", "robot-state gateway address")
	mode      = flag.String("mode", "ui", "Source to drive: real, ui, tf, cmd")
	transport = flag.String("transport", "ws", "Publish over ws or http")
	radius    = flag.Float64("radius", 1.0, "Circle radius (m)")
	speed     = flag.Float64("speed", 0.3, "Linear speed (m/s)")
	rate      = flag.Float64("rate", 20, "Publish rate (Hz)")
	duration  = flag.Duration("duration", 0, "Stop after this long (0 runs until interrupted)")
	watch     = flag.Bool("watch", false, "Print robot_state samples as they arrive")
	logLevel  = flag.String("log-level", "info", "Log level")
)

func main() {
	flag.Parse()
	log.Init(*logLevel)
	logger := log.With("tool", "odom-sim", "mode", *mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := run(ctx, logger); err != nil {
		logger.Error("odom-sim failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	topic, build, err := source(*mode)
	if err != nil {
		return err
	}
	if *rate <= 0 {
		return fmt.Errorf("rate must be positive, got %v", *rate)
	}

	out, err := openSender(topic)
	if err != nil {
		return err
	}
	defer out.Close()

	if *watch {
		w, err := dialTopic("ws://"+*addr, robotstate.TopicState, printState)
		if err != nil {
			return err
		}
		defer w.Close()
	}

	path := circle{radius: *radius, speed: *speed}
	ticker := time.NewTicker(time.Duration(float64(time.Second) / *rate))
	defer ticker.Stop()

	logger.Info("publishing", "topic", topic, "transport", *transport, "rate_hz", *rate)
	start := time.Now()
	var sent, failed int
	for {
		select {
		case <-ctx.Done():
			logger.Info("stopped", "sent", sent, "failed", failed)
			reportState(logger)
			return nil
		case now := <-ticker.C:
			payload, err := build(path, now.Sub(start), now)
			if err != nil {
				return err
			}
			if err := out.Send(payload); err != nil {
				failed++
				logger.Warn("publish failed", "error", err)
				continue
			}
			sent++
		}
	}
}

type buildFunc func(c circle, t time.Duration, now time.Time) ([]byte, error)

// source maps a mode to its topic and message builder.
func source(mode string) (string, buildFunc, error) {
	odometry := func(c circle, t time.Duration, now time.Time) ([]byte, error) {
		pose, vel := c.at(t)
		msg, err := protocol.NewOdometryMessage(robotstate.FrameOdom, robotstate.FrameBaseFootprint, pose, vel, now)
		if err != nil {
			return nil, err
		}
		return msg.Bytes()
	}

	switch mode {
	case "real":
		return robotstate.TopicRealOdom, odometry, nil
	case "ui":
		return robotstate.TopicInjectedOdom, odometry, nil
	case "tf":
		return tf.TopicTF, func(c circle, t time.Duration, now time.Time) ([]byte, error) {
			msg, err := protocol.NewTFMessage(c.transform(t, robotstate.FrameOdom, robotstate.FrameBaseFootprint, now))
			if err != nil {
				return nil, err
			}
			return msg.Bytes()
		}, nil
	case "cmd":
		return robotstate.TopicCommandIn, func(c circle, t time.Duration, _ time.Time) ([]byte, error) {
			_, vel := c.at(t)
			msg, err := protocol.NewTwistMessage(vel)
			if err != nil {
				return nil, err
			}
			return msg.Bytes()
		}, nil
	}
	return "", nil, fmt.Errorf("unknown mode %q (want real, ui, tf or cmd)", mode)
}

func openSender(topic string) (sender, error) {
	switch *transport {
	case "ws":
		return dialTopic("ws://"+*addr, topic, nil)
	case "http":
		return newHTTPSender("http://"+*addr, topic), nil
	}
	return nil, fmt.Errorf("unknown transport %q (want ws or http)", *transport)
}

func printState(data []byte) {
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return
	}
	st, err := msg.GetRobotState()
	if err != nil {
		return
	}
	fmt.Printf("state  x=%7.3f y=%7.3f θ=%6.3f  vx=%6.3f vy=%6.3f ω=%6.3f\n",
		st.X, st.Y, st.Theta, st.VX, st.VY, st.Omega)
}

// reportState prints the service's view of the arbitration after the run.
func reportState(logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var status struct {
		Source string               `json:"source"`
		State  *geometry.RobotState `json:"state"`
		Ticks  int64                `json:"ticks"`
	}
	if err := httpc.GetJSON(ctx, nil, "http://"+*addr+"/api/state", &status); err != nil {
		logger.Warn("state unavailable", "error", err)
		return
	}
	logger.Info("service state", "source", status.Source, "ticks", status.Ticks, "state", status.State)
}
