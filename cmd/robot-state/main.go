// robot-state: Robot state arbitration service
// Fuses real odometry, UI-injected odometry and the transform tree into one
// published robot state, and serves the topic bus over websocket.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-robotstate/internal/clock"
	"github.com/teslashibe/go-robotstate/internal/config"
	"github.com/teslashibe/go-robotstate/internal/log"
	"github.com/teslashibe/go-robotstate/pkg/bus"
	"github.com/teslashibe/go-robotstate/pkg/gateway"
	"github.com/teslashibe/go-robotstate/pkg/metrics"
	"github.com/teslashibe/go-robotstate/pkg/robotstate"
	"github.com/teslashibe/go-robotstate/pkg/tf"
)

var (
	version    = "1.0.0"
	configPath = flag.String("config", "", "Config file (.yaml or .toml), overrides "+config.EnvConfig)
	port       = flag.String("port", "", "HTTP server port")
	logLevel   = flag.String("log-level", "", "Log level: debug, info, warn, error")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "robot-state: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log.Init(cfg.LogLevel)
	logger := log.With("service", "robot-state", "version", version)

	b := bus.New(logger)
	defer b.Close()

	clk := clock.Real{}
	buffer := tf.NewBuffer(clk, cfg.TFCacheTime)
	listener, err := tf.NewListener(b, buffer, logger)
	if err != nil {
		return fmt.Errorf("tf listener: %w", err)
	}
	defer listener.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder, err := metrics.NewRecorder(reg)
	if err != nil {
		return err
	}
	if err := metrics.RegisterBus(reg, b); err != nil {
		return err
	}

	node, err := robotstate.NewNode(cfg.Node, robotstate.Deps{
		Bus:      b,
		Graph:    buffer,
		Clock:    clk,
		Logger:   logger,
		Observer: recorder,
	})
	if err != nil {
		return err
	}
	if err := metrics.RegisterNode(reg, node); err != nil {
		return err
	}

	gw := gateway.New(b, node, reg, logger)
	defer gw.Close()

	var opts []gateway.ServerOption
	if cfg.LogLevel == "debug" {
		opts = append(opts, gateway.WithRequestLog())
	}
	srv := gateway.NewServer(cfg.Port, gw, logger, opts...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return node.Run(ctx)
	})
	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("robot state service started",
		"port", cfg.Port,
		"websocket", "ws://localhost:"+cfg.Port+"/ws/topic?name="+cfg.Node.Topics.State,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func loadConfig() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err == nil {
			cfg.ApplyEnv()
		}
	} else {
		cfg, err = config.FromEnv()
	}
	if err != nil {
		return cfg, err
	}

	// Flags win over file and environment
	if *port != "" {
		cfg.Port = *port
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	return cfg, cfg.Validate()
}
