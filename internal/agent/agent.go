package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"blackbird-libvirtd/internal/collector"
	"blackbird-libvirtd/internal/config"
	"blackbird-libvirtd/internal/libvirt"
	"blackbird-libvirtd/internal/model"
	"blackbird-libvirtd/internal/stream"
)

type Agent struct {
	cfg       config.Config
	logger    *slog.Logger
	scheduler *collector.Scheduler
	forwarder *stream.Forwarder
	queue     *stream.Queue
	sink      stream.Sink
	health    *HealthStatus
	registry  *prometheus.Registry
}

func New(cfg config.Config, logger *slog.Logger) (*Agent, error) {
	tlsCfg, err := cfg.TLSConfig()
	if err != nil {
		return nil, fmt.Errorf("tls config: %w", err)
	}

	sink, err := stream.NewSinkFromConfig(cfg, tlsCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("stream sink: %w", err)
	}

	dialer, err := libvirt.NewDialer(cfg.LibvirtSocket, cfg.LibvirtURI, cfg.DaemonTimeout, logger)
	if err != nil {
		_ = sink.Close(context.Background())
		return nil, fmt.Errorf("libvirt dialer: %w", err)
	}

	health := NewHealthStatus()
	queue := stream.NewQueue(cfg.QueueSize)
	registry := prometheus.NewRegistry()
	metrics := NewMetrics(registry, func() float64 { return float64(queue.Len()) })

	coll := collector.New(collector.Context{
		ExecutablePath: cfg.Path,
		Hostname:       cfg.Hostname,
		Module:         cfg.Module,
		ModuleVersion:  cfg.AgentVersion,
	}, dialer, queue, logger, collector.Options{
		VersionTimeout: cfg.VersionTimeout,
		DaemonTimeout:  cfg.DaemonTimeout,
	})

	wrappedSink := &healthSink{sink: sink, health: health}
	scheduler := collector.NewScheduler(logger, coll, cfg.Interval, cfg.CycleTimeout, func(res collector.Result) {
		health.SetLibvirtConnected(res.DaemonOK)
		health.MarkCycle(time.Now().UTC(), res.Version)
		metrics.ObserveCycle(res)
	})
	forwarder := stream.NewForwarder(logger, queue, wrappedSink, cfg.BatchSize, cfg.FlushInterval, cfg.SendBackoff, metrics.ObserveSend)

	return &Agent{
		cfg:       cfg,
		logger:    logger,
		scheduler: scheduler,
		forwarder: forwarder,
		queue:     queue,
		sink:      wrappedSink,
		health:    health,
		registry:  registry,
	}, nil
}

func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("starting blackbird-libvirtd",
		"hostname", a.cfg.Hostname,
		"module", a.cfg.Module,
		"libvirt_socket", a.cfg.LibvirtSocket,
		"stream_mode", a.cfg.StreamMode,
		"interval", a.cfg.Interval,
	)
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- a.run(runCtx)
	}()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case runErr = <-runErrCh:
		// Stopped on its own: startup error, runtime error or parent ctx canceled.
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received, starting graceful shutdown", "signal", sig.String(), "timeout", a.cfg.ShutdownTimeout)
		cancelRun()

		graceTimer := time.NewTimer(a.cfg.ShutdownTimeout)
		defer graceTimer.Stop()

		select {
		case runErr = <-runErrCh:
		case sig2 := <-sigCh:
			a.logger.Warn("second signal received, forcing immediate shutdown", "signal", sig2.String())
			runErr = context.Canceled
		case <-graceTimer.C:
			a.logger.Warn("graceful shutdown timeout reached, forcing shutdown", "timeout", a.cfg.ShutdownTimeout)
			runErr = context.DeadlineExceeded
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancelShutdown()
	a.shutdown(shutdownCtx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}
	a.logger.Info("blackbird-libvirtd stopped", "records_dropped", a.queue.Dropped())
	return nil
}

func BuildLogger(cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	hOpts := &slog.HandlerOptions{Level: level}
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(os.Stdout, hOpts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, hOpts))
}

type healthSink struct {
	sink   stream.Sink
	health *HealthStatus
}

func (s *healthSink) SendRecords(ctx context.Context, records []model.Record) error {
	err := s.sink.SendRecords(ctx, records)
	if err != nil {
		s.health.SetStreamConnected(false)
		return err
	}
	s.health.SetStreamConnected(true)
	s.health.MarkSend(time.Now().UTC())
	return nil
}

func (s *healthSink) Close(ctx context.Context) error {
	return s.sink.Close(ctx)
}
