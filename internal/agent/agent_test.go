package agent

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"blackbird-libvirtd/internal/config"
	"blackbird-libvirtd/internal/model"
)

func testConfig() config.Config {
	return config.Config{
		Path:            "/usr/sbin/libvirtd",
		Hostname:        "kvm-01",
		Module:          "libvirtd",
		AgentVersion:    "0.1.0",
		LibvirtSocket:   "/nonexistent/libvirt-sock-ro",
		LibvirtURI:      "qemu:///system",
		ProbeListenAddr: "127.0.0.1:0",
		Interval:        time.Hour,
		CycleTimeout:    time.Second,
		VersionTimeout:  time.Second,
		DaemonTimeout:   time.Second,
		ShutdownTimeout: 5 * time.Second,
		QueueSize:       64,
		BatchSize:       10,
		FlushInterval:   10 * time.Millisecond,
		SendBackoff:     10 * time.Millisecond,
		StreamMode:      config.StreamModeRedis,
		RedisURL:        "redis://127.0.0.1:1/0",
		RedisKey:        "test",
		LogLevel:        "error",
	}
}

func TestNewRejectsBadLibvirtURI(t *testing.T) {
	c := qt.New(t)
	cfg := testConfig()
	cfg.LibvirtURI = "system"
	_, err := New(cfg, slog.New(slog.DiscardHandler))
	c.Assert(err, qt.ErrorMatches, "libvirt dialer: .*")
}

func TestNewRejectsUnknownStreamMode(t *testing.T) {
	c := qt.New(t)
	cfg := testConfig()
	cfg.StreamMode = "carrier-pigeon"
	_, err := New(cfg, slog.New(slog.DiscardHandler))
	c.Assert(err, qt.ErrorMatches, `stream sink: unsupported stream mode "carrier-pigeon"`)
}

func TestRunStopsWithParentContext(t *testing.T) {
	c := qt.New(t)
	a, err := New(testConfig(), slog.New(slog.DiscardHandler))
	c.Assert(err, qt.IsNil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for a.health.Snapshot()["last_cycle_at"] == nil {
		if time.Now().After(deadline) {
			c.Fatal("first cycle never completed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	// No daemon behind the socket.
	c.Assert(a.health.Ready(), qt.IsFalse)

	cancel()
	select {
	case err := <-done:
		c.Assert(err, qt.IsNil)
	case <-time.After(15 * time.Second):
		c.Fatal("agent did not stop")
	}
}

type stubSink struct{ err error }

func (s stubSink) SendRecords(context.Context, []model.Record) error { return s.err }
func (s stubSink) Close(context.Context) error                       { return nil }

func TestHealthSinkTracksStreamState(t *testing.T) {
	c := qt.New(t)
	h := NewHealthStatus()

	s := &healthSink{sink: stubSink{}, health: h}
	c.Assert(s.SendRecords(context.Background(), nil), qt.IsNil)
	c.Assert(h.Snapshot()["stream_connected"], qt.Equals, true)

	s = &healthSink{sink: stubSink{err: errors.New("down")}, health: h}
	c.Assert(s.SendRecords(context.Background(), nil), qt.ErrorMatches, "down")
	c.Assert(h.Snapshot()["stream_connected"], qt.Equals, false)
}

func TestBuildLoggerLevel(t *testing.T) {
	c := qt.New(t)
	cfg := testConfig()
	cfg.LogLevel = "warn"
	logger := BuildLogger(cfg)
	c.Assert(logger.Enabled(context.Background(), slog.LevelInfo), qt.IsFalse)
	c.Assert(logger.Enabled(context.Background(), slog.LevelWarn), qt.IsTrue)

	cfg.LogJSON = true
	cfg.LogLevel = "debug"
	_, isJSON := BuildLogger(cfg).Handler().(*slog.JSONHandler)
	c.Assert(isJSON, qt.IsTrue)
}
