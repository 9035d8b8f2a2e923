package agent

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus"

	"blackbird-libvirtd/internal/agent/version"
	"blackbird-libvirtd/internal/collector"
	"blackbird-libvirtd/internal/config"
	"blackbird-libvirtd/internal/system"
)

func newTestProbeServer(t *testing.T, health *HealthStatus) (*httptest.Server, *Metrics) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg, func() float64 { return 7 })
	cfg := config.Config{
		Hostname:     "kvm-01",
		Module:       "libvirtd",
		AgentVersion: "0.1.0",
		StreamMode:   config.StreamModeGRPC,
	}
	srv := httptest.NewServer(newProbeHandler(cfg, health, reg))
	t.Cleanup(srv.Close)
	return srv, m
}

func get(c *qt.C, url string) (int, string) {
	resp, err := http.Get(url)
	c.Assert(err, qt.IsNil)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	c.Assert(err, qt.IsNil)
	return resp.StatusCode, string(body)
}

func TestHealthzReflectsLastCycle(t *testing.T) {
	c := qt.New(t)
	health := NewHealthStatus()
	srv, _ := newTestProbeServer(t, health)

	code, _ := get(c, srv.URL+"/healthz")
	c.Assert(code, qt.Equals, http.StatusServiceUnavailable)

	health.SetLibvirtConnected(true)
	health.MarkCycle(time.Now(), "6.0.0")
	code, body := get(c, srv.URL+"/healthz")
	c.Assert(code, qt.Equals, http.StatusOK)
	c.Assert(body, qt.Contains, `"libvirt_connected":true`)
}

func TestVersionEndpoint(t *testing.T) {
	c := qt.New(t)
	health := NewHealthStatus()
	health.MarkCycle(time.Now(), "8.0.0")
	srv, _ := newTestProbeServer(t, health)

	code, body := get(c, srv.URL+"/version")
	c.Assert(code, qt.Equals, http.StatusOK)
	var got version.GetVersionResponse
	c.Assert(json.Unmarshal([]byte(body), &got), qt.IsNil)
	c.Assert(got.Hostname, qt.Equals, "kvm-01")
	c.Assert(got.LibvirtdVersion, qt.Equals, "8.0.0")
	c.Assert(got.StreamMode, qt.Equals, "grpc")
	if want, err := system.Describe(); err == nil {
		c.Check(got.Host, qt.DeepEquals, want)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	c := qt.New(t)
	srv, m := newTestProbeServer(t, NewHealthStatus())

	m.ObserveCycle(collector.Result{Pushed: 15, Dropped: 2, DaemonOK: true, VMCount: 3, Duration: 40 * time.Millisecond})
	m.ObserveCycle(collector.Result{Pushed: 3})
	m.ObserveSend(15, nil)
	m.ObserveSend(3, errors.New("backend down"))

	code, body := get(c, srv.URL+"/metrics")
	c.Assert(code, qt.Equals, http.StatusOK)
	for _, want := range []string{
		"blackbird_libvirtd_cycles_total 2",
		"blackbird_libvirtd_daemon_failures_total 1",
		"blackbird_libvirtd_records_queued_total 18",
		"blackbird_libvirtd_records_dropped_total 2",
		"blackbird_libvirtd_domains_active 3",
		`blackbird_libvirtd_batches_total{result="ok"} 1`,
		`blackbird_libvirtd_batches_total{result="error"} 1`,
		"blackbird_libvirtd_records_sent_total 15",
		"blackbird_libvirtd_queue_length 7",
		"blackbird_libvirtd_cycle_duration_seconds_count 2",
	} {
		c.Check(strings.Contains(body, want), qt.IsTrue, qt.Commentf("missing %q", want))
	}
}

func TestUnknownPathIsNotFound(t *testing.T) {
	c := qt.New(t)
	srv, _ := newTestProbeServer(t, NewHealthStatus())
	code, _ := get(c, srv.URL+"/nope")
	c.Assert(code, qt.Equals, http.StatusNotFound)
}
