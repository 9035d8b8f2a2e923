package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"blackbird-libvirtd/internal/collector"
)

const metricsNamespace = "blackbird_libvirtd"

// Metrics are the agent's own counters, exposed on /metrics.
type Metrics struct {
	cycles         prometheus.Counter
	daemonFailures prometheus.Counter
	recordsPushed  prometheus.Counter
	recordsDropped prometheus.Counter
	cycleDuration  prometheus.Histogram
	vmCount        prometheus.Gauge
	batchesSent    *prometheus.CounterVec
	recordsSent    prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer, queueLen func() float64) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "cycles_total",
			Help: "Collection cycles run.",
		}),
		daemonFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "daemon_failures_total",
			Help: "Cycles in which the libvirt probe failed.",
		}),
		recordsPushed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "records_queued_total",
			Help: "Records accepted by the queue.",
		}),
		recordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "records_dropped_total",
			Help: "Records rejected because the queue was full.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "cycle_duration_seconds",
			Help:    "Duration of collection cycles.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		vmCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "domains_active",
			Help: "Active domains seen in the last successful cycle.",
		}),
		batchesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "batches_total",
			Help: "Record batches handed to the transport, by result.",
		}, []string{"result"}),
		recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "records_sent_total",
			Help: "Records delivered to the transport.",
		}),
	}
	reg.MustRegister(
		m.cycles, m.daemonFailures, m.recordsPushed, m.recordsDropped,
		m.cycleDuration, m.vmCount, m.batchesSent, m.recordsSent,
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "queue_length",
			Help: "Records waiting in the queue.",
		}, queueLen),
		collectors.NewGoCollector(),
	)
	return m
}

func (m *Metrics) ObserveCycle(res collector.Result) {
	m.cycles.Inc()
	m.recordsPushed.Add(float64(res.Pushed))
	m.recordsDropped.Add(float64(res.Dropped))
	m.cycleDuration.Observe(res.Duration.Seconds())
	if !res.DaemonOK {
		m.daemonFailures.Inc()
		return
	}
	m.vmCount.Set(float64(res.VMCount))
}

func (m *Metrics) ObserveSend(n int, err error) {
	if err != nil {
		m.batchesSent.WithLabelValues("error").Inc()
		return
	}
	m.batchesSent.WithLabelValues("ok").Inc()
	m.recordsSent.Add(float64(n))
}
