package collector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"blackbird-libvirtd/internal/libvirt"
	"blackbird-libvirtd/internal/model"
)

// Context is the read-only per-agent collection context.
type Context struct {
	ExecutablePath string
	Hostname       string
	// Module namespaces every key, e.g. "libvirtd".
	Module        string
	ModuleVersion string
}

// Sink accepts records without blocking the collector.
type Sink interface {
	Push(r model.Record) error
}

// Daemon opens a read-only session to the virtualization daemon.
type Daemon interface {
	Open(ctx context.Context) (libvirt.Session, error)
}

// Result summarises one collection cycle.
type Result struct {
	CycleID  string
	Pushed   int
	Dropped  int
	Version  string
	DaemonOK bool
	VMCount  uint64
	Duration time.Duration
}

type Options struct {
	VersionTimeout time.Duration
	DaemonTimeout  time.Duration
	// Runner executes the version subprocess; nil uses exec.CommandContext.
	Runner Runner
	// Now defaults to time.Now.
	Now func() time.Time
}

type Collector struct {
	cctx    Context
	daemon  Daemon
	sink    Sink
	logger  *slog.Logger
	version *versionProbe
	timeout time.Duration
	now     func() time.Time
}

func New(cctx Context, daemon Daemon, sink Sink, logger *slog.Logger, opts Options) *Collector {
	if opts.DaemonTimeout <= 0 {
		opts.DaemonTimeout = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Collector{
		cctx:    cctx,
		daemon:  daemon,
		sink:    sink,
		logger:  logger,
		version: newVersionProbe(cctx.ExecutablePath, opts.VersionTimeout, opts.Runner, logger),
		timeout: opts.DaemonTimeout,
		now:     opts.Now,
	}
}

// Run performs one collection cycle: availability, version, then host and VM
// metrics. Failures stay inside their probe; Run itself never fails.
func (c *Collector) Run(ctx context.Context) Result {
	start := c.now()
	res := Result{CycleID: uuid.NewString()}
	logger := c.logger.With("cycle_id", res.CycleID)

	c.push(&res, logger, c.pingRecords()...)

	res.Version = c.version.Detect(ctx)
	c.push(&res, logger, c.record(model.Key(c.cctx.Module, "version"), res.Version))

	records, vmCount, err := c.probeDomains(ctx, logger)
	if err == nil {
		res.DaemonOK = true
		res.VMCount = vmCount
		c.push(&res, logger, records...)
	}

	res.Duration = c.now().Sub(start)
	logger.Debug("collection cycle finished",
		"pushed", res.Pushed,
		"dropped", res.Dropped,
		"daemon_ok", res.DaemonOK,
		"vm_count", res.VMCount,
		"duration", res.Duration,
	)
	return res
}

func (c *Collector) pingRecords() []model.Record {
	return []model.Record{
		c.record(model.Key("blackbird", c.cctx.Module, "ping"), 1),
		c.record(model.Key("blackbird", c.cctx.Module, "version"), c.cctx.ModuleVersion),
	}
}

func (c *Collector) record(key string, value any) model.Record {
	return model.NewRecord(key, value, c.cctx.Hostname, c.now())
}

func (c *Collector) push(res *Result, logger *slog.Logger, records ...model.Record) {
	for _, r := range records {
		if err := c.sink.Push(r); err != nil {
			res.Dropped++
			logger.Error("sink rejected record", "key", r.Key, "error", err)
			continue
		}
		res.Pushed++
		logger.Debug("inserted to queue", "key", r.Key, "value", r.Value)
	}
}

var errDaemonTimeout = errors.New("libvirt queries timed out")
