package stream

import (
	"context"
	"log/slog"
	"time"

	"blackbird-libvirtd/internal/model"
)

const finalFlushTimeout = 5 * time.Second

// Forwarder drains the queue into a Sink in batches.
type Forwarder struct {
	logger     *slog.Logger
	queue      *Queue
	sink       Sink
	batchSize  int
	flushEvery time.Duration
	backoff    time.Duration
	observe    func(sent int, err error)
}

func NewForwarder(logger *slog.Logger, queue *Queue, sink Sink, batchSize int, flushEvery, backoff time.Duration, observe func(int, error)) *Forwarder {
	if batchSize <= 0 {
		batchSize = 100
	}
	if flushEvery <= 0 {
		flushEvery = time.Second
	}
	return &Forwarder{
		logger:     logger,
		queue:      queue,
		sink:       sink,
		batchSize:  batchSize,
		flushEvery: flushEvery,
		backoff:    backoff,
		observe:    observe,
	}
}

// Run blocks until ctx is canceled, then makes one bounded attempt to flush
// whatever is still queued.
func (f *Forwarder) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.flushEvery)
	defer ticker.Stop()

	batch := make([]model.Record, 0, f.batchSize)
	for {
		select {
		case <-ctx.Done():
			f.finalFlush(batch)
			return nil
		case r := <-f.queue.C():
			batch = append(batch, r)
			if len(batch) >= f.batchSize {
				f.flush(ctx, batch, true)
				batch = make([]model.Record, 0, f.batchSize)
			}
		case <-ticker.C:
			if len(batch) > 0 {
				f.flush(ctx, batch, true)
				batch = make([]model.Record, 0, f.batchSize)
			}
		}
	}
}

func (f *Forwarder) finalFlush(batch []model.Record) {
drain:
	for {
		select {
		case r := <-f.queue.C():
			batch = append(batch, r)
		default:
			break drain
		}
	}
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushTimeout)
	defer cancel()
	f.flush(ctx, batch, false)
}

func (f *Forwarder) flush(ctx context.Context, batch []model.Record, backoff bool) {
	err := f.sink.SendRecords(ctx, batch)
	if f.observe != nil {
		f.observe(len(batch), err)
	}
	if err != nil {
		f.logger.Warn("record batch dropped", "records", len(batch), "error", err)
		if backoff {
			sleepWithContext(ctx, f.backoff)
		}
		return
	}
	f.logger.Debug("record batch sent", "records", len(batch))
}

func sleepWithContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
