package stream

import (
	"errors"
	"sync/atomic"

	"blackbird-libvirtd/internal/model"
)

var ErrQueueFull = errors.New("record queue is full")

// Queue is a bounded FIFO between the collector and the forwarder. Push never
// blocks; a full queue is reported to the caller instead.
type Queue struct {
	ch      chan model.Record
	dropped atomic.Uint64
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 1
	}
	return &Queue{ch: make(chan model.Record, size)}
}

func (q *Queue) Push(r model.Record) error {
	select {
	case q.ch <- r:
		return nil
	default:
		q.dropped.Add(1)
		return ErrQueueFull
	}
}

// C exposes the receive side for the forwarder.
func (q *Queue) C() <-chan model.Record {
	return q.ch
}

func (q *Queue) Len() int {
	return len(q.ch)
}

func (q *Queue) Cap() int {
	return cap(q.ch)
}

func (q *Queue) Dropped() uint64 {
	return q.dropped.Load()
}
