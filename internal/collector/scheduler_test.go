package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
	"go.uber.org/goleak"
)

type countingCycle struct {
	mu       sync.Mutex
	runs     int
	deadline bool
}

func (c *countingCycle) Run(ctx context.Context) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.runs++
	_, c.deadline = ctx.Deadline()
	return Result{DaemonOK: true}
}

func (c *countingCycle) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func TestSchedulerRunsImmediatelyAndOnInterval(t *testing.T) {
	defer goleak.VerifyNone(t)
	c := qt.New(t)

	job := &countingCycle{}
	results := make(chan Result, 16)
	s := NewScheduler(discardLogger(), job, 20*time.Millisecond, time.Second, func(r Result) {
		select {
		case results <- r:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	for i := 0; i < 3; i++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			c.Fatalf("cycle %d not observed", i)
		}
	}
	cancel()
	c.Assert(<-done, qt.IsNil)
	c.Check(job.count() >= 3, qt.IsTrue)
	job.mu.Lock()
	c.Check(job.deadline, qt.IsTrue)
	job.mu.Unlock()
}

func TestSchedulerClampsTimeoutToInterval(t *testing.T) {
	c := qt.New(t)
	s := NewScheduler(discardLogger(), &countingCycle{}, time.Second, time.Minute, nil)
	c.Assert(s.timeout, qt.Equals, time.Second)
}
