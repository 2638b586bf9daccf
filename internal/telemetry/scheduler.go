package telemetry

import (
	"context"
	"time"
)

// scheduler runs fn on a cadence that can be reconfigured without tearing
// the loop down, so an interval change never leaks the previous timer or
// drops the tick at the boundary. A non-positive interval pauses the
// cadence until the next positive SetInterval.
type scheduler struct {
	fn      func(ctx context.Context)
	resets  chan time.Duration
	cancel  context.CancelFunc
	done    chan struct{}
	initial time.Duration
}

func newScheduler(interval time.Duration, fn func(ctx context.Context)) *scheduler {
	return &scheduler{
		fn:      fn,
		resets:  make(chan time.Duration, 4),
		done:    make(chan struct{}),
		initial: interval,
	}
}

func (s *scheduler) start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.run(ctx)
}

func (s *scheduler) run(ctx context.Context) {
	defer close(s.done)

	interval := s.initial
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	paused := interval <= 0
	if paused {
		ticker.Stop()
	} else {
		ticker.Reset(interval)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case d := <-s.resets:
			if d == interval {
				continue
			}
			interval = d
			if d <= 0 {
				ticker.Stop()
				paused = true
				continue
			}
			ticker.Reset(d)
			paused = false
		case <-ticker.C:
			if paused {
				continue
			}
			s.fn(ctx)
		}
	}
}

// setInterval reconfigures the cadence. Safe from any goroutine; a burst
// of changes collapses to the newest ones.
func (s *scheduler) setInterval(d time.Duration) {
	select {
	case s.resets <- d:
	case <-s.done:
	}
}

// stop cancels the loop and waits for it to exit so no timer leaks past
// teardown.
func (s *scheduler) stop() {
	if s.cancel != nil {
		s.cancel()
	}
	<-s.done
}
