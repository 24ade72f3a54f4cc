package app

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"sentinal/internal/model"
)

// Scheduler runs a sync cycle on a timer. Gateway failures back off
// exponentially up to maxDelay; a lost credential stops the loop.
type Scheduler struct {
	run      func(ctx context.Context) error
	timeout  time.Duration
	maxDelay time.Duration

	mu       sync.Mutex
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewScheduler(run func(ctx context.Context) error, interval, timeout, maxDelay time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if maxDelay < interval {
		maxDelay = interval
	}
	return &Scheduler{run: run, interval: interval, timeout: timeout, maxDelay: maxDelay}
}

// Start launches the loop. The first cycle runs immediately. Starting a running
// scheduler does nothing.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel, s.done = cancel, done
	interval := s.interval
	log.Printf("[Scheduler] starting auto-sync (interval: %s)", interval)
	go func() {
		defer close(done)
		s.loop(ctx, interval, done)
	}()
}

// Stop cancels the loop without waiting for an in-flight cycle, so it is safe
// to call from inside one.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	log.Println("[Scheduler] auto-sync stopped")
}

// stopOwn stops the scheduler only if the loop identified by done is still the current one.
func (s *Scheduler) stopOwn(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != done || s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
}

// Close stops the loop and waits for it to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	s.Stop()
	if done != nil {
		<-done
	}
}

// Reschedule changes the interval, restarting the loop if it was running.
func (s *Scheduler) Reschedule(interval time.Duration) {
	s.mu.Lock()
	running := s.cancel != nil
	if interval > 0 {
		s.interval = interval
		if s.maxDelay < interval {
			s.maxDelay = interval
		}
	}
	s.mu.Unlock()
	if running {
		s.Stop()
		s.Start()
	}
}

func (s *Scheduler) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, done chan struct{}) {
	failures := 0
	for {
		err := s.cycle(ctx)
		if ctx.Err() != nil {
			return
		}
		switch {
		case err == nil:
			failures = 0
		case errors.Is(err, model.ErrCredentialExpired), errors.Is(err, model.ErrCredentialMissing):
			log.Printf("[Scheduler] credential unavailable, stopping: %v", err)
			s.stopOwn(done)
			return
		case errors.Is(err, ErrSyncInProgress):
			// A manual sync is running; try again on the normal schedule.
		default:
			failures++
			log.Printf("[Scheduler] sync failed (attempt %d): %v", failures, err)
		}
		if waitWithContext(ctx, backoffDelay(interval, s.maxDelay, failures)) != nil {
			return
		}
	}
}

func (s *Scheduler) cycle(ctx context.Context) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	return s.run(ctx)
}

// backoffDelay doubles base once per consecutive failure, capped at maxDelay.
func backoffDelay(base, maxDelay time.Duration, failures int) time.Duration {
	delay := base
	for i := 0; i < failures; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

func waitWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
