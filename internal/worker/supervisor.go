package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"voicescribe/internal/jobs"
)

// Supervisor owns the single background polling loop. EnsureStarted is the
// only way to start it; repeated calls are no-ops, so exactly one loop runs
// per process no matter how many enqueues race.
type Supervisor struct {
	log     *slog.Logger
	worker  *Worker
	baseCtx context.Context

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSupervisor creates a stopped supervisor bound to the given base context.
func NewSupervisor(ctx context.Context, log *slog.Logger, w *Worker) *Supervisor {
	return &Supervisor{log: log, worker: w, baseCtx: ctx}
}

// EnsureStarted starts the polling loop if it is not already running.
func (s *Supervisor) EnsureStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.started = true
	go s.run(ctx)
	s.log.Info("worker started", "poll_interval", s.worker.cfg.PollInterval)
}

// Stop cancels the loop and waits for the in-flight job up to the deadline.
// A later EnsureStarted launches a fresh loop, unless the base context is
// already cancelled.
func (s *Supervisor) Stop(deadline time.Duration) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	exited := true
	if deadline <= 0 {
		<-done
	} else {
		timer := time.NewTimer(deadline)
		defer timer.Stop()
		select {
		case <-done:
		case <-timer.C:
			exited = false
			s.log.Warn("worker stop deadline reached; job may still be running")
		}
	}
	// Allow a restart only once the old loop is confirmed gone, so at most one
	// loop ever runs.
	if exited {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
	}
}

// run claims and processes one due job at a time, sleeping the poll interval
// when the queue is empty. A failed claim never kills the loop.
func (s *Supervisor) run(ctx context.Context) {
	defer close(s.done)
	for {
		if ctx.Err() != nil {
			s.log.Debug("worker stopping due to context cancellation")
			return
		}
		job, err := s.worker.store.ClaimNext(time.Now())
		switch {
		case errors.Is(err, jobs.ErrNoJob):
			s.sleep(ctx)
			continue
		case err != nil:
			s.log.Error("claim next job", "err", err)
			s.sleep(ctx)
			continue
		}
		s.worker.ProcessOne(ctx, job)
	}
}

func (s *Supervisor) sleep(ctx context.Context) {
	timer := time.NewTimer(s.worker.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
