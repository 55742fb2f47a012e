package services

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const schedulerErrorCooldown = 10 * time.Second

// Scheduler runs the periodic capture loop. Start/stop are cooperative: the
// loop re-reads the running flag at the top of every iteration, so an
// in-flight capture finishes before a stop takes effect.
type Scheduler struct {
	settings *SettingsStore
	acquirer *Acquirer
	log      *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(settings *SettingsStore, acquirer *Acquirer, log *zap.Logger) *Scheduler {
	return &Scheduler{
		settings: settings,
		acquirer: acquirer,
		log:      log,
	}
}

// Start spawns the capture loop unless one is already live. Returns false
// when a loop is already running; it never spawns a second one.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.log.Info("capture loop already running")
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.settings.SetRunning(true)

	go s.loop(ctx, s.done)
	s.log.Info("capture loop started")
	return true
}

// Stop requests the loop to exit. The loop observes the flag at its next
// iteration boundary; sleeps are interrupted immediately.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.SetRunning(false)
	if !s.running {
		return true
	}
	s.cancel()
	s.running = false
	s.log.Info("capture loop stop requested")
	return true
}

// StopWait stops the loop and waits for it to finish, up to the timeout.
func (s *Scheduler) StopWait(timeout time.Duration) bool {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	s.Stop()
	if done == nil {
		return true
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		s.log.Warn("capture loop did not stop in time")
		return false
	}
}

// Running reports whether a loop is currently live.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		snap := s.settings.Snapshot()
		if !snap.Running || ctx.Err() != nil {
			s.log.Info("capture loop stopped")
			return
		}

		if snap.IntervalSec > 0 {
			if !s.captureOnce(ctx) {
				// A panic escaped the acquirer; cool down before retrying.
				if !sleepCtx(ctx, schedulerErrorCooldown) {
					continue
				}
			}
		}

		interval := time.Duration(snap.IntervalSec) * time.Second
		if interval <= 0 {
			// Non-positive interval pauses capturing but must not busy-spin.
			interval = time.Second
		}
		sleepCtx(ctx, interval)
	}
}

// captureOnce shields the loop from anything escaping the acquirer. Returns
// false only when a panic was recovered; a plain failed capture is a normal
// outcome already logged downstream.
func (s *Scheduler) captureOnce(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("capture attempt panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	success := s.acquirer.CaptureFrame(ctx)
	s.log.Debug("periodic capture finished", zap.Bool("success", success))
	return true
}
