package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// TickFunc runs one pass of the import pipeline
type TickFunc func(ctx context.Context) error

// Scheduler runs the pipeline tick periodically as a safety net for missed
// dispatch notifications. The database stays the source of truth; the
// scheduler holds no work state.
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	interval  time.Duration
	tick      TickFunc
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	isRunning bool
	lastErr   error
	lastTick  time.Time
	mu        sync.RWMutex
}

// NewScheduler creates a scheduler ticking every intervalSeconds
func NewScheduler(intervalSeconds int, tick TickFunc) *Scheduler {
	if intervalSeconds <= 0 {
		intervalSeconds = 30
	}
	return &Scheduler{
		interval: time.Duration(intervalSeconds) * time.Second,
		tick:     tick,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron = cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger), cron.SkipIfStillRunning(cron.DiscardLogger)))

	entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.runTick)
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %s", s.interval)
	return nil
}

// Stop stops the scheduler and waits for an in-flight tick
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.cancel()
	stopped := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopped.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

func (s *Scheduler) runTick() {
	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		return
	}
	ctx := s.ctx
	s.mu.RUnlock()

	if err := s.RunOnce(ctx); err != nil {
		logrus.Errorf("Scheduled tick failed: %v", err)
	}
}

// RunOnce runs one tick synchronously (for manual triggering)
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.wg.Add(1)
	defer s.wg.Done()

	start := time.Now()
	err := s.tick(ctx)

	s.mu.Lock()
	s.lastTick = start
	s.lastErr = err
	s.mu.Unlock()

	logrus.WithField("duration", time.Since(start).String()).Debug("Pipeline tick completed")
	return err
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns when the last tick, scheduled or manual, started
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastTick
}

// LastError returns the error of the last tick, if any
func (s *Scheduler) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Interval returns the tick interval
func (s *Scheduler) Interval() time.Duration {
	return s.interval
}

// Wait waits for in-flight ticks to return
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
