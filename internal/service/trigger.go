package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// DispatchTrigger nudges the dispatcher after a run is enqueued. Delivery is
// best-effort; the periodic tick picks up anything a lost notification missed.
type DispatchTrigger interface {
	Notify(ctx context.Context, runID string) error
}

// NoopTrigger leaves dispatch entirely to the periodic tick
type NoopTrigger struct{}

func (NoopTrigger) Notify(context.Context, string) error { return nil }

// LocalTrigger runs a pipeline tick in-process. Notifications arriving while a
// tick is in flight collapse into that tick.
type LocalTrigger struct {
	tick func(ctx context.Context) error

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func NewLocalTrigger(tick func(ctx context.Context) error) *LocalTrigger {
	return &LocalTrigger{tick: tick}
}

func (t *LocalTrigger) Notify(ctx context.Context, runID string) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = true
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer func() {
			t.mu.Lock()
			t.running = false
			t.mu.Unlock()
			t.wg.Done()
		}()
		if err := t.tick(context.WithoutCancel(ctx)); err != nil {
			logrus.WithField("run_id", runID).Errorf("Local dispatch tick failed: %v", err)
		}
	}()
	return nil
}

// Wait blocks until in-flight ticks return
func (t *LocalTrigger) Wait() {
	t.wg.Wait()
}
