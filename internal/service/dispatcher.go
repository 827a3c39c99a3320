package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/metrics"
	"resume-mail-import/internal/repository"
)

// DispatchResult reports the run promoted by Dispatch, if any
type DispatchResult struct {
	RunID      string
	Dispatched bool
}

// Dispatcher promotes the oldest enqueued run to running
type Dispatcher struct {
	repo    *repository.Repository
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewDispatcher(repo *repository.Repository, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		repo:    repo,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Dispatch promotes at most one run. Losing the promotion to a concurrent
// dispatcher, or an empty queue, is reported as Dispatched=false.
func (d *Dispatcher) Dispatch(ctx context.Context) (DispatchResult, error) {
	run, err := d.repo.OldestEnqueuedRun(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return DispatchResult{}, nil
		}
		return DispatchResult{}, fmt.Errorf("failed to select enqueued run: %w", err)
	}

	ok, err := d.repo.MarkRunRunning(ctx, run.ID, d.now())
	if err != nil {
		return DispatchResult{}, fmt.Errorf("failed to promote run: %w", err)
	}
	if !ok {
		logrus.WithField("run_id", run.ID).Debug("Run promoted by another dispatcher")
		return DispatchResult{}, nil
	}

	d.metrics.RunsDispatched.Inc()
	logrus.WithFields(logrus.Fields{
		"run_id": run.ID,
		"job_id": run.JobID,
	}).Info("Import run dispatched")
	return DispatchResult{RunID: run.ID, Dispatched: true}, nil
}
