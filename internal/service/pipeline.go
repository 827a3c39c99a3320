package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/repository"
)

// PipelineSettings holds the tunables of a pipeline tick
type PipelineSettings struct {
	Concurrency    int
	PerJobTimeout  time.Duration
	ScanStaleAfter time.Duration
}

// Pipeline strings the stages together for the periodic tick and for
// dispatch notifications
type Pipeline struct {
	repo       *repository.Repository
	dispatcher *Dispatcher
	scanner    *ScanService
	worker     *Worker
	settings   PipelineSettings
}

func NewPipeline(repo *repository.Repository, d *Dispatcher, s *ScanService, w *Worker, settings PipelineSettings) *Pipeline {
	return &Pipeline{
		repo:       repo,
		dispatcher: d,
		scanner:    s,
		worker:     w,
		settings:   settings,
	}
}

// DispatchAndScan promotes the oldest enqueued run and scans its mailbox
func (p *Pipeline) DispatchAndScan(ctx context.Context) (DispatchResult, error) {
	res, err := p.dispatcher.Dispatch(ctx)
	if err != nil || !res.Dispatched {
		return res, err
	}

	run, err := p.repo.GetRun(ctx, res.RunID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return res, fmt.Errorf("run %s: %w", res.RunID, ErrNotFound)
		}
		return res, err
	}
	if err := p.scanner.ScanRun(ctx, run); err != nil {
		return res, fmt.Errorf("scan of run %s failed: %w", run.ID, err)
	}
	return res, nil
}

// Tick fails abandoned scans, dispatches and scans at most one run, then
// runs one worker slice
func (p *Pipeline) Tick(ctx context.Context) error {
	var errs []error
	if n, err := p.scanner.SweepStaleScans(ctx, p.settings.ScanStaleAfter); err != nil {
		errs = append(errs, fmt.Errorf("stale scan sweep failed: %w", err))
	} else if n > 0 {
		logrus.WithField("runs", n).Warn("Failed runs with abandoned scans")
	}

	if res, err := p.DispatchAndScan(ctx); err != nil {
		errs = append(errs, err)
	} else if res.Dispatched {
		logrus.WithField("run_id", res.RunID).Debug("Tick dispatched run")
	}

	if _, err := p.worker.ProcessSlice(ctx, p.settings.Concurrency, p.settings.PerJobTimeout); err != nil {
		errs = append(errs, fmt.Errorf("worker slice failed: %w", err))
	}
	return errors.Join(errs...)
}
