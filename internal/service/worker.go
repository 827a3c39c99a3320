package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"resume-mail-import/internal/backoff"
	"resume-mail-import/internal/config"
	"resume-mail-import/internal/metrics"
	"resume-mail-import/internal/model"
	"resume-mail-import/internal/parser"
	"resume-mail-import/internal/repository"
)

const (
	candidateFactor = 3
	staleBatchSize  = 100

	reasonRunNotRunning = "run no longer running"
)

// WorkerSettings are the retry and recovery knobs of the AI job worker
type WorkerSettings struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	StaleAfter  time.Duration
}

func WorkerSettingsFromConfig(cfg config.WorkerConfig) WorkerSettings {
	return WorkerSettings{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff(),
		MaxBackoff:  cfg.MaxBackoff(),
		StaleAfter:  cfg.StaleAfter,
	}
}

// SliceResult counts the outcomes written by one ProcessSlice call
type SliceResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	Processed int `json:"processed"`
}

// Worker claims AI jobs and runs the resume parser on them. Any number of
// workers may run at once; claims and outcome writes are conditional updates.
type Worker struct {
	repo      *repository.Repository
	parser    parser.ResumeParser
	progress  *ProgressService
	finalizer *Finalizer
	metrics   *metrics.Metrics
	settings  WorkerSettings
	now       func() time.Time
}

func NewWorker(
	repo *repository.Repository,
	p parser.ResumeParser,
	progress *ProgressService,
	finalizer *Finalizer,
	m *metrics.Metrics,
	settings WorkerSettings,
) *Worker {
	if settings.MaxAttempts <= 0 {
		settings.MaxAttempts = 1
	}
	return &Worker{
		repo:      repo,
		parser:    p,
		progress:  progress,
		finalizer: finalizer,
		metrics:   m,
		settings:  settings,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ProcessSlice claims up to concurrency jobs and runs them with at most
// concurrency parses in flight, each bounded by perJobTimeout. Progress and
// finalization are re-evaluated for every run it touched.
func (w *Worker) ProcessSlice(ctx context.Context, concurrency int, perJobTimeout time.Duration) (SliceResult, error) {
	start := time.Now()
	defer func() { w.metrics.SliceDuration.Observe(time.Since(start).Seconds()) }()

	if concurrency <= 0 {
		concurrency = 1
	}
	touched := make(map[string]struct{})

	if err := w.requeueStale(ctx, touched); err != nil {
		logrus.Warnf("Failed to requeue stale jobs: %v", err)
	}

	claimed, err := w.claim(ctx, concurrency)
	if err != nil {
		return SliceResult{}, err
	}

	var (
		mu     sync.Mutex
		result = SliceResult{Processed: len(claimed)}
	)
	var g errgroup.Group
	g.SetLimit(concurrency)
	for _, job := range claimed {
		job := job
		touched[job.RunID] = struct{}{}
		g.Go(func() error {
			status := w.execute(ctx, job, perJobTimeout)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case model.AIJobSucceeded:
				result.Succeeded++
			case model.AIJobFailed:
				result.Failed++
			case model.AIJobRetry:
				result.Retried++
			}
			return nil
		})
	}
	_ = g.Wait()

	w.settle(context.WithoutCancel(ctx), touched)

	if result.Processed > 0 {
		logrus.WithFields(logrus.Fields{
			"processed": result.Processed,
			"succeeded": result.Succeeded,
			"failed":    result.Failed,
			"retried":   result.Retried,
		}).Info("Worker slice completed")
	}
	return result, nil
}

// claim walks the candidate list until concurrency jobs are claimed
func (w *Worker) claim(ctx context.Context, concurrency int) ([]*model.AIJob, error) {
	now := w.now()
	candidates, err := w.repo.ListClaimCandidates(ctx, now, candidateFactor*concurrency)
	if err != nil {
		return nil, err
	}

	claimed := make([]*model.AIJob, 0, concurrency)
	for i := range candidates {
		if len(claimed) == concurrency {
			break
		}
		job := candidates[i]
		ok, err := w.repo.ClaimJob(ctx, &job, now)
		if err != nil {
			logrus.WithField("ai_job_id", job.ID).Warnf("Failed to claim job: %v", err)
			continue
		}
		if !ok {
			w.metrics.ClaimsLost.Inc()
			continue
		}
		w.metrics.JobsClaimed.Inc()
		if err := w.repo.MirrorClaim(ctx, &job); err != nil {
			logrus.WithField("ai_job_id", job.ID).Warnf("Failed to mirror claim onto item: %v", err)
		}
		claimed = append(claimed, &job)
	}
	return claimed, nil
}

// execute runs the parser for a claimed job and records the outcome. A result
// arriving after the timeout is dropped.
func (w *Worker) execute(ctx context.Context, job *model.AIJob, timeout time.Duration) model.AIJobStatus {
	// A claimed job runs to its outcome even when the caller goes away; only
	// the per-job timeout bounds the parse.
	ctx = context.WithoutCancel(ctx)
	req := parser.ParseRequest{ResumeID: job.ResumeID, RunID: job.RunID, Job: w.posting(ctx, job.RunID)}

	jobCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		done <- w.parser.ParseResume(jobCtx, req)
	}()

	var parseErr error
	select {
	case parseErr = <-done:
	case <-jobCtx.Done():
		parseErr = jobCtx.Err()
	}
	if parseErr != nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		parseErr = fmt.Errorf("parse timed out after %s", timeout)
	}
	w.metrics.ParseDuration.Observe(time.Since(start).Seconds())

	return w.resolve(ctx, job, parseErr)
}

func (w *Worker) posting(ctx context.Context, runID string) *model.JobPosting {
	run, err := w.repo.GetRun(ctx, runID)
	if err != nil {
		return nil
	}
	posting, err := w.repo.GetJobPosting(ctx, run.JobID)
	if err != nil {
		return nil
	}
	return posting
}

// resolve writes the outcome for the claim held by job. It returns the
// written status, or "" when the claim was stale and nothing was written.
//
// The outcome write itself requires the run to be running. When it matches no
// row the claim is either stale or the run left running; the second write
// records the discard and matches nothing in the stale case.
func (w *Worker) resolve(ctx context.Context, job *model.AIJob, cause error) model.AIJobStatus {
	log := logrus.WithFields(logrus.Fields{
		"ai_job_id": job.ID,
		"run_id":    job.RunID,
		"attempts":  job.Attempts,
	})

	now := w.now()
	out := repository.JobOutcome{FinishedAt: now, RequireRunRunning: true}
	switch {
	case cause == nil:
		out.Status = model.AIJobSucceeded
	case job.Attempts >= w.settings.MaxAttempts:
		reason := cause.Error()
		out.Status = model.AIJobFailed
		out.LastError = &reason
	default:
		reason := cause.Error()
		next := now.Add(backoff.Exponential(job.Attempts, w.settings.BaseBackoff, w.settings.MaxBackoff))
		out.Status = model.AIJobRetry
		out.LastError = &reason
		out.NextRetryAt = &next
	}

	ok, err := w.repo.ResolveJob(ctx, job, out)
	if err != nil {
		log.Errorf("Failed to record job outcome: %v", err)
		return ""
	}
	if !ok {
		reason := reasonRunNotRunning
		out = repository.JobOutcome{Status: model.AIJobFailed, FinishedAt: now, LastError: &reason}
		ok, err = w.repo.ResolveJob(ctx, job, out)
		if err != nil {
			log.Errorf("Failed to record job outcome: %v", err)
			return ""
		}
		if !ok {
			log.Warn("Job claim is stale, outcome dropped")
			return ""
		}
	}
	if err := w.repo.MirrorOutcome(ctx, job); err != nil {
		log.Warnf("Failed to mirror outcome onto item: %v", err)
	}

	w.metrics.JobOutcomes.WithLabelValues(string(out.Status)).Inc()
	if out.Status == model.AIJobSucceeded {
		log.Debug("Resume parse succeeded")
	} else {
		log.WithField("status", out.Status).Warnf("Resume parse did not succeed: %s", *out.LastError)
	}
	return out.Status
}

// requeueStale resolves processing jobs whose claim outlived stale_after, as if
// their parse had failed
func (w *Worker) requeueStale(ctx context.Context, touched map[string]struct{}) error {
	if w.settings.StaleAfter <= 0 {
		return nil
	}
	cutoff := w.now().Add(-w.settings.StaleAfter)
	jobs, err := w.repo.ListStaleJobs(ctx, cutoff, staleBatchSize)
	if err != nil {
		return err
	}
	for i := range jobs {
		job := &jobs[i]
		cause := fmt.Errorf("claim abandoned after %s", w.settings.StaleAfter)
		if status := w.resolve(ctx, job, cause); status != "" {
			w.metrics.StaleRequeued.Inc()
			touched[job.RunID] = struct{}{}
		}
	}
	return nil
}

func (w *Worker) settle(ctx context.Context, touched map[string]struct{}) {
	for runID := range touched {
		if _, err := w.progress.Refresh(ctx, runID); err != nil {
			logrus.WithField("run_id", runID).Warnf("Failed to refresh progress: %v", err)
		}
		if _, err := w.finalizer.TryFinalize(ctx, runID); err != nil {
			logrus.WithField("run_id", runID).Warnf("Failed to finalize run: %v", err)
		}
	}
}
