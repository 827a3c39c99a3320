package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"resume-mail-import/internal/metrics"
	"resume-mail-import/internal/model"
	"resume-mail-import/internal/repository"
)

const (
	DefaultMaxEmails    = 50
	MaxMaxEmails        = 500
	DefaultLookbackDays = 30

	notifyTimeout = 10 * time.Second
)

// EnqueueRequest describes a mailbox scan to start for a job posting
type EnqueueRequest struct {
	JobID        string
	Mailbox      string
	SearchText   string
	MaxEmails    int
	Mode         string
	LookbackDays int
}

// RunStatus is a run together with its item and AI job counts
type RunStatus struct {
	Run        *model.Run
	ItemCounts map[string]int64
	JobCounts  map[string]int64
}

// RunService owns the run lifecycle entry points: enqueue, cancel and reads
type RunService struct {
	repo    *repository.Repository
	trigger DispatchTrigger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewRunService(repo *repository.Repository, trigger DispatchTrigger, m *metrics.Metrics) *RunService {
	if trigger == nil {
		trigger = NoopTrigger{}
	}
	return &RunService{
		repo:    repo,
		trigger: trigger,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (req *EnqueueRequest) normalize() error {
	req.JobID = strings.TrimSpace(req.JobID)
	req.Mailbox = strings.TrimSpace(req.Mailbox)
	req.SearchText = strings.TrimSpace(req.SearchText)
	if req.JobID == "" || req.Mailbox == "" || req.SearchText == "" {
		return fmt.Errorf("job_id, mailbox and search_text are required: %w", ErrInvalidInput)
	}

	mode, err := normalizeMode(req.Mode)
	if err != nil {
		return err
	}
	req.Mode = mode
	req.MaxEmails = normalizeMaxEmails(req.MaxEmails)
	req.LookbackDays = normalizeLookback(req.LookbackDays)
	return nil
}

func normalizeMaxEmails(n int) int {
	switch {
	case n <= 0:
		return DefaultMaxEmails
	case n > MaxMaxEmails:
		return MaxMaxEmails
	}
	return n
}

func normalizeMode(mode string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", model.SearchModeFull:
		return model.SearchModeFull, nil
	case model.SearchModeSubject:
		return model.SearchModeSubject, nil
	}
	return "", fmt.Errorf("mode must be %q or %q: %w", model.SearchModeSubject, model.SearchModeFull, ErrInvalidInput)
}

func normalizeLookback(days int) int {
	if days <= 0 {
		return DefaultLookbackDays
	}
	return days
}

// Enqueue records a new run for a job posting and nudges the dispatcher. It
// fails with a *ConflictError when the posting already has a live run.
func (s *RunService) Enqueue(ctx context.Context, req EnqueueRequest) (*model.Run, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	if _, err := s.repo.GetJobPosting(ctx, req.JobID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("job posting %s: %w", req.JobID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load job posting: %w", err)
	}

	existing, err := s.repo.FindActiveRun(ctx, req.JobID)
	switch {
	case err == nil:
		s.metrics.RunConflicts.Inc()
		return nil, &ConflictError{JobID: req.JobID, RunID: existing.ID}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("failed to check active runs: %w", err)
	}

	run := &model.Run{
		ID:         model.NewID(),
		JobID:      req.JobID,
		Mailbox:    req.Mailbox,
		SearchText: req.SearchText,
		MaxEmails:  req.MaxEmails,
		Status:     model.RunEnqueued,
		Meta: datatypes.JSONMap{
			"mode":          req.Mode,
			"lookback_days": req.LookbackDays,
		},
	}
	if err := s.repo.CreateRun(ctx, run); err != nil {
		if errors.Is(err, repository.ErrDuplicateActiveRun) {
			s.metrics.RunConflicts.Inc()
			conflict := &ConflictError{JobID: req.JobID, Race: true}
			if winner, lookupErr := s.repo.FindActiveRun(ctx, req.JobID); lookupErr == nil {
				conflict.RunID = winner.ID
			}
			return nil, conflict
		}
		return nil, err
	}

	s.metrics.RunsEnqueued.Inc()
	logrus.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"job_id":     run.JobID,
		"max_emails": run.MaxEmails,
	}).Info("Import run enqueued")

	go s.notify(context.WithoutCancel(ctx), run.ID)
	return run, nil
}

func (s *RunService) notify(ctx context.Context, runID string) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.trigger.Notify(ctx, runID); err != nil {
		logrus.WithField("run_id", runID).Warnf("Failed to notify dispatcher: %v", err)
	}
}

// Cancel stops a live run. Open items become canceled and unclaimed AI jobs
// fail so workers stop picking them up; parses already in flight finish and
// their results are discarded.
func (s *RunService) Cancel(ctx context.Context, runID string) (*model.Run, error) {
	var canceled *model.Run
	err := s.repo.WithinTx(ctx, func(tx *repository.Repository) error {
		run, err := tx.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if run.Status.IsTerminal() {
			return fmt.Errorf("run %s is %s: %w", runID, run.Status, ErrInvalidState)
		}

		now := s.now()
		ok, err := tx.FinishRun(ctx, repository.FinishRun{
			RunID:      runID,
			From:       []model.RunStatus{model.RunEnqueued, model.RunRunning},
			To:         model.RunCanceled,
			FinishedAt: now,
			DurationMS: model.DurationMS(run.StartedAt, run.CreatedAt, now),
		})
		if err != nil {
			return fmt.Errorf("failed to cancel run: %w", err)
		}
		if !ok {
			return fmt.Errorf("run %s left its live state: %w", runID, ErrInvalidState)
		}
		if _, err := tx.CloseOpenItems(ctx, runID, model.ItemCanceled, now); err != nil {
			return fmt.Errorf("failed to cancel items: %w", err)
		}
		if _, err := tx.FailQueuedJobs(ctx, runID, now, "run canceled"); err != nil {
			return fmt.Errorf("failed to cancel ai jobs: %w", err)
		}

		canceled, err = tx.GetRun(ctx, runID)
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}

	s.metrics.RunsCanceled.Inc()
	logrus.WithField("run_id", runID).Info("Import run canceled")
	return canceled, nil
}

func (s *RunService) Get(ctx context.Context, runID string) (*model.Run, error) {
	run, err := s.repo.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return nil, err
	}
	return run, nil
}

// Status returns the run along with its item and AI job counts by status
func (s *RunService) Status(ctx context.Context, runID string) (*RunStatus, error) {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.CountItemsByStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	jobs, err := s.repo.CountAIJobsByStatus(ctx, runID)
	if err != nil {
		return nil, err
	}
	return &RunStatus{Run: run, ItemCounts: items, JobCounts: jobs}, nil
}

// List returns runs newest first; an empty jobID lists every posting
func (s *RunService) List(ctx context.Context, jobID string, offset, limit int) ([]model.Run, int64, error) {
	return s.repo.ListRuns(ctx, jobID, offset, limit)
}

func (s *RunService) ListItems(ctx context.Context, runID string, offset, limit int) ([]model.Item, int64, error) {
	if _, err := s.Get(ctx, runID); err != nil {
		return nil, 0, err
	}
	return s.repo.ListItems(ctx, runID, offset, limit)
}
