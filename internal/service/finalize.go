package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"resume-mail-import/internal/metrics"
	"resume-mail-import/internal/model"
	"resume-mail-import/internal/repository"
)

// FinalizeResult reports whether TryFinalize moved the run to a terminal state
type FinalizeResult struct {
	Finalized bool
	Status    model.RunStatus
}

// Finalizer closes a running run once its scan finished and all work drained
type Finalizer struct {
	repo    *repository.Repository
	summary SummaryBuilder
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewFinalizer(repo *repository.Repository, summary SummaryBuilder, m *metrics.Metrics) *Finalizer {
	if summary == nil {
		summary = DefaultSummaryBuilder{}
	}
	return &Finalizer{
		repo:    repo,
		summary: summary,
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// TryFinalize is a no-op unless the run is running, its scan completed, no
// item is pending and no AI job is pending, processing or retrying. It is safe
// to call redundantly.
func (f *Finalizer) TryFinalize(ctx context.Context, runID string) (FinalizeResult, error) {
	var result FinalizeResult

	err := f.repo.WithinTx(ctx, func(tx *repository.Repository) error {
		result = FinalizeResult{}

		run, err := tx.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		result.Status = run.Status
		if run.Status != model.RunRunning || run.ScanCompletedAt == nil {
			return nil
		}

		jobCounts, err := tx.CountAIJobsByStatus(ctx, runID)
		if err != nil {
			return err
		}
		for _, s := range model.ActiveAIJobStatuses {
			if jobCounts[string(s)] > 0 {
				return nil
			}
		}

		if _, err := tx.ReconcileItems(ctx, runID); err != nil {
			return fmt.Errorf("failed to reconcile items: %w", err)
		}
		itemCounts, err := tx.CountItemsByStatus(ctx, runID)
		if err != nil {
			return err
		}
		if itemCounts[string(model.ItemPending)] > 0 {
			return nil
		}

		completed := int(itemCounts[string(model.ItemCompleted)])
		failed := int(itemCounts[string(model.ItemFailed)])

		finalStatus := model.RunFailed
		var lastError *string
		if completed > 0 {
			finalStatus = model.RunSucceeded
		} else {
			msg := "No resume attachments found"
			if failed > 0 {
				msg = fmt.Sprintf("All %d items failed", failed)
			}
			lastError = &msg
		}

		summary, err := f.buildSummary(ctx, run, completed, failed)
		if err != nil {
			return err
		}

		if _, err := tx.DeleteFinishedItems(ctx, runID); err != nil {
			return fmt.Errorf("failed to purge items: %w", err)
		}

		finishedAt := f.now()
		progress := 1.0
		ok, err := tx.FinishRun(ctx, repository.FinishRun{
			RunID:             runID,
			From:              []model.RunStatus{model.RunRunning},
			To:                finalStatus,
			FinishedAt:        finishedAt,
			DurationMS:        model.DurationMS(run.StartedAt, run.CreatedAt, finishedAt),
			Progress:          &progress,
			ProcessedMessages: &completed,
			LastError:         lastError,
			Summary:           summary,
		})
		if err != nil {
			return fmt.Errorf("failed to finish run: %w", err)
		}
		if !ok {
			return errFinalizeLost
		}
		result = FinalizeResult{Finalized: true, Status: finalStatus}
		return nil
	})

	switch {
	case errors.Is(err, errFinalizeLost):
		return FinalizeResult{}, nil
	case errors.Is(err, repository.ErrNotFound):
		return FinalizeResult{}, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	case err != nil:
		return FinalizeResult{}, err
	}

	if result.Finalized {
		f.metrics.RunsFinalized.WithLabelValues(string(result.Status)).Inc()
		logrus.WithFields(logrus.Fields{
			"run_id": runID,
			"status": result.Status,
		}).Info("Import run finalized")
	}
	return result, nil
}

// errFinalizeLost rolls the transaction back when another invocation moved the run first
var errFinalizeLost = errors.New("run left running state during finalization")

func (f *Finalizer) buildSummary(ctx context.Context, run *model.Run, completed, failed int) (datatypes.JSON, error) {
	doc, err := f.summary.BuildRunSummary(ctx, SummaryInput{
		RunID:             run.ID,
		JobID:             run.JobID,
		TotalMessages:     run.TotalMessages,
		ProcessedMessages: completed,
		FailedMessages:    failed,
	})
	if err != nil {
		logrus.WithField("run_id", run.ID).Warnf("Failed to build run summary: %v", err)
		return nil, nil
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode run summary: %w", err)
	}
	return datatypes.JSON(raw), nil
}
