package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"resume-mail-import/internal/model"
)

// ListClaimCandidates returns claimable jobs of running runs, earliest eligible
// first. NULL next_retry_at sorts first on MySQL and SQLite.
func (r *Repository) ListClaimCandidates(ctx context.Context, now time.Time, limit int) ([]model.AIJob, error) {
	var jobs []model.AIJob
	err := r.do(ctx, func(db *gorm.DB) error {
		running := db.Session(&gorm.Session{NewDB: true}).
			Model(&model.Run{}).
			Select("id").
			Where("status = ?", model.RunRunning)
		return db.Where("status IN ?", []model.AIJobStatus{model.AIJobPending, model.AIJobRetry}).
			Where("(next_retry_at IS NULL OR next_retry_at <= ?)", now).
			Where("run_id IN (?)", running).
			Order("next_retry_at ASC").
			Order("created_at ASC").
			Order("id ASC").
			Limit(limit).
			Find(&jobs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list claim candidates: %w", err)
	}
	return jobs, nil
}

// ClaimJob moves a job observed as pending or retry into processing. It
// succeeds only if the row still has the observed status and attempts, and then
// updates job in place. false means another worker claimed it first, including
// a claim that already ran and put the job back into retry.
func (r *Repository) ClaimJob(ctx context.Context, job *model.AIJob, now time.Time) (bool, error) {
	claimed, err := r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.AIJob{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, job.Status, job.Attempts).
			Updates(map[string]any{
				"status":          model.AIJobProcessing,
				"last_started_at": now,
				"attempts":        gorm.Expr("attempts + 1"),
				"updated_at":      now,
			})
	})
	if err != nil || !claimed {
		return false, err
	}
	job.Status = model.AIJobProcessing
	job.Attempts++
	job.LastStartedAt = &now
	return true, nil
}

// JobOutcome is the resolution written for a claimed job. With
// RequireRunRunning the write also requires the owning run to be running.
type JobOutcome struct {
	Status            model.AIJobStatus
	FinishedAt        time.Time
	LastError         *string
	NextRetryAt       *time.Time
	RequireRunRunning bool
}

// ResolveJob writes the outcome of the claim identified by job's current
// attempts. A stale claim (requeued or already resolved) is not overwritten.
func (r *Repository) ResolveJob(ctx context.Context, job *model.AIJob, out JobOutcome) (bool, error) {
	ok, err := r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		q := db.Model(&model.AIJob{}).
			Where("id = ? AND status = ? AND attempts = ?", job.ID, model.AIJobProcessing, job.Attempts)
		if out.RequireRunRunning {
			running := db.Session(&gorm.Session{NewDB: true}).
				Model(&model.Run{}).
				Select("id").
				Where("status = ?", model.RunRunning)
			q = q.Where("run_id IN (?)", running)
		}
		return q.Updates(map[string]any{
			"status":           out.Status,
			"last_finished_at": out.FinishedAt,
			"last_error":       out.LastError,
			"next_retry_at":    out.NextRetryAt,
			"updated_at":       out.FinishedAt,
		})
	})
	if err != nil || !ok {
		return false, err
	}
	job.Status = out.Status
	job.LastFinishedAt = &out.FinishedAt
	job.LastError = out.LastError
	job.NextRetryAt = out.NextRetryAt
	return true, nil
}

// ListStaleJobs returns processing jobs claimed before cutoff
func (r *Repository) ListStaleJobs(ctx context.Context, cutoff time.Time, limit int) ([]model.AIJob, error) {
	var jobs []model.AIJob
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("status = ? AND last_started_at < ?", model.AIJobProcessing, cutoff).
			Order("last_started_at ASC").
			Limit(limit).
			Find(&jobs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stale jobs: %w", err)
	}
	return jobs, nil
}

func (r *Repository) GetAIJob(ctx context.Context, id string) (*model.AIJob, error) {
	var job model.AIJob
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&job).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// CountAIJobsByStatus aggregates a run's jobs by status
func (r *Repository) CountAIJobsByStatus(ctx context.Context, runID string) (map[string]int64, error) {
	var rows []StatusCount
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Model(&model.AIJob{}).
			Select("status, COUNT(*) AS n").
			Where("run_id = ?", runID).
			Group("status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count ai jobs: %w", err)
	}
	return toCounts(rows), nil
}

// FailQueuedJobs terminates a run's unclaimed jobs so no worker picks them up
func (r *Repository) FailQueuedJobs(ctx context.Context, runID string, now time.Time, reason string) (int64, error) {
	var n int64
	err := r.do(ctx, func(db *gorm.DB) error {
		res := db.Model(&model.AIJob{}).
			Where("run_id = ? AND status IN ?", runID, []model.AIJobStatus{model.AIJobPending, model.AIJobRetry}).
			Updates(map[string]any{
				"status":           model.AIJobFailed,
				"last_error":       reason,
				"last_finished_at": now,
				"next_retry_at":    nil,
				"updated_at":       now,
			})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
