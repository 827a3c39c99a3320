package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resume-mail-import/internal/model"
)

var liveRunStatuses = []model.RunStatus{model.RunEnqueued, model.RunRunning}

func (r *Repository) GetJobPosting(ctx context.Context, id string) (*model.JobPosting, error) {
	var posting model.JobPosting
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&posting).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &posting, nil
}

// FindActiveRun returns the enqueued or running run for a job posting
func (r *Repository) FindActiveRun(ctx context.Context, jobID string) (*model.Run, error) {
	var run model.Run
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("job_id = ? AND status IN ?", jobID, liveRunStatuses).
			Order("created_at ASC").
			First(&run).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// CreateRun inserts a live run. A concurrent live run for the same job makes
// the unique index on active_job_key reject it with ErrDuplicateActiveRun.
func (r *Repository) CreateRun(ctx context.Context, run *model.Run) error {
	if !run.Status.IsTerminal() {
		key := run.JobID
		run.ActiveJobKey = &key
	}
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Create(run).Error
	})
	if err != nil {
		if isDuplicateKey(err) {
			return ErrDuplicateActiveRun
		}
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

func (r *Repository) GetRun(ctx context.Context, id string) (*model.Run, error) {
	var run model.Run
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&run).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// ListRuns returns runs newest first, optionally filtered by job posting
func (r *Repository) ListRuns(ctx context.Context, jobID string, offset, limit int) ([]model.Run, int64, error) {
	var runs []model.Run
	var total int64
	err := r.do(ctx, func(db *gorm.DB) error {
		scope := func() *gorm.DB {
			q := db.Session(&gorm.Session{NewDB: true}).Model(&model.Run{})
			if jobID != "" {
				q = q.Where("job_id = ?", jobID)
			}
			return q
		}
		if err := scope().Count(&total).Error; err != nil {
			return err
		}
		return scope().Order("created_at DESC").Offset(offset).Limit(limit).Find(&runs).Error
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, total, nil
}

// OldestEnqueuedRun returns the FIFO head of the dispatch queue
func (r *Repository) OldestEnqueuedRun(ctx context.Context) (*model.Run, error) {
	var run model.Run
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("status = ?", model.RunEnqueued).
			Order("created_at ASC").Order("id ASC").
			First(&run).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &run, nil
}

// MarkRunRunning promotes an enqueued run, stamping started_at
func (r *Repository) MarkRunRunning(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.Run{}).
			Where("id = ? AND status = ?", id, model.RunEnqueued).
			Updates(map[string]any{
				"status":     model.RunRunning,
				"started_at": now,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			})
	})
}

func (r *Repository) IsRunRunning(ctx context.Context, id string) (bool, error) {
	var n int64
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Model(&model.Run{}).Where("id = ? AND status = ?", id, model.RunRunning).Count(&n).Error
	})
	return n > 0, err
}

// SetRunTotalMessages records how many messages the scan will walk
func (r *Repository) SetRunTotalMessages(ctx context.Context, id string, total int) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.Run{}).
			Where("id = ? AND status = ?", id, model.RunRunning).
			Update("total_messages", total)
	})
}

// IncrementProcessedMessages counts one more scanned message
func (r *Repository) IncrementProcessedMessages(ctx context.Context, id string) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.Run{}).
			Where("id = ? AND status = ?", id, model.RunRunning).
			Update("processed_messages", gorm.Expr("processed_messages + 1"))
	})
}

// MarkScanCompleted records that no further items will be discovered
func (r *Repository) MarkScanCompleted(ctx context.Context, id string, now time.Time) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.Run{}).
			Where("id = ? AND status = ? AND scan_completed_at IS NULL", id, model.RunRunning).
			Update("scan_completed_at", now)
	})
}

// RaiseRunProgress stores progress only when it moves forward
func (r *Repository) RaiseRunProgress(ctx context.Context, id string, progress float64) (bool, error) {
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Model(&model.Run{}).
			Where("id = ? AND status = ? AND progress < ?", id, model.RunRunning, progress).
			Update("progress", progress)
	})
}

// FinishRun describes a transition into a terminal state
type FinishRun struct {
	RunID             string
	From              []model.RunStatus
	To                model.RunStatus
	FinishedAt        time.Time
	DurationMS        int64
	Progress          *float64
	ProcessedMessages *int
	LastError         *string
	Summary           datatypes.JSON
	// StaleScanBefore additionally requires an unfinished scan started before it
	StaleScanBefore *time.Time
}

// FinishRun moves a run into a terminal state and frees its job posting for a new run
func (r *Repository) FinishRun(ctx context.Context, p FinishRun) (bool, error) {
	updates := map[string]any{
		"status":                 p.To,
		"finished_at":            p.FinishedAt,
		"processing_duration_ms": p.DurationMS,
		"active_job_key":         nil,
		"updated_at":             p.FinishedAt,
	}
	if p.Progress != nil {
		updates["progress"] = *p.Progress
	}
	if p.ProcessedMessages != nil {
		updates["processed_messages"] = *p.ProcessedMessages
	}
	if p.LastError != nil {
		updates["last_error"] = *p.LastError
	}
	if len(p.Summary) > 0 {
		updates["summary"] = p.Summary
	}
	return r.cas(ctx, func(db *gorm.DB) *gorm.DB {
		q := db.Model(&model.Run{}).
			Where("id = ? AND status IN ?", p.RunID, p.From)
		if p.StaleScanBefore != nil {
			q = q.Where("scan_completed_at IS NULL AND started_at < ?", *p.StaleScanBefore)
		}
		return q.Updates(updates)
	})
}

// ListStaleScans returns running runs whose scan started before cutoff and
// never completed
func (r *Repository) ListStaleScans(ctx context.Context, cutoff time.Time, limit int) ([]model.Run, error) {
	var runs []model.Run
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("status = ? AND scan_completed_at IS NULL AND started_at < ?", model.RunRunning, cutoff).
			Order("started_at ASC").
			Limit(limit).
			Find(&runs).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list stale scans: %w", err)
	}
	return runs, nil
}
