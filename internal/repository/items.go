package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"resume-mail-import/internal/model"
)

// ImportRecord is the set of rows created for one discovered resume attachment
type ImportRecord struct {
	Item   *model.Item
	Resume *model.Resume
	Job    *model.AIJob
}

// CreateImport stores an item together with its resume and parsing job, or
// the item alone when Resume and Job are nil
func (r *Repository) CreateImport(ctx context.Context, rec ImportRecord) error {
	return r.WithinTx(ctx, func(tx *Repository) error {
		if rec.Resume != nil {
			if err := tx.db.WithContext(ctx).Create(rec.Resume).Error; err != nil {
				return fmt.Errorf("failed to create resume: %w", err)
			}
			rec.Item.ResumeID = &rec.Resume.ID
		}
		if err := tx.db.WithContext(ctx).Create(rec.Item).Error; err != nil {
			return fmt.Errorf("failed to create item: %w", err)
		}
		if rec.Job != nil {
			rec.Job.ItemID = rec.Item.ID
			if rec.Resume != nil {
				rec.Job.ResumeID = rec.Resume.ID
			}
			if err := tx.db.WithContext(ctx).Create(rec.Job).Error; err != nil {
				return fmt.Errorf("failed to create ai job: %w", err)
			}
		}
		return nil
	})
}

// ListItems returns a page of a run's items, oldest first
func (r *Repository) ListItems(ctx context.Context, runID string, offset, limit int) ([]model.Item, int64, error) {
	var items []model.Item
	var total int64
	err := r.do(ctx, func(db *gorm.DB) error {
		scope := func() *gorm.DB {
			return db.Session(&gorm.Session{NewDB: true}).Model(&model.Item{}).Where("run_id = ?", runID)
		}
		if err := scope().Count(&total).Error; err != nil {
			return err
		}
		return scope().Order("created_at ASC").Order("id ASC").Offset(offset).Limit(limit).Find(&items).Error
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list items: %w", err)
	}
	return items, total, nil
}

func (r *Repository) GetItem(ctx context.Context, id string) (*model.Item, error) {
	var item model.Item
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&item).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &item, nil
}

// CountItemsByStatus aggregates a run's items by status
func (r *Repository) CountItemsByStatus(ctx context.Context, runID string) (map[string]int64, error) {
	var rows []StatusCount
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Model(&model.Item{}).
			Select("status, COUNT(*) AS n").
			Where("run_id = ?", runID).
			Group("status").
			Scan(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count items: %w", err)
	}
	return toCounts(rows), nil
}

// MirrorClaim projects a fresh claim onto the job's item
func (r *Repository) MirrorClaim(ctx context.Context, job *model.AIJob) error {
	return r.do(ctx, func(db *gorm.DB) error {
		return db.Model(&model.Item{}).
			Where("id = ? AND status IN ?", job.ItemID, []model.ItemStatus{model.ItemPending, model.ItemProcessing}).
			Updates(map[string]any{
				"status":              model.ItemProcessing,
				"gpt_status":          model.GPTInProgress,
				"gpt_attempts":        job.Attempts,
				"gpt_last_started_at": job.LastStartedAt,
				"gpt_next_retry_at":   nil,
			}).Error
	})
}

// MirrorOutcome projects the job's recorded outcome onto its item. Canceled
// items are left alone.
func (r *Repository) MirrorOutcome(ctx context.Context, job *model.AIJob) error {
	updates := map[string]any{
		"gpt_attempts":      job.Attempts,
		"gpt_last_error":    job.LastError,
		"gpt_next_retry_at": job.NextRetryAt,
	}
	switch job.Status {
	case model.AIJobSucceeded:
		updates["status"] = model.ItemCompleted
		updates["gpt_status"] = model.GPTSucceeded
	case model.AIJobFailed:
		updates["status"] = model.ItemFailed
		updates["gpt_status"] = model.GPTFailed
		updates["error"] = job.LastError
	default:
		updates["gpt_status"] = model.GPTQueued
	}
	return r.do(ctx, func(db *gorm.DB) error {
		return db.Model(&model.Item{}).
			Where("id = ? AND status <> ?", job.ItemID, model.ItemCanceled).
			Updates(updates).Error
	})
}

// ReconcileItems repairs item rows whose best-effort mirror missed a terminal job outcome
func (r *Repository) ReconcileItems(ctx context.Context, runID string) (int64, error) {
	open := []model.ItemStatus{model.ItemPending, model.ItemProcessing}
	var fixed int64
	err := r.do(ctx, func(db *gorm.DB) error {
		for _, pair := range []struct {
			job  model.AIJobStatus
			item model.ItemStatus
			gpt  string
		}{
			{model.AIJobSucceeded, model.ItemCompleted, model.GPTSucceeded},
			{model.AIJobFailed, model.ItemFailed, model.GPTFailed},
		} {
			terminal := db.Session(&gorm.Session{NewDB: true}).
				Model(&model.AIJob{}).
				Select("item_id").
				Where("run_id = ? AND status = ?", runID, pair.job)
			res := db.Session(&gorm.Session{NewDB: true}).
				Model(&model.Item{}).
				Where("run_id = ? AND status IN ? AND id IN (?)", runID, open, terminal).
				Updates(map[string]any{"status": pair.item, "gpt_status": pair.gpt, "gpt_next_retry_at": nil})
			if res.Error != nil {
				return res.Error
			}
			fixed += res.RowsAffected
		}
		return nil
	})
	return fixed, err
}

// DeleteFinishedItems purges a run's completed and failed items
func (r *Repository) DeleteFinishedItems(ctx context.Context, runID string) (int64, error) {
	var deleted int64
	err := r.do(ctx, func(db *gorm.DB) error {
		res := db.Where("run_id = ? AND status IN ?", runID, []model.ItemStatus{model.ItemCompleted, model.ItemFailed}).
			Delete(&model.Item{})
		deleted = res.RowsAffected
		return res.Error
	})
	return deleted, err
}

// CloseOpenItems moves a run's pending and processing items to status
func (r *Repository) CloseOpenItems(ctx context.Context, runID string, status model.ItemStatus, now time.Time) (int64, error) {
	var closed int64
	err := r.do(ctx, func(db *gorm.DB) error {
		res := db.Model(&model.Item{}).
			Where("run_id = ? AND status IN ?", runID, []model.ItemStatus{model.ItemPending, model.ItemProcessing}).
			Updates(map[string]any{"status": status, "updated_at": now})
		closed = res.RowsAffected
		return res.Error
	})
	return closed, err
}
