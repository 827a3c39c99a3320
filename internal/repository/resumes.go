package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"resume-mail-import/internal/model"
)

func (r *Repository) GetResume(ctx context.Context, id string) (*model.Resume, error) {
	var resume model.Resume
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Where("id = ?", id).First(&resume).Error
	})
	if err != nil {
		return nil, notFound(err)
	}
	return &resume, nil
}

// SaveParsedResume stores the structured parse output for a resume
func (r *Repository) SaveParsedResume(ctx context.Context, id string, parsed datatypes.JSON, now time.Time) error {
	return r.do(ctx, func(db *gorm.DB) error {
		return db.Model(&model.Resume{}).
			Where("id = ?", id).
			Updates(map[string]any{"parsed": parsed, "parsed_at": now}).Error
	})
}

// IsMessageProcessed reports whether a message was already imported for the job
func (r *Repository) IsMessageProcessed(ctx context.Context, jobID, messageID string) (bool, error) {
	var n int64
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Model(&model.ProcessedMessage{}).
			Where("job_id = ? AND message_id = ?", jobID, messageID).
			Count(&n).Error
	})
	return n > 0, err
}

// MarkMessageProcessed records an imported message. Recording it twice is not an error.
func (r *Repository) MarkMessageProcessed(ctx context.Context, jobID, messageID, runID string, now time.Time) error {
	err := r.do(ctx, func(db *gorm.DB) error {
		return db.Create(&model.ProcessedMessage{
			JobID:       jobID,
			MessageID:   messageID,
			RunID:       runID,
			ProcessedAt: now,
		}).Error
	})
	if err != nil && isDuplicateKey(err) {
		return nil
	}
	return err
}
