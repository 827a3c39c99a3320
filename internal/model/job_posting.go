package model

import "time"

// JobPosting is the opening a run imports resumes for. It is managed elsewhere;
// the import pipeline only reads it.
type JobPosting struct {
	ID          string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Title       string    `json:"title" gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for JobPosting
func (JobPosting) TableName() string {
	return "job_postings"
}

// All returns every model managed by migrations
func All() []any {
	return []any{&JobPosting{}, &Run{}, &Item{}, &AIJob{}, &Resume{}, &ProcessedMessage{}}
}
