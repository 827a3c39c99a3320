package model

import "time"

// AIJobStatus is the lifecycle state of a resume parsing job
type AIJobStatus string

const (
	AIJobPending    AIJobStatus = "pending"
	AIJobProcessing AIJobStatus = "processing"
	AIJobSucceeded  AIJobStatus = "succeeded"
	AIJobRetry      AIJobStatus = "retry"
	AIJobFailed     AIJobStatus = "failed"
)

// ActiveAIJobStatuses are the states that keep a run from finalizing
var ActiveAIJobStatuses = []AIJobStatus{AIJobPending, AIJobProcessing, AIJobRetry}

// AIJob is one parsing attempt chain for one resume, scoped to a Run
type AIJob struct {
	ID             string      `json:"id" gorm:"primaryKey;type:varchar(26)"`
	RunID          string      `json:"run_id" gorm:"type:varchar(26);not null;index"`
	ItemID         string      `json:"item_id" gorm:"type:varchar(26);not null;index"`
	ResumeID       string      `json:"resume_id" gorm:"type:varchar(26);not null;index"`
	Status         AIJobStatus `json:"status" gorm:"type:varchar(16);not null;index:idx_ai_job_claim,priority:1"`
	Attempts       int         `json:"attempts" gorm:"not null;default:0"`
	LastStartedAt  *time.Time  `json:"last_started_at"`
	LastFinishedAt *time.Time  `json:"last_finished_at"`
	LastError      *string     `json:"last_error" gorm:"type:text"`
	NextRetryAt    *time.Time  `json:"next_retry_at" gorm:"index:idx_ai_job_claim,priority:2"`
	CreatedAt      time.Time   `json:"created_at" gorm:"index:idx_ai_job_claim,priority:3"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TableName specifies the table name for AIJob
func (AIJob) TableName() string {
	return "ai_jobs"
}
