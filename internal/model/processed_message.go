package model

import "time"

// ProcessedMessage records a mailbox message already imported for a job posting,
// so later runs for the same posting skip it
type ProcessedMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	JobID       string    `json:"job_id" gorm:"type:varchar(64);not null;uniqueIndex:uniq_job_message"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(255);not null;uniqueIndex:uniq_job_message"`
	RunID       string    `json:"run_id" gorm:"type:varchar(26);index"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}
