package model

import (
	"time"

	"gorm.io/datatypes"
)

// Resume is the durable record produced for one imported attachment
type Resume struct {
	ID          string         `json:"id" gorm:"primaryKey;type:varchar(26)"`
	JobID       string         `json:"job_id" gorm:"type:varchar(64);not null;index"`
	RunID       string         `json:"run_id" gorm:"type:varchar(26);not null;index"`
	Filename    string         `json:"filename" gorm:"type:varchar(255);not null"`
	ContentType string         `json:"content_type" gorm:"type:varchar(128)"`
	StorageKey  string         `json:"storage_key" gorm:"type:varchar(512);not null"`
	SizeBytes   int64          `json:"size_bytes"`
	Sender      string         `json:"sender" gorm:"type:varchar(255)"`
	Parsed      datatypes.JSON `json:"parsed"`
	ParsedAt    *time.Time     `json:"parsed_at"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// TableName specifies the table name for Resume
func (Resume) TableName() string {
	return "resumes"
}
