package model

import (
	"time"

	"gorm.io/datatypes"
)

// RunStatus is the lifecycle state of an import run
type RunStatus string

const (
	RunEnqueued  RunStatus = "enqueued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// IsTerminal reports whether no further transition is possible
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCanceled
}

// Search modes stored in Run.Meta["mode"]
const (
	SearchModeFull    = "full"
	SearchModeSubject = "subject"
)

// Run is one mailbox scan for one job posting.
//
// ActiveJobKey carries JobID while the run is enqueued or running and is NULL
// otherwise; its unique index allows a single live run per job posting.
type Run struct {
	ID                   string            `json:"id" gorm:"primaryKey;type:varchar(26)"`
	JobID                string            `json:"job_id" gorm:"type:varchar(64);not null;index"`
	Mailbox              string            `json:"mailbox" gorm:"type:varchar(255);not null"`
	SearchText           string            `json:"search_text" gorm:"type:varchar(500);not null"`
	MaxEmails            int               `json:"max_emails" gorm:"not null"`
	Status               RunStatus         `json:"status" gorm:"type:varchar(16);not null;index:idx_run_status_created,priority:1"`
	Progress             float64           `json:"progress" gorm:"not null;default:0"`
	TotalMessages        int               `json:"total_messages" gorm:"not null;default:0"`
	ProcessedMessages    int               `json:"processed_messages" gorm:"not null;default:0"`
	Attempts             int               `json:"attempts" gorm:"not null;default:0"`
	StartedAt            *time.Time        `json:"started_at"`
	FinishedAt           *time.Time        `json:"finished_at"`
	ProcessingDurationMS *int64            `json:"processing_duration_ms"`
	LastError            *string           `json:"last_error" gorm:"type:text"`
	Summary              datatypes.JSON    `json:"summary"`
	Meta                 datatypes.JSONMap `json:"meta"`
	ScanCompletedAt      *time.Time        `json:"scan_completed_at"`
	ActiveJobKey         *string           `json:"-" gorm:"type:varchar(64);uniqueIndex"`
	CreatedAt            time.Time         `json:"created_at" gorm:"index:idx_run_status_created,priority:2"`
	UpdatedAt            time.Time         `json:"updated_at"`
}

// TableName specifies the table name for Run
func (Run) TableName() string {
	return "import_runs"
}

// SearchMode returns the configured search mode, defaulting to full-text
func (r *Run) SearchMode() string {
	if r.Meta != nil {
		if mode, ok := r.Meta["mode"].(string); ok && mode != "" {
			return mode
		}
	}
	return SearchModeFull
}

// LookbackDays returns the configured lookback window in days, 0 meaning unbounded
func (r *Run) LookbackDays() int {
	if r.Meta == nil {
		return 0
	}
	switch v := r.Meta["lookback_days"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}

// DurationMS returns finishedAt minus startedAt (or createdAt when never started), never negative
func DurationMS(startedAt *time.Time, createdAt, finishedAt time.Time) int64 {
	from := createdAt
	if startedAt != nil {
		from = *startedAt
	}
	ms := finishedAt.Sub(from).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
