package model

import "time"

// ItemStatus is the lifecycle state of a discovered attachment
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemProcessing ItemStatus = "processing"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemCanceled   ItemStatus = "canceled"
)

// GPT mirror states shown on Item
const (
	GPTQueued     = "queued"
	GPTInProgress = "in_progress"
	GPTSucceeded  = "succeeded"
	GPTFailed     = "failed"
)

// Item is one discovered email attachment within a Run. The GPT* columns mirror
// the owning AIJob for cheap UI reads; the AIJob row stays authoritative.
type Item struct {
	ID               string     `json:"id" gorm:"primaryKey;type:varchar(26)"`
	RunID            string     `json:"run_id" gorm:"type:varchar(26);not null;index:idx_item_run_status,priority:1"`
	Status           ItemStatus `json:"status" gorm:"type:varchar(16);not null;index:idx_item_run_status,priority:2"`
	ResumeID         *string    `json:"resume_id" gorm:"type:varchar(26);index"`
	MessageID        string     `json:"message_id" gorm:"type:varchar(255)"`
	Subject          string     `json:"subject" gorm:"type:varchar(500)"`
	Sender           string     `json:"sender" gorm:"type:varchar(255)"`
	Filename         string     `json:"filename" gorm:"type:varchar(255)"`
	Error            *string    `json:"error" gorm:"type:text"`
	GPTStatus        *string    `json:"gpt_status" gorm:"column:gpt_status;type:varchar(16)"`
	GPTAttempts      int        `json:"gpt_attempts" gorm:"column:gpt_attempts;not null;default:0"`
	GPTLastStartedAt *time.Time `json:"gpt_last_started_at" gorm:"column:gpt_last_started_at"`
	GPTLastError     *string    `json:"gpt_last_error" gorm:"column:gpt_last_error;type:text"`
	GPTNextRetryAt   *time.Time `json:"gpt_next_retry_at" gorm:"column:gpt_next_retry_at"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// TableName specifies the table name for Item
func (Item) TableName() string {
	return "import_items"
}
