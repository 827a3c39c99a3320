package handler

import (
	"time"

	"resume-mail-import/internal/model"
)

// EnqueueRunRequest represents the request body of POST /runs
type EnqueueRunRequest struct {
	JobID        string `json:"job_id" binding:"required"`
	Mailbox      string `json:"mailbox" binding:"required"`
	SearchText   string `json:"search_text" binding:"required"`
	MaxEmails    int    `json:"max_emails" binding:"gte=0"`
	Mode         string `json:"mode"`
	LookbackDays int    `json:"lookback_days" binding:"gte=0"`
}

// PreviewRunRequest represents the request body of POST /runs/preview
type PreviewRunRequest struct {
	Mailbox      string `json:"mailbox" binding:"required"`
	SearchText   string `json:"search_text" binding:"required"`
	MaxEmails    int    `json:"max_emails" binding:"gte=0"`
	Mode         string `json:"mode"`
	LookbackDays int    `json:"lookback_days" binding:"gte=0"`
}

// RunStatusResponse is a run with its item and AI job counts
type RunStatusResponse struct {
	*model.Run
	ItemCounts map[string]int64 `json:"item_counts"`
	JobCounts  map[string]int64 `json:"job_counts"`
}

// Pagination describes a page of a listing
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
}

// RunListResponse is a page of runs
type RunListResponse struct {
	Runs       []model.Run `json:"runs"`
	Pagination Pagination  `json:"pagination"`
}

// ItemListResponse is a page of items for one run
type ItemListResponse struct {
	Items      []model.Item `json:"items"`
	Pagination Pagination   `json:"pagination"`
}

// DispatchResponse reports the run promoted by POST /dispatch, if any
type DispatchResponse struct {
	Dispatched *string `json:"dispatched"`
	Status     string  `json:"status"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Database  string            `json:"database"`
	Metrics   map[string]string `json:"metrics,omitempty"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// ConflictResponse is returned when a live run blocks an enqueue
type ConflictResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
	RunID   string `json:"run_id"`
}
