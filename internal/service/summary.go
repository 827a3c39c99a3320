package service

import (
	"context"
	"time"
)

// SummaryInput carries the final counters of a run
type SummaryInput struct {
	RunID             string
	JobID             string
	TotalMessages     int
	ProcessedMessages int
	FailedMessages    int
}

// SummaryBuilder produces the durable result document stored on a finished run
type SummaryBuilder interface {
	BuildRunSummary(ctx context.Context, in SummaryInput) (map[string]any, error)
}

// DefaultSummaryBuilder reports counters and a success rate
type DefaultSummaryBuilder struct {
	Now func() time.Time
}

func (b DefaultSummaryBuilder) BuildRunSummary(_ context.Context, in SummaryInput) (map[string]any, error) {
	now := time.Now().UTC()
	if b.Now != nil {
		now = b.Now()
	}
	rate := 0.0
	if attempted := in.ProcessedMessages + in.FailedMessages; attempted > 0 {
		rate = float64(in.ProcessedMessages) / float64(attempted)
	}
	return map[string]any{
		"run_id":             in.RunID,
		"job_id":             in.JobID,
		"total_messages":     in.TotalMessages,
		"processed_messages": in.ProcessedMessages,
		"failed_messages":    in.FailedMessages,
		"success_rate":       rate,
		"generated_at":       now.Format(time.RFC3339),
	}, nil
}
