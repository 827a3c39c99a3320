package service

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/model"
	"resume-mail-import/internal/repository"
)

const (
	scanWeight  = 0.10
	parseWeight = 0.90
)

// ComputeProgress blends scan progress (10%) and AI parsing progress (90%)
// into a value in [0, 1]. Before any AI job exists the parse stage tracks the
// scan stage, so progress moves while the scan is still discovering work.
func ComputeProgress(totalMessages, processedMessages, totalAIJobs, completedAIJobs int) float64 {
	emailRatio := 0.0
	switch {
	case totalMessages > 0:
		emailRatio = clamp(float64(processedMessages)/float64(totalMessages), 0, 1)
	case processedMessages > 0:
		emailRatio = 1
	}

	aiRatio := 0.0
	switch {
	case totalAIJobs > 0:
		aiRatio = clamp(float64(completedAIJobs)/float64(totalAIJobs), 0, 1)
	case totalMessages > 0:
		aiRatio = emailRatio
	case processedMessages > 0 || completedAIJobs > 0:
		aiRatio = 1
	}

	return clamp(scanWeight*emailRatio+parseWeight*aiRatio, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ProgressService recomputes a run's stored progress from durable counters
type ProgressService struct {
	repo *repository.Repository
}

func NewProgressService(repo *repository.Repository) *ProgressService {
	return &ProgressService{repo: repo}
}

// Refresh recomputes progress for a running run. Stored progress only moves forward.
func (p *ProgressService) Refresh(ctx context.Context, runID string) (float64, error) {
	run, err := p.repo.GetRun(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to load run: %w", err)
	}
	if run.Status != model.RunRunning {
		return run.Progress, nil
	}

	counts, err := p.repo.CountAIJobsByStatus(ctx, runID)
	if err != nil {
		return 0, err
	}
	total, completed := 0, 0
	for status, n := range counts {
		total += int(n)
		if status == string(model.AIJobSucceeded) || status == string(model.AIJobFailed) {
			completed += int(n)
		}
	}

	progress := ComputeProgress(run.TotalMessages, run.ProcessedMessages, total, completed)
	if _, err := p.repo.RaiseRunProgress(ctx, runID, progress); err != nil {
		return 0, fmt.Errorf("failed to store progress: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"run_id":   runID,
		"progress": progress,
	}).Debug("Run progress refreshed")
	return progress, nil
}
