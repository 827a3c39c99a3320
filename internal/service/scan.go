package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"resume-mail-import/internal/mailbox"
	"resume-mail-import/internal/metrics"
	"resume-mail-import/internal/model"
	"resume-mail-import/internal/repository"
	"resume-mail-import/internal/storage"
)

const (
	previewSampleSize  = 5
	staleScanBatchSize = 20
)

// ScanService walks a running run's mailbox search and turns resume
// attachments into items with parsing jobs
type ScanService struct {
	repo      *repository.Repository
	open      mailbox.OpenFunc
	files     storage.AttachmentStore
	progress  *ProgressService
	finalizer *Finalizer
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewScanService(
	repo *repository.Repository,
	open mailbox.OpenFunc,
	files storage.AttachmentStore,
	progress *ProgressService,
	finalizer *Finalizer,
	m *metrics.Metrics,
) *ScanService {
	return &ScanService{
		repo:      repo,
		open:      open,
		files:     files,
		progress:  progress,
		finalizer: finalizer,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ScanRun scans the mailbox of a running run. It stops early when the run
// leaves the running state. Mailbox connection or search failures fail the
// run, as does any store error or cancellation once the scan has begun;
// failures on a single message are logged and the message is skipped.
func (s *ScanService) ScanRun(ctx context.Context, run *model.Run) error {
	if run.Status != model.RunRunning {
		return nil
	}
	log := logrus.WithFields(logrus.Fields{
		"run_id": run.ID,
		"job_id": run.JobID,
	})

	scanner, err := s.open(ctx, run.Mailbox)
	if err != nil {
		return s.failScan(ctx, run, err)
	}
	defer scanner.Close()

	ids, err := scanner.Search(ctx, mailbox.Query{
		Text:         run.SearchText,
		Mode:         run.SearchMode(),
		LookbackDays: run.LookbackDays(),
		Limit:        run.MaxEmails,
	})
	if err != nil {
		return s.failScan(ctx, run, err)
	}
	log.WithField("messages", len(ids)).Info("Mailbox search completed")

	completed, err := s.scanMessages(ctx, run, scanner, ids)
	if err != nil {
		return s.abortScan(ctx, run, err)
	}
	if !completed {
		return nil
	}
	if _, err := s.progress.Refresh(ctx, run.ID); err != nil {
		log.Warnf("Failed to refresh progress: %v", err)
	}
	if _, err := s.finalizer.TryFinalize(ctx, run.ID); err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	return nil
}

// scanMessages imports every matched message and marks the scan completed.
// It reports false when the run left the running state first.
func (s *ScanService) scanMessages(ctx context.Context, run *model.Run, scanner mailbox.Scanner, ids []string) (bool, error) {
	log := logrus.WithField("run_id", run.ID)

	if _, err := s.repo.SetRunTotalMessages(ctx, run.ID, len(ids)); err != nil {
		return false, fmt.Errorf("failed to record message total: %w", err)
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		running, err := s.repo.IsRunRunning(ctx, run.ID)
		if err != nil {
			return false, err
		}
		if !running {
			log.Info("Run left running state, stopping scan")
			return false, nil
		}

		if err := s.scanMessage(ctx, run, scanner, id); err != nil {
			return false, err
		}
		if _, err := s.repo.IncrementProcessedMessages(ctx, run.ID); err != nil {
			return false, fmt.Errorf("failed to count processed message: %w", err)
		}
		s.metrics.MessagesScanned.Inc()
		if _, err := s.progress.Refresh(ctx, run.ID); err != nil {
			log.Warnf("Failed to refresh progress: %v", err)
		}
	}

	if _, err := s.repo.MarkScanCompleted(ctx, run.ID, s.now()); err != nil {
		return false, fmt.Errorf("failed to mark scan completed: %w", err)
	}
	return true, nil
}

// scanMessage imports one message. Only store errors are returned.
func (s *ScanService) scanMessage(ctx context.Context, run *model.Run, scanner mailbox.Scanner, id string) error {
	log := logrus.WithFields(logrus.Fields{
		"run_id":     run.ID,
		"message_id": id,
	})

	done, err := s.repo.IsMessageProcessed(ctx, run.JobID, id)
	if err != nil {
		return err
	}
	if done {
		log.Debug("Message already imported for this job, skipping")
		return nil
	}

	msg, err := scanner.Fetch(ctx, id)
	if err != nil {
		log.Warnf("Failed to fetch message: %v", err)
		return nil
	}

	for _, att := range msg.ResumeAttachments() {
		if err := s.importAttachment(ctx, run, msg, att); err != nil {
			return err
		}
	}

	return s.repo.MarkMessageProcessed(ctx, run.JobID, id, run.ID, s.now())
}

func (s *ScanService) importAttachment(ctx context.Context, run *model.Run, msg *mailbox.Message, att mailbox.Attachment) error {
	gptQueued := model.GPTQueued
	item := &model.Item{
		ID:        model.NewID(),
		RunID:     run.ID,
		Status:    model.ItemPending,
		MessageID: msg.ID,
		Subject:   msg.Subject,
		Sender:    msg.From,
		Filename:  att.Filename,
		GPTStatus: &gptQueued,
	}

	resumeID := model.NewID()
	key := storage.AttachmentKey(run.JobID, run.ID, resumeID, att.Filename)
	if err := s.files.Put(ctx, key, att.Data, att.ContentType); err != nil {
		logrus.WithFields(logrus.Fields{
			"run_id":   run.ID,
			"filename": att.Filename,
		}).Warnf("Failed to store attachment: %v", err)

		reason := fmt.Sprintf("attachment upload failed: %v", err)
		item.Status = model.ItemFailed
		item.Error = &reason
		item.GPTStatus = nil
		if err := s.repo.CreateImport(ctx, repository.ImportRecord{Item: item}); err != nil {
			return err
		}
		s.metrics.ItemsDiscovered.Inc()
		return nil
	}

	rec := repository.ImportRecord{
		Item: item,
		Resume: &model.Resume{
			ID:          resumeID,
			JobID:       run.JobID,
			RunID:       run.ID,
			Filename:    att.Filename,
			ContentType: att.ContentType,
			StorageKey:  key,
			SizeBytes:   int64(len(att.Data)),
			Sender:      msg.From,
		},
		Job: &model.AIJob{
			ID:     model.NewID(),
			RunID:  run.ID,
			Status: model.AIJobPending,
		},
	}
	if err := s.repo.CreateImport(ctx, rec); err != nil {
		return err
	}
	s.metrics.ItemsDiscovered.Inc()
	return nil
}

// failScan records a scan failure. The write goes through even when ctx is done.
func (s *ScanService) failScan(ctx context.Context, run *model.Run, cause error) error {
	ctx = context.WithoutCancel(ctx)
	reason := fmt.Sprintf("mailbox scan failed: %v", cause)
	ok, err := s.closeScan(ctx, run, reason, nil)
	if err != nil {
		return fmt.Errorf("failed to record scan failure: %w", err)
	}
	if ok {
		s.metrics.RunsFinalized.WithLabelValues(string(model.RunFailed)).Inc()
		logrus.WithField("run_id", run.ID).Error(reason)
	}
	return nil
}

// abortScan fails a run whose scan stopped partway and returns the cause
func (s *ScanService) abortScan(ctx context.Context, run *model.Run, cause error) error {
	if err := s.failScan(ctx, run, cause); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// closeScan fails a running run together with its open items and queued
// jobs. With staleBefore the run must also be an unfinished scan started
// before it.
func (s *ScanService) closeScan(ctx context.Context, run *model.Run, reason string, staleBefore *time.Time) (bool, error) {
	var closed bool
	err := s.repo.WithinTx(ctx, func(tx *repository.Repository) error {
		closed = false
		now := s.now()
		ok, err := tx.FinishRun(ctx, repository.FinishRun{
			RunID:           run.ID,
			From:            []model.RunStatus{model.RunRunning},
			To:              model.RunFailed,
			FinishedAt:      now,
			DurationMS:      model.DurationMS(run.StartedAt, run.CreatedAt, now),
			LastError:       &reason,
			StaleScanBefore: staleBefore,
		})
		if err != nil || !ok {
			return err
		}
		if _, err := tx.CloseOpenItems(ctx, run.ID, model.ItemFailed, now); err != nil {
			return fmt.Errorf("failed to close items: %w", err)
		}
		if _, err := tx.FailQueuedJobs(ctx, run.ID, now, reason); err != nil {
			return fmt.Errorf("failed to fail queued ai jobs: %w", err)
		}
		closed = true
		return nil
	})
	return closed, err
}

// SweepStaleScans fails running runs whose scan started more than staleAfter
// ago and never completed, which frees their job posting for a new run.
func (s *ScanService) SweepStaleScans(ctx context.Context, staleAfter time.Duration) (int, error) {
	if staleAfter <= 0 {
		return 0, nil
	}
	cutoff := s.now().Add(-staleAfter)
	runs, err := s.repo.ListStaleScans(ctx, cutoff, staleScanBatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for i := range runs {
		run := &runs[i]
		reason := fmt.Sprintf("mailbox scan abandoned after %s", staleAfter)
		ok, err := s.closeScan(ctx, run, reason, &cutoff)
		if err != nil {
			return swept, fmt.Errorf("failed to close stale scan of run %s: %w", run.ID, err)
		}
		if !ok {
			continue
		}
		swept++
		s.metrics.RunsFinalized.WithLabelValues(string(model.RunFailed)).Inc()
		logrus.WithFields(logrus.Fields{
			"run_id": run.ID,
			"job_id": run.JobID,
		}).Warn(reason)
	}
	return swept, nil
}

// PreviewRequest describes a search to estimate without creating a run
type PreviewRequest struct {
	Mailbox      string
	SearchText   string
	MaxEmails    int
	Mode         string
	LookbackDays int
}

// PreviewResult is an estimate of how many matching emails carry a resume.
// EstimatedEligible extrapolates the sampled ratio to every match.
type PreviewResult struct {
	TotalMessages     int  `json:"total_messages"`
	SampledMessages   int  `json:"sampled_messages"`
	SampledWithResume int  `json:"sampled_with_resume"`
	EstimatedEligible int  `json:"estimated_eligible"`
	Estimated         bool `json:"estimated"`
}

// Preview searches the mailbox and samples the first few matches
func (s *ScanService) Preview(ctx context.Context, req PreviewRequest) (PreviewResult, error) {
	req.Mailbox = strings.TrimSpace(req.Mailbox)
	req.SearchText = strings.TrimSpace(req.SearchText)
	if req.Mailbox == "" || req.SearchText == "" {
		return PreviewResult{}, fmt.Errorf("mailbox and search_text are required: %w", ErrInvalidInput)
	}
	mode, err := normalizeMode(req.Mode)
	if err != nil {
		return PreviewResult{}, err
	}

	scanner, err := s.open(ctx, req.Mailbox)
	if err != nil {
		return PreviewResult{}, fmt.Errorf("failed to open mailbox: %w", err)
	}
	defer scanner.Close()

	ids, err := scanner.Search(ctx, mailbox.Query{
		Text:         req.SearchText,
		Mode:         mode,
		LookbackDays: normalizeLookback(req.LookbackDays),
		Limit:        normalizeMaxEmails(req.MaxEmails),
	})
	if err != nil {
		return PreviewResult{}, fmt.Errorf("failed to search mailbox: %w", err)
	}

	result := PreviewResult{TotalMessages: len(ids), Estimated: true}
	for _, id := range ids {
		if result.SampledMessages == previewSampleSize {
			break
		}
		msg, err := scanner.Fetch(ctx, id)
		if err != nil {
			logrus.WithField("message_id", id).Warnf("Failed to fetch preview sample: %v", err)
			continue
		}
		result.SampledMessages++
		if len(msg.ResumeAttachments()) > 0 {
			result.SampledWithResume++
		}
	}
	result.EstimatedEligible = EstimateEligible(result.TotalMessages, result.SampledMessages, result.SampledWithResume)
	return result, nil
}

// EstimateEligible extrapolates the sampled hit ratio to the unsampled messages
func EstimateEligible(total, sampled, hits int) int {
	if sampled <= 0 || total <= 0 {
		return 0
	}
	if sampled >= total {
		return hits
	}
	ratio := float64(hits) / float64(sampled)
	return hits + int(math.Round(ratio*float64(total-sampled)))
}
