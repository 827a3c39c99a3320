package service

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-mail-import/internal/mailbox"
	"resume-mail-import/internal/model"
)

func TestScanRunCreatesItemsForResumes(t *testing.T) {
	f := newFixture(t)
	withResume := resumeMessage("m1", "jane.pdf")
	withResume.Attachments = append(withResume.Attachments, mailbox.Attachment{Filename: "logo.png", Data: []byte("png")})
	f.mailbox = newFakeMailbox(
		withResume,
		&mailbox.Message{ID: "m2", Subject: "Question"},
		resumeMessage("m3", "john.docx"),
	)
	run := f.startRun(t, "job-1")

	require.NoError(t, f.scan.ScanRun(f.ctx, run))

	scanned := f.reload(t, run.ID)
	assert.Equal(t, model.RunRunning, scanned.Status, "parsing still pending")
	assert.Equal(t, 3, scanned.TotalMessages)
	assert.Equal(t, 3, scanned.ProcessedMessages)
	assert.NotNil(t, scanned.ScanCompletedAt)
	assert.InDelta(t, 0.1, scanned.Progress, 1e-9)

	items, total, err := f.repo.ListItems(f.ctx, run.ID, 0, 10)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)
	for _, item := range items {
		assert.Equal(t, model.ItemPending, item.Status)
		require.NotNil(t, item.ResumeID)
		resume, err := f.repo.GetResume(f.ctx, *item.ResumeID)
		require.NoError(t, err)
		data, err := f.files.Get(f.ctx, resume.StorageKey)
		require.NoError(t, err)
		assert.Equal(t, "resume "+item.MessageID, string(data))
	}

	status, err := f.runs.Status(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), status.JobCounts[string(model.AIJobPending)])

	assert.Equal(t, mailbox.Query{Text: "Backend Engineer", Mode: model.SearchModeFull, LookbackDays: DefaultLookbackDays, Limit: DefaultMaxEmails}, f.mailbox.lastQuery)
	assert.Equal(t, 1, f.mailbox.closed)

	for _, id := range []string{"m1", "m2", "m3"} {
		done, err := f.repo.IsMessageProcessed(f.ctx, "job-1", id)
		require.NoError(t, err)
		assert.True(t, done, id)
	}
}

func TestScanRunWithoutMatchesFailsRun(t *testing.T) {
	f := newFixture(t)
	run := f.startRun(t, "job-1")

	require.NoError(t, f.scan.ScanRun(f.ctx, run))

	done := f.reload(t, run.ID)
	assert.Equal(t, model.RunFailed, done.Status)
	require.NotNil(t, done.LastError)
	assert.Equal(t, "No resume attachments found", *done.LastError)
}

func TestScanRunSearchFailure(t *testing.T) {
	f := newFixture(t)
	f.mailbox.searchErr = errors.New("invalid credentials")
	run := f.startRun(t, "job-1")

	require.NoError(t, f.scan.ScanRun(f.ctx, run))

	done := f.reload(t, run.ID)
	assert.Equal(t, model.RunFailed, done.Status)
	require.NotNil(t, done.LastError)
	assert.Equal(t, "mailbox scan failed: invalid credentials", *done.LastError)
	assert.Nil(t, done.ActiveJobKey)
}

func TestScanRunSkipsImportedMessages(t *testing.T) {
	f := newFixture(t)
	f.mailbox = newFakeMailbox(resumeMessage("m1", "jane.pdf"))

	first := f.startRun(t, "job-1")
	require.NoError(t, f.scan.ScanRun(f.ctx, first))
	_, err := f.runs.Cancel(f.ctx, first.ID)
	require.NoError(t, err)

	second := f.startRun(t, "job-1")
	require.NoError(t, f.scan.ScanRun(f.ctx, second))

	done := f.reload(t, second.ID)
	assert.Equal(t, model.RunFailed, done.Status)
	assert.Equal(t, "No resume attachments found", *done.LastError)
	assert.Equal(t, 1, f.files.Len())

	// another posting imports the same message again
	other := f.startRun(t, "job-2")
	require.NoError(t, f.scan.ScanRun(f.ctx, other))
	_, total, err := f.repo.ListItems(f.ctx, other.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestScanRunUploadFailureFailsItem(t *testing.T) {
	f := newFixture(t)
	f.mailbox = newFakeMailbox(resumeMessage("m1", "jane.pdf"))
	f.scan.files = failingStore{}
	run := f.startRun(t, "job-1")

	require.NoError(t, f.scan.ScanRun(f.ctx, run))

	done := f.reload(t, run.ID)
	assert.Equal(t, model.RunFailed, done.Status)
	require.NotNil(t, done.LastError)
	assert.Equal(t, "All 1 items failed", *done.LastError)
}

func TestScanRunStopsWhenCanceled(t *testing.T) {
	f := newFixture(t)
	f.mailbox = newFakeMailbox(resumeMessage("m1", "a.pdf"), resumeMessage("m2", "b.pdf"), resumeMessage("m3", "c.pdf"))
	run := f.startRun(t, "job-1")
	f.mailbox.onFetch = func(id string) {
		if id == "m1" {
			_, err := f.runs.Cancel(f.ctx, run.ID)
			assert.NoError(t, err)
		}
	}

	require.NoError(t, f.scan.ScanRun(f.ctx, run))

	done := f.reload(t, run.ID)
	assert.Equal(t, model.RunCanceled, done.Status)
	assert.Nil(t, done.ScanCompletedAt)
	assert.Equal(t, 1, f.files.Len(), "only the message fetched before the cancel was imported")
}

func TestScanRunRespectsMaxEmails(t *testing.T) {
	f := newFixture(t)
	f.mailbox = newFakeMailbox(resumeMessage("m1", "a.pdf"), resumeMessage("m2", "b.pdf"), resumeMessage("m3", "c.pdf"))
	run, err := f.runs.Enqueue(f.ctx, EnqueueRequest{JobID: "job-1", Mailbox: "hr@example.com", SearchText: "x", MaxEmails: 2, Mode: "subject"})
	require.NoError(t, err)
	_, err = f.repo.MarkRunRunning(f.ctx, run.ID, f.clock.Now())
	require.NoError(t, err)

	require.NoError(t, f.scan.ScanRun(f.ctx, f.reload(t, run.ID)))

	assert.Equal(t, 2, f.mailbox.lastQuery.Limit)
	assert.Equal(t, mailbox.ModeSubject, f.mailbox.lastQuery.Mode)
	assert.Equal(t, 2, f.reload(t, run.ID).TotalMessages)
}

func TestPreviewEstimatesEligibleMessages(t *testing.T) {
	f := newFixture(t)
	var msgs []*mailbox.Message
	for i := 0; i < 12; i++ {
		id := string(rune('a' + i))
		if i == 0 || i == 3 {
			msgs = append(msgs, resumeMessage(id, "cv.pdf"))
		} else {
			msgs = append(msgs, &mailbox.Message{ID: id})
		}
	}
	f.mailbox = newFakeMailbox(msgs...)

	res, err := f.scan.Preview(f.ctx, PreviewRequest{Mailbox: "hr@example.com", SearchText: "engineer"})
	require.NoError(t, err)
	assert.Equal(t, PreviewResult{
		TotalMessages:     12,
		SampledMessages:   5,
		SampledWithResume: 2,
		EstimatedEligible: 5,
		Estimated:         true,
	}, res)

	_, err = f.scan.Preview(f.ctx, PreviewRequest{Mailbox: "hr@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestEstimateEligible(t *testing.T) {
	assert.Equal(t, 0, EstimateEligible(0, 0, 0))
	assert.Equal(t, 0, EstimateEligible(10, 0, 0))
	assert.Equal(t, 3, EstimateEligible(3, 3, 3))
	assert.Equal(t, 100, EstimateEligible(100, 5, 5))
	assert.Equal(t, 5, EstimateEligible(12, 5, 2))
}
