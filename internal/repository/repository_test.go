package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-mail-import/internal/dbtest"
	"resume-mail-import/internal/model"
)

func newRun(jobID string, status model.RunStatus, createdAt time.Time) *model.Run {
	return &model.Run{
		ID:         model.NewID(),
		JobID:      jobID,
		Mailbox:    "hr@example.com",
		SearchText: "resume",
		MaxEmails:  50,
		Status:     status,
		CreatedAt:  createdAt,
	}
}

func newJob(runID string, status model.AIJobStatus, createdAt time.Time, nextRetry *time.Time) *model.AIJob {
	return &model.AIJob{
		ID:          model.NewID(),
		RunID:       runID,
		ItemID:      model.NewID(),
		ResumeID:    model.NewID(),
		Status:      status,
		NextRetryAt: nextRetry,
		CreatedAt:   createdAt,
	}
}

func TestCreateRunRejectsSecondLiveRun(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))
	now := time.Now().UTC()

	first := newRun("job-1", model.RunEnqueued, now)
	require.NoError(t, repo.CreateRun(ctx, first))

	second := newRun("job-1", model.RunEnqueued, now)
	assert.ErrorIs(t, repo.CreateRun(ctx, second), ErrDuplicateActiveRun)

	other := newRun("job-2", model.RunEnqueued, now)
	assert.NoError(t, repo.CreateRun(ctx, other), "different job postings do not collide")

	ok, err := repo.FinishRun(ctx, FinishRun{
		RunID:      first.ID,
		From:       []model.RunStatus{model.RunEnqueued, model.RunRunning},
		To:         model.RunCanceled,
		FinishedAt: now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	third := newRun("job-1", model.RunEnqueued, now)
	assert.NoError(t, repo.CreateRun(ctx, third), "a terminal run frees the job posting")

	active, err := repo.FindActiveRun(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, third.ID, active.ID)
}

func TestConcurrentCreateRunAllowsOneLiveRun(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := New(gdb)
	now := time.Now().UTC()

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = repo.CreateRun(ctx, newRun("job-race", model.RunEnqueued, now))
		}(i)
	}
	wg.Wait()

	created := 0
	for _, err := range errs {
		if err == nil {
			created++
		} else {
			assert.ErrorIs(t, err, ErrDuplicateActiveRun)
		}
	}
	assert.Equal(t, 1, created)

	var live int64
	require.NoError(t, gdb.Model(&model.Run{}).Where("job_id = ?", "job-race").Count(&live).Error)
	assert.Equal(t, int64(1), live)
}

func TestMarkRunRunningIsConditional(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))
	now := time.Now().UTC()

	run := newRun("job-1", model.RunEnqueued, now)
	require.NoError(t, repo.CreateRun(ctx, run))

	ok, err := repo.MarkRunRunning(ctx, run.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkRunRunning(ctx, run.ID, now)
	require.NoError(t, err)
	assert.False(t, ok, "second promotion affects no row")

	got, err := repo.GetRun(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunRunning, got.Status)
	assert.Equal(t, 1, got.Attempts)
	require.NotNil(t, got.StartedAt)
}

func TestGetRunNotFound(t *testing.T) {
	repo := New(dbtest.Open(t))
	_, err := repo.GetRun(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListClaimCandidatesOrdering(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := New(gdb)
	now := time.Now().UTC().Truncate(time.Second)

	running := newRun("job-1", model.RunRunning, now)
	require.NoError(t, repo.CreateRun(ctx, running))
	canceled := newRun("job-2", model.RunCanceled, now)
	require.NoError(t, repo.CreateRun(ctx, canceled))

	past := now.Add(-time.Minute)
	earlier := now.Add(-2 * time.Minute)
	future := now.Add(time.Hour)

	newest := newJob(running.ID, model.AIJobPending, now.Add(-time.Second), nil)
	oldest := newJob(running.ID, model.AIJobPending, now.Add(-time.Hour), nil)
	retryDue := newJob(running.ID, model.AIJobRetry, now.Add(-3*time.Hour), &past)
	retryEarlier := newJob(running.ID, model.AIJobRetry, now.Add(-3*time.Hour), &earlier)
	retryLater := newJob(running.ID, model.AIJobRetry, now.Add(-3*time.Hour), &future)
	processing := newJob(running.ID, model.AIJobProcessing, now.Add(-4*time.Hour), nil)
	otherRun := newJob(canceled.ID, model.AIJobPending, now.Add(-5*time.Hour), nil)

	for _, j := range []*model.AIJob{newest, oldest, retryDue, retryEarlier, retryLater, processing, otherRun} {
		require.NoError(t, gdb.Create(j).Error)
	}

	jobs, err := repo.ListClaimCandidates(ctx, now, 10)
	require.NoError(t, err)

	var ids []string
	for _, j := range jobs {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{oldest.ID, newest.ID, retryEarlier.ID, retryDue.ID}, ids)

	jobs, err = repo.ListClaimCandidates(ctx, now, 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, oldest.ID, jobs[0].ID)
}

func TestConcurrentClaimHasSingleWinner(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := New(gdb)
	now := time.Now().UTC()

	run := newRun("job-1", model.RunRunning, now)
	require.NoError(t, repo.CreateRun(ctx, run))
	job := newJob(run.ID, model.AIJobPending, now, nil)
	require.NoError(t, gdb.Create(job).Error)

	const workers = 10
	var wg sync.WaitGroup
	results := make([]bool, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			observed := *job
			ok, err := repo.ClaimJob(ctx, &observed, now)
			assert.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	got, err := repo.GetAIJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AIJobProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts, "attempts increments once per successful claim")
}

func TestResolveJobIgnoresStaleClaim(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := New(gdb)
	now := time.Now().UTC()

	run := newRun("job-1", model.RunRunning, now)
	require.NoError(t, repo.CreateRun(ctx, run))
	job := newJob(run.ID, model.AIJobPending, now, nil)
	require.NoError(t, gdb.Create(job).Error)

	first := *job
	ok, err := repo.ClaimJob(ctx, &first, now)
	require.NoError(t, err)
	require.True(t, ok)

	// requeued by stale recovery and claimed again
	next := now.Add(time.Second)
	ok, err = repo.ResolveJob(ctx, &first, JobOutcome{Status: model.AIJobRetry, FinishedAt: now, NextRetryAt: &next})
	require.NoError(t, err)
	require.True(t, ok)
	second := first
	ok, err = repo.ClaimJob(ctx, &second, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ResolveJob(ctx, &first, JobOutcome{Status: model.AIJobSucceeded, FinishedAt: now})
	require.NoError(t, err)
	assert.False(t, ok, "outcome of an older claim is discarded")

	got, err := repo.GetAIJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AIJobProcessing, got.Status)
	assert.Equal(t, 2, got.Attempts)
}

func TestClaimJobRejectsCopyFromEarlierAttempt(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := New(gdb)
	now := time.Now().UTC()

	run := newRun("job-1", model.RunRunning, now)
	require.NoError(t, repo.CreateRun(ctx, run))
	job := newJob(run.ID, model.AIJobRetry, now, nil)
	require.NoError(t, gdb.Create(job).Error)

	// two workers list the same retry candidate
	stale := *job
	fresh := *job
	ok, err := repo.ClaimJob(ctx, &fresh, now)
	require.NoError(t, err)
	require.True(t, ok)

	// the winner's parse fails and the job is back in retry
	ok, err = repo.ResolveJob(ctx, &fresh, JobOutcome{Status: model.AIJobRetry, FinishedAt: now})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ClaimJob(ctx, &stale, now)
	require.NoError(t, err)
	assert.False(t, ok, "a candidate observed before the last claim cannot claim")
	assert.Equal(t, 0, stale.Attempts)

	got, err := repo.GetAIJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AIJobRetry, got.Status)
	assert.Equal(t, 1, got.Attempts)

	ok, err = repo.ClaimJob(ctx, got, now)
	require.NoError(t, err)
	assert.True(t, ok, "a fresh copy still claims")
	assert.Equal(t, 2, got.Attempts)
}

func TestResolveJobRequiresRunningRun(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := New(gdb)
	now := time.Now().UTC()

	run := newRun("job-1", model.RunRunning, now)
	require.NoError(t, repo.CreateRun(ctx, run))
	job := newJob(run.ID, model.AIJobPending, now, nil)
	require.NoError(t, gdb.Create(job).Error)

	claimed := *job
	ok, err := repo.ClaimJob(ctx, &claimed, now)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.FinishRun(ctx, FinishRun{
		RunID:      run.ID,
		From:       []model.RunStatus{model.RunRunning},
		To:         model.RunCanceled,
		FinishedAt: now,
	})
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ResolveJob(ctx, &claimed, JobOutcome{Status: model.AIJobSucceeded, FinishedAt: now, RequireRunRunning: true})
	require.NoError(t, err)
	assert.False(t, ok, "no success is written once the run is canceled")
	assert.Equal(t, model.AIJobProcessing, claimed.Status)

	reason := "run no longer running"
	ok, err = repo.ResolveJob(ctx, &claimed, JobOutcome{Status: model.AIJobFailed, FinishedAt: now, LastError: &reason})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetAIJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AIJobFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, reason, *got.LastError)
}

func TestStaleScanGuard(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))
	now := time.Now().UTC()
	started := now.Add(-time.Hour)
	cutoff := now.Add(-30 * time.Minute)

	stuck := newRun("job-1", model.RunRunning, started)
	stuck.StartedAt = &started
	require.NoError(t, repo.CreateRun(ctx, stuck))
	scanned := newRun("job-2", model.RunRunning, started)
	scanned.StartedAt = &started
	require.NoError(t, repo.CreateRun(ctx, scanned))
	recent := newRun("job-3", model.RunRunning, now)
	recent.StartedAt = &now
	require.NoError(t, repo.CreateRun(ctx, recent))

	ok, err := repo.MarkScanCompleted(ctx, scanned.ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	runs, err := repo.ListStaleScans(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, stuck.ID, runs[0].ID)

	// the scan finishing after the listing wins over the sweep
	ok, err = repo.FinishRun(ctx, FinishRun{
		RunID:           scanned.ID,
		From:            []model.RunStatus{model.RunRunning},
		To:              model.RunFailed,
		FinishedAt:      now,
		StaleScanBefore: &cutoff,
	})
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = repo.FinishRun(ctx, FinishRun{
		RunID:           stuck.ID,
		From:            []model.RunStatus{model.RunRunning},
		To:              model.RunFailed,
		FinishedAt:      now,
		StaleScanBefore: &cutoff,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := repo.GetRun(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunFailed, got.Status)
	assert.Nil(t, got.ActiveJobKey)
}

func TestReconcileAndDeleteFinishedItems(t *testing.T) {
	ctx := context.Background()
	gdb := dbtest.Open(t)
	repo := New(gdb)
	now := time.Now().UTC()

	run := newRun("job-1", model.RunRunning, now)
	require.NoError(t, repo.CreateRun(ctx, run))

	var jobs []*model.AIJob
	for _, status := range []model.AIJobStatus{model.AIJobSucceeded, model.AIJobFailed} {
		item := &model.Item{ID: model.NewID(), RunID: run.ID, Status: model.ItemProcessing}
		job := newJob(run.ID, model.AIJobPending, now, nil)
		require.NoError(t, repo.CreateImport(ctx, ImportRecord{Item: item, Job: job}))
		require.NoError(t, gdb.Model(&model.AIJob{}).Where("id = ?", job.ID).Update("status", status).Error)
		jobs = append(jobs, job)
	}
	untouched := &model.Item{ID: model.NewID(), RunID: run.ID, Status: model.ItemCanceled}
	require.NoError(t, repo.CreateImport(ctx, ImportRecord{Item: untouched}))

	fixed, err := repo.ReconcileItems(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), fixed)

	counts, err := repo.CountItemsByStatus(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[string(model.ItemCompleted)])
	assert.Equal(t, int64(1), counts[string(model.ItemFailed)])
	assert.Equal(t, int64(1), counts[string(model.ItemCanceled)])

	deleted, err := repo.DeleteFinishedItems(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	_, total, err := repo.ListItems(ctx, run.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, jobs, 2)
}

func TestMarkMessageProcessedIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := New(dbtest.Open(t))
	now := time.Now().UTC()

	done, err := repo.IsMessageProcessed(ctx, "job-1", "msg-1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, repo.MarkMessageProcessed(ctx, "job-1", "msg-1", "run-1", now))
	require.NoError(t, repo.MarkMessageProcessed(ctx, "job-1", "msg-1", "run-2", now))

	done, err = repo.IsMessageProcessed(ctx, "job-1", "msg-1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = repo.IsMessageProcessed(ctx, "job-2", "msg-1")
	require.NoError(t, err)
	assert.False(t, done)
}
