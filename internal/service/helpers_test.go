package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"resume-mail-import/internal/dbtest"
	"resume-mail-import/internal/mailbox"
	"resume-mail-import/internal/metrics"
	"resume-mail-import/internal/model"
	"resume-mail-import/internal/parser"
	"resume-mail-import/internal/repository"
	"resume-mail-import/internal/storage"
)

const (
	testBaseBackoff = 30 * time.Second
	testMaxBackoff  = 10 * time.Minute
	testMaxAttempts = 3
	testStaleAfter  = 15 * time.Minute

	testScanStaleAfter = 30 * time.Minute
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeParser fails resumes listed in errs, fails the first `failures` calls,
// and can block or call back mid-parse
type fakeParser struct {
	mu       sync.Mutex
	errs     map[string]error
	failures int
	calls    map[string]int
	delay    time.Duration
	during   func(req parser.ParseRequest)
	inFlight int
	peak     int
}

func newFakeParser() *fakeParser {
	return &fakeParser{errs: map[string]error{}, calls: map[string]int{}}
}

func (p *fakeParser) ParseResume(ctx context.Context, req parser.ParseRequest) error {
	p.mu.Lock()
	p.calls[req.ResumeID]++
	p.inFlight++
	if p.inFlight > p.peak {
		p.peak = p.inFlight
	}
	err := p.errs[req.ResumeID]
	if err == nil && p.failures > 0 {
		p.failures--
		err = errors.New("upstream unavailable")
	}
	delay := p.delay
	during := p.during
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if during != nil {
		during(req)
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (p *fakeParser) Calls(resumeID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[resumeID]
}

func (p *fakeParser) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// fakeMailbox serves canned messages, newest first in the order given
type fakeMailbox struct {
	mu        sync.Mutex
	order     []string
	messages  map[string]*mailbox.Message
	searchErr error
	lastQuery mailbox.Query
	onFetch   func(id string)
	closed    int
}

func newFakeMailbox(msgs ...*mailbox.Message) *fakeMailbox {
	f := &fakeMailbox{messages: map[string]*mailbox.Message{}}
	for _, m := range msgs {
		f.order = append(f.order, m.ID)
		f.messages[m.ID] = m
	}
	return f
}

func (f *fakeMailbox) Open(context.Context, string) (mailbox.Scanner, error) {
	return f, nil
}

func (f *fakeMailbox) Search(_ context.Context, q mailbox.Query) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQuery = q
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	ids := append([]string(nil), f.order...)
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

func (f *fakeMailbox) Fetch(_ context.Context, id string) (*mailbox.Message, error) {
	if f.onFetch != nil {
		f.onFetch(id)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := f.messages[id]
	if !ok {
		return nil, errors.New("no such message")
	}
	return msg, nil
}

func (f *fakeMailbox) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

type failingStore struct{}

func (failingStore) Put(context.Context, string, []byte, string) error {
	return errors.New("bucket unavailable")
}

func (failingStore) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("bucket unavailable")
}

type recordingTrigger struct {
	notified chan string
}

func (t *recordingTrigger) Notify(_ context.Context, runID string) error {
	t.notified <- runID
	return nil
}

type fixture struct {
	ctx        context.Context
	db         *gorm.DB
	repo       *repository.Repository
	clock      *testClock
	parser     *fakeParser
	mailbox    *fakeMailbox
	files      *storage.MemoryStore
	runs       *RunService
	dispatcher *Dispatcher
	progress   *ProgressService
	finalizer  *Finalizer
	scan       *ScanService
	worker     *Worker
	pipeline   *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb := dbtest.Open(t)
	repo := repository.New(gdb)
	m := metrics.NewMetrics(prometheus.NewRegistry())
	clock := &testClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}

	f := &fixture{
		ctx:     context.Background(),
		db:      gdb,
		repo:    repo,
		clock:   clock,
		parser:  newFakeParser(),
		mailbox: newFakeMailbox(),
		files:   storage.NewMemoryStore(),
	}

	f.progress = NewProgressService(repo)
	f.finalizer = NewFinalizer(repo, DefaultSummaryBuilder{Now: clock.Now}, m)
	f.finalizer.now = clock.Now
	f.runs = NewRunService(repo, NoopTrigger{}, m)
	f.runs.now = clock.Now
	f.dispatcher = NewDispatcher(repo, m)
	f.dispatcher.now = clock.Now
	f.scan = NewScanService(repo, func(ctx context.Context, mb string) (mailbox.Scanner, error) {
		return f.mailbox.Open(ctx, mb)
	}, f.files, f.progress, f.finalizer, m)
	f.scan.now = clock.Now
	f.worker = NewWorker(repo, f.parser, f.progress, f.finalizer, m, WorkerSettings{
		MaxAttempts: testMaxAttempts,
		BaseBackoff: testBaseBackoff,
		MaxBackoff:  testMaxBackoff,
		StaleAfter:  testStaleAfter,
	})
	f.worker.now = clock.Now
	f.pipeline = NewPipeline(repo, f.dispatcher, f.scan, f.worker, PipelineSettings{
		Concurrency:    3,
		PerJobTimeout:  time.Second,
		ScanStaleAfter: testScanStaleAfter,
	})

	dbtest.SeedJobPosting(t, gdb, "job-1")
	dbtest.SeedJobPosting(t, gdb, "job-2")
	return f
}

func (f *fixture) enqueue(t *testing.T, jobID string) *model.Run {
	t.Helper()
	run, err := f.runs.Enqueue(f.ctx, EnqueueRequest{JobID: jobID, Mailbox: "hr@example.com", SearchText: "Backend Engineer"})
	require.NoError(t, err)
	return run
}

// startRun enqueues and dispatches a run for jobID
func (f *fixture) startRun(t *testing.T, jobID string) *model.Run {
	t.Helper()
	run := f.enqueue(t, jobID)
	ok, err := f.repo.MarkRunRunning(f.ctx, run.ID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
	return f.reload(t, run.ID)
}

func (f *fixture) reload(t *testing.T, runID string) *model.Run {
	t.Helper()
	run, err := f.repo.GetRun(f.ctx, runID)
	require.NoError(t, err)
	return run
}

// addWork creates a pending item, resume and AI job for run
func (f *fixture) addWork(t *testing.T, run *model.Run) (*model.Item, *model.AIJob) {
	t.Helper()
	item := &model.Item{ID: model.NewID(), RunID: run.ID, Status: model.ItemPending, Filename: "cv.pdf"}
	job := &model.AIJob{ID: model.NewID(), RunID: run.ID, Status: model.AIJobPending}
	require.NoError(t, f.repo.CreateImport(f.ctx, repository.ImportRecord{
		Item: item,
		Resume: &model.Resume{
			ID:         model.NewID(),
			JobID:      run.JobID,
			RunID:      run.ID,
			Filename:   "cv.pdf",
			StorageKey: "k/" + item.ID,
		},
		Job: job,
	}))
	return item, job
}

func (f *fixture) completeScan(t *testing.T, runID string) {
	t.Helper()
	ok, err := f.repo.MarkScanCompleted(f.ctx, runID, f.clock.Now())
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) job(t *testing.T, id string) *model.AIJob {
	t.Helper()
	job, err := f.repo.GetAIJob(f.ctx, id)
	require.NoError(t, err)
	return job
}

func (f *fixture) item(t *testing.T, id string) *model.Item {
	t.Helper()
	item, err := f.repo.GetItem(f.ctx, id)
	require.NoError(t, err)
	return item
}

func resumeMessage(id, filename string) *mailbox.Message {
	return &mailbox.Message{
		ID:      id,
		Subject: "Application " + id,
		From:    id + "@candidates.example.com",
		Attachments: []mailbox.Attachment{
			{Filename: filename, ContentType: "application/pdf", Data: []byte("resume " + id)},
		},
	}
}
