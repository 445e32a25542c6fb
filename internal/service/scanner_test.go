package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mailblast/mailblast/internal/domain"
	"github.com/mailblast/mailblast/internal/repository"
)

type countingDispatcher struct {
	mu     sync.Mutex
	result domain.DispatchResult
	jobs   []string
}

func (d *countingDispatcher) Dispatch(_ context.Context, job *domain.Job) domain.DispatchResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.jobs = append(d.jobs, job.ID)
	return d.result
}

func (d *countingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.jobs...)
}

func scheduledJob(id string, at time.Time) *domain.Job {
	return &domain.Job{
		ID:      id,
		OwnerID: "owner-1",
		Request: domain.SendRequest{
			Recipients: []string{"a@example.com"},
			Subject:    "s",
			Body:       "b",
			Sender: domain.SenderIdentity{
				Address:     "sender@example.com",
				AppPassword: "secret",
			},
			BatchSize:  10,
			BatchDelay: time.Second,
		},
		Status:      domain.StatusScheduled,
		ScheduledAt: &at,
	}
}

func newTestScanner(t *testing.T, repo repository.JobRepository, d Dispatcher) *Scanner {
	t.Helper()

	s, err := NewScanner(repo, d, nil, time.Second, 100, 2, nil)
	if err != nil {
		t.Fatalf("new scanner: %v", err)
	}
	return s
}

func TestScanner_DispatchesDueJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	cd := &countingDispatcher{result: domain.DispatchResult{DeliveredCount: 1, Status: domain.StatusSuccess}}
	s := newTestScanner(t, repo, cd)

	now := time.Now()
	for _, j := range []*domain.Job{
		scheduledJob("due-1", now.Add(-time.Minute)),
		scheduledJob("due-2", now.Add(-time.Second)),
		scheduledJob("future", now.Add(time.Hour)),
	} {
		if err := repo.Create(ctx, j); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	s.scanOnce(ctx)

	dispatched := cd.dispatched()
	if len(dispatched) != 2 {
		t.Fatalf("expected 2 dispatches, got %d: %v", len(dispatched), dispatched)
	}

	for _, id := range []string{"due-1", "due-2"} {
		job, err := repo.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if job.Status != domain.StatusSuccess {
			t.Errorf("job %s: expected SUCCESS, got %s", id, job.Status)
		}
		if job.SentAt == nil {
			t.Errorf("job %s: expected SentAt set", id)
		}
	}

	future, _ := repo.GetByID(ctx, "future")
	if future.Status != domain.StatusScheduled {
		t.Errorf("future job must stay SCHEDULED, got %s", future.Status)
	}
}

func TestScanner_SkipsAlreadyClaimedJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	cd := &countingDispatcher{result: domain.DispatchResult{Status: domain.StatusSuccess}}
	s := newTestScanner(t, repo, cd)

	job := scheduledJob("due-1", time.Now().Add(-time.Minute))
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.MarkSendingIfScheduled(ctx, "due-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}

	s.scanOnce(ctx)

	if n := len(cd.dispatched()); n != 0 {
		t.Errorf("expected claimed job to be skipped, got %d dispatches", n)
	}
}

func TestScanner_SecondScanDoesNotRedispatch(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	cd := &countingDispatcher{result: domain.DispatchResult{DeliveredCount: 1, Status: domain.StatusSuccess}}
	s := newTestScanner(t, repo, cd)

	if err := repo.Create(ctx, scheduledJob("due-1", time.Now().Add(-time.Minute))); err != nil {
		t.Fatalf("create: %v", err)
	}

	s.scanOnce(ctx)
	s.scanOnce(ctx)

	if n := len(cd.dispatched()); n != 1 {
		t.Errorf("expected exactly one dispatch across scans, got %d", n)
	}
}

func TestScanner_FailsUndispatchableRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	cd := &countingDispatcher{result: domain.DispatchResult{Status: domain.StatusSuccess}}
	s := newTestScanner(t, repo, cd)

	job := scheduledJob("bad", time.Now().Add(-time.Minute))
	job.Request.Recipients = nil
	if err := repo.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	s.scanOnce(ctx)

	if n := len(cd.dispatched()); n != 0 {
		t.Errorf("undispatchable row must not reach the dispatcher, got %d dispatches", n)
	}
	got, err := repo.GetByID(ctx, "bad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusFailed || got.Error == nil {
		t.Errorf("expected FAILED with error message, got %+v", got)
	}
}

func TestScanner_DispatchesOnceClockPassesSchedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := repository.NewMemoryRepo()
	cd := &countingDispatcher{result: domain.DispatchResult{DeliveredCount: 1, Status: domain.StatusSuccess}}
	s := newTestScanner(t, repo, cd)

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	if err := repo.Create(ctx, scheduledJob("deferred", base.Add(time.Hour))); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Before the schedule time nothing is due.
	s.now = func() time.Time { return base }
	s.scanOnce(ctx)
	if n := len(cd.dispatched()); n != 0 {
		t.Fatalf("expected no dispatch before schedule, got %d", n)
	}

	// Advance past the schedule and the job must reach a terminal state.
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	s.scanOnce(ctx)
	if n := len(cd.dispatched()); n != 1 {
		t.Fatalf("expected 1 dispatch after schedule, got %d", n)
	}

	got, err := repo.GetByID(ctx, "deferred")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Status.IsTerminal() {
		t.Errorf("expected terminal status, got %s", got.Status)
	}
	if got.SentAt == nil || !got.SentAt.Equal(base.Add(2*time.Hour)) {
		t.Errorf("expected SentAt at simulated clock, got %v", got.SentAt)
	}
}

func TestScanner_RunStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo()
	cd := &countingDispatcher{result: domain.DispatchResult{Status: domain.StatusSuccess}}
	s := newTestScanner(t, repo, cd)
	s.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scanner did not stop after context cancel")
	}
}
