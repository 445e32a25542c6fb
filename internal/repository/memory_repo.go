package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mailblast/mailblast/internal/domain"
)

// MemoryRepo is an in-process JobRepository and AttemptRepository backed by
// maps. It backs STORE_DRIVER=memory and the service tests; semantics match
// the Gorm implementations, including the claim compare-and-swap.
type MemoryRepo struct {
	mu       sync.RWMutex
	jobs     map[string]*domain.Job
	attempts map[string][]domain.DeliveryAttempt
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		jobs:     make(map[string]*domain.Job),
		attempts: make(map[string][]domain.DeliveryAttempt),
	}
}

func (r *MemoryRepo) Create(_ context.Context, j *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	j.UpdatedAt = j.CreatedAt

	stored := cloneJob(j)
	r.jobs[j.ID] = stored
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneJob(j), nil
}

func (r *MemoryRepo) List(_ context.Context, params ListParams) ([]domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	limit := params.Limit
	if limit < 1 {
		limit = defaultListLimit
	}

	jobs := make([]domain.Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		if params.OwnerID != nil && j.OwnerID != *params.OwnerID {
			continue
		}
		if params.Status != nil && j.Status != *params.Status {
			continue
		}
		jobs = append(jobs, *cloneJob(j))
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}

	return jobs, nil
}

func (r *MemoryRepo) CancelScheduled(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status != domain.StatusScheduled {
		return domain.ErrConflict
	}

	delete(r.jobs, id)
	return nil
}

func (r *MemoryRepo) GetDueForDispatch(_ context.Context, now time.Time, limit int) ([]domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	due := make([]domain.Job, 0)
	for _, j := range r.jobs {
		if j.Status != domain.StatusScheduled || j.ScheduledAt == nil {
			continue
		}
		if j.ScheduledAt.After(now) {
			continue
		}
		due = append(due, *cloneJob(j))
	}

	sort.Slice(due, func(i, k int) bool {
		return due[i].ScheduledAt.Before(*due[k].ScheduledAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	return due, nil
}

func (r *MemoryRepo) MarkSendingIfScheduled(_ context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok || j.Status != domain.StatusScheduled {
		return false, nil
	}

	j.Status = domain.StatusSending
	j.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *MemoryRepo) Complete(_ context.Context, id string, result domain.DispatchResult, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}

	j.Status = result.Status
	j.DeliveredCount = result.DeliveredCount
	j.FailedRecipients = append([]string(nil), result.FailedRecipients...)
	j.SentAt = &sentAt
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) Fail(_ context.Context, id string, errMsg string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	j, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}

	j.Status = domain.StatusFailed
	j.Error = &errMsg
	j.SentAt = &sentAt
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *MemoryRepo) CreateAttempt(_ context.Context, a *domain.DeliveryAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	r.attempts[a.JobID] = append(r.attempts[a.JobID], *a)
	return nil
}

func (r *MemoryRepo) ListAttemptsByJobID(_ context.Context, jobID string) ([]domain.DeliveryAttempt, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	attempts := append([]domain.DeliveryAttempt(nil), r.attempts[jobID]...)
	sort.Slice(attempts, func(i, k int) bool {
		return attempts[i].ChunkIndex < attempts[k].ChunkIndex
	})
	return attempts, nil
}

// MemoryAttemptRepo adapts MemoryRepo to the AttemptRepository interface.
type MemoryAttemptRepo struct {
	store *MemoryRepo
}

func NewMemoryAttemptRepo(store *MemoryRepo) *MemoryAttemptRepo {
	return &MemoryAttemptRepo{store: store}
}

func (r *MemoryAttemptRepo) Create(ctx context.Context, a *domain.DeliveryAttempt) error {
	return r.store.CreateAttempt(ctx, a)
}

func (r *MemoryAttemptRepo) ListByJobID(ctx context.Context, jobID string) ([]domain.DeliveryAttempt, error) {
	return r.store.ListAttemptsByJobID(ctx, jobID)
}

func cloneJob(j *domain.Job) *domain.Job {
	if j == nil {
		return nil
	}

	out := *j
	out.Request.Recipients = append([]string(nil), j.Request.Recipients...)
	out.FailedRecipients = append([]string(nil), j.FailedRecipients...)
	return &out
}
