package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailblast/mailblast/internal/domain"
	"github.com/mailblast/mailblast/internal/observability"
	"github.com/mailblast/mailblast/internal/repository"
)

// Dispatcher runs the batched fan-out for one job and reports the aggregate
// outcome.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *domain.Job) domain.DispatchResult
}

// MailService is the application core behind the HTTP surface: it accepts
// send requests, runs immediate dispatches inline, and manages the registry
// of deferred jobs.
type MailService struct {
	jobs       repository.JobRepository
	dispatcher Dispatcher
	logger     *zap.Logger

	now func() time.Time
}

func NewMailService(jobs repository.JobRepository, dispatcher Dispatcher, logger *zap.Logger) (*MailService, error) {
	if jobs == nil {
		return nil, errors.New("job repository is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MailService{
		jobs:       jobs,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Submit accepts a send request. Requests without a schedule are dispatched
// synchronously and returned with their terminal status; scheduled requests
// are registered and returned as SCHEDULED for the scan loop to pick up.
func (s *MailService) Submit(ctx context.Context, req domain.SendRequest) (*domain.Job, error) {
	req.Normalize()
	if err := req.Validate(s.now()); err != nil {
		return nil, err
	}

	if req.ScheduledAt != nil {
		return s.schedule(ctx, req)
	}
	return s.sendNow(ctx, req)
}

func (s *MailService) sendNow(ctx context.Context, req domain.SendRequest) (*domain.Job, error) {
	job := &domain.Job{
		ID:      uuid.NewString(),
		OwnerID: req.OwnerID,
		Request: req,
		Status:  domain.StatusSending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	result := s.dispatcher.Dispatch(ctx, job)

	sentAt := s.now().UTC()
	if err := s.jobs.Complete(ctx, job.ID, result, sentAt); err != nil {
		// The mail is already out; surface the job with its in-memory
		// outcome and leave the stale row to operators.
		observability.WithContextLogger(s.logger, ctx).Error("failed to persist dispatch result",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
	}

	job.Status = result.Status
	job.DeliveredCount = result.DeliveredCount
	job.FailedRecipients = result.FailedRecipients
	job.SentAt = &sentAt
	return job, nil
}

func (s *MailService) schedule(ctx context.Context, req domain.SendRequest) (*domain.Job, error) {
	job := &domain.Job{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Request:     req,
		Status:      domain.StatusScheduled,
		ScheduledAt: req.ScheduledAt,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("create scheduled job: %w", err)
	}

	observability.WithContextLogger(s.logger, ctx).Info("send scheduled",
		zap.String("job_id", job.ID),
		zap.Timep("scheduled_at", job.ScheduledAt),
		zap.Int("recipients", len(req.Recipients)),
	)
	return job, nil
}

// Cancel removes a job that has not started sending. A job already claimed
// by the dispatcher, or already finished, reports a conflict.
func (s *MailService) Cancel(ctx context.Context, id string) error {
	if err := uuid.Validate(id); err != nil {
		return fmt.Errorf("%w: invalid job id %q", domain.ErrValidation, id)
	}

	if err := s.jobs.CancelScheduled(ctx, id); err != nil {
		return err
	}

	observability.WithContextLogger(s.logger, ctx).Info("scheduled send cancelled", zap.String("job_id", id))
	return nil
}

func (s *MailService) Get(ctx context.Context, id string) (*domain.Job, error) {
	if err := uuid.Validate(id); err != nil {
		return nil, fmt.Errorf("%w: invalid job id %q", domain.ErrValidation, id)
	}
	return s.jobs.GetByID(ctx, id)
}

// List is a projection of every known job, optionally restricted to one
// owner and one status. With no status filter it returns scheduled and
// completed jobs alike, so a deferred send stays visible in the listing
// after it fires and reaches a terminal status.
func (s *MailService) List(ctx context.Context, ownerID string, status *domain.JobStatus) ([]domain.Job, error) {
	params := repository.ListParams{Status: status}
	if ownerID != "" {
		params.OwnerID = &ownerID
	}
	return s.jobs.List(ctx, params)
}
