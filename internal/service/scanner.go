package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mailblast/mailblast/internal/domain"
	"github.com/mailblast/mailblast/internal/observability"
	"github.com/mailblast/mailblast/internal/repository"
)

const (
	DefaultScanInterval = 5 * time.Second
	DefaultScanLimit    = 100
	DefaultConcurrency  = 4
)

// Scanner polls the registry for due scheduled jobs and dispatches them.
// Each pick-up goes through an atomic scheduled->sending claim, so running
// several instances against one database dispatches every job exactly once.
type Scanner struct {
	jobs        repository.JobRepository
	dispatcher  Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	interval    time.Duration
	limit       int
	concurrency int

	now func() time.Time
}

func NewScanner(
	jobs repository.JobRepository,
	dispatcher Dispatcher,
	metrics *observability.Metrics,
	interval time.Duration,
	limit int,
	concurrency int,
	logger *zap.Logger,
) (*Scanner, error) {
	if jobs == nil {
		return nil, errors.New("job repository is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	if interval <= 0 {
		interval = DefaultScanInterval
	}
	if limit < 1 {
		limit = DefaultScanLimit
	}
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Scanner{
		jobs:        jobs,
		dispatcher:  dispatcher,
		metrics:     metrics,
		logger:      logger,
		interval:    interval,
		limit:       limit,
		concurrency: concurrency,
		now:         time.Now,
	}, nil
}

// Run blocks until ctx is cancelled. The first scan happens immediately so a
// restart does not wait a full interval before draining overdue jobs.
func (s *Scanner) Run(ctx context.Context) {
	s.logger.Info("scheduled send scanner started",
		zap.Duration("interval", s.interval),
		zap.Int("limit", s.limit),
		zap.Int("concurrency", s.concurrency),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.scanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduled send scanner stopped")
			return
		case <-ticker.C:
			s.scanOnce(ctx)
		}
	}
}

func (s *Scanner) scanOnce(ctx context.Context) {
	due, err := s.jobs.GetDueForDispatch(ctx, s.now().UTC(), s.limit)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("due job scan failed", zap.Error(err))
		}
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Info("dispatching due jobs", zap.Int("count", len(due)))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range due {
		job := due[i]
		g.Go(func() error {
			s.dispatchDue(gctx, &job)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scanner) dispatchDue(ctx context.Context, job *domain.Job) {
	claimed, err := s.jobs.MarkSendingIfScheduled(ctx, job.ID)
	if err != nil {
		s.logger.Error("failed to claim due job",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}
	if !claimed {
		// Cancelled between scan and claim, or another instance won.
		return
	}

	sentAt := s.now().UTC()

	if len(job.Request.Recipients) == 0 || job.Request.BatchSize < 1 {
		// A stored row that cannot be dispatched; should never happen past
		// request validation.
		if err := s.jobs.Fail(ctx, job.ID, "stored request is not dispatchable", sentAt); err != nil {
			s.logger.Error("failed to mark corrupt job",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
		s.metrics.IncScheduledDispatched(domain.StatusFailed.String())
		return
	}

	result := s.dispatcher.Dispatch(ctx, job)

	sentAt = s.now().UTC()
	if err := s.jobs.Complete(ctx, job.ID, result, sentAt); err != nil {
		s.logger.Error("failed to persist scheduled dispatch result",
			zap.String("job_id", job.ID),
			zap.Error(err),
		)
		return
	}

	s.metrics.IncScheduledDispatched(result.Status.String())
	s.logger.Info("scheduled job dispatched",
		zap.String("job_id", job.ID),
		zap.String("status", result.Status.String()),
		zap.Int("delivered", result.DeliveredCount),
		zap.Int("failed", len(result.FailedRecipients)),
	)
}
