package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mailblast/mailblast/internal/domain"
	"github.com/mailblast/mailblast/internal/mailer"
	"github.com/mailblast/mailblast/internal/observability"
	"github.com/mailblast/mailblast/internal/ratelimit"
	"github.com/mailblast/mailblast/internal/repository"
)

const DefaultSendTimeout = 30 * time.Second

// Dispatcher fans one message out to a recipient list in fixed-size chunks.
// One transport call covers a whole chunk; chunks are sent strictly in order
// with a delay between consecutive calls. A failed chunk marks every address
// in it as failed and the run moves on, there is no retry.
type Dispatcher struct {
	mailer      mailer.Mailer
	limiter     ratelimit.RateLimiter
	attempts    repository.AttemptRepository
	metrics     *observability.Metrics
	logger      *zap.Logger
	sendTimeout time.Duration

	// sleep is swapped out in tests to observe inter-chunk pacing.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDispatcher(
	m mailer.Mailer,
	limiter ratelimit.RateLimiter,
	attempts repository.AttemptRepository,
	metrics *observability.Metrics,
	sendTimeout time.Duration,
	logger *zap.Logger,
) (*Dispatcher, error) {
	if m == nil {
		return nil, errors.New("mailer is required")
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	if sendTimeout <= 0 {
		sendTimeout = DefaultSendTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		mailer:      m,
		limiter:     limiter,
		attempts:    attempts,
		metrics:     metrics,
		logger:      logger,
		sendTimeout: sendTimeout,
		sleep:       sleepContext,
	}, nil
}

// Dispatch runs the whole send for a job and always returns an aggregate
// result: delivered count plus the failed addresses, with the terminal status
// derived from the two. The job request must already be normalized. If ctx is
// cancelled mid-run, every recipient not yet attempted counts as failed.
func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job) domain.DispatchResult {
	req := job.Request
	chunks := chunkRecipients(req.Recipients, req.BatchSize)

	d.metrics.IncDispatchInflight()
	defer d.metrics.DecDispatchInflight()

	logger := d.logger.With(
		zap.String("job_id", job.ID),
		zap.String("sender", req.Sender.Address),
		zap.Int("recipients", len(req.Recipients)),
		zap.Int("chunks", len(chunks)),
		zap.Int("batch_size", req.BatchSize),
	)
	logger.Info("dispatch started")

	var (
		delivered int
		failed    []string
	)

	msg := mailer.Message{
		Subject: req.Subject,
		Body:    req.Body,
		HTML:    req.BodyIsHTML,
	}

	for i, chunk := range chunks {
		if i > 0 {
			if err := d.sleep(ctx, req.BatchDelay); err != nil {
				failed = abortRemaining(logger, failed, chunks[i:], err)
				break
			}
		}

		if err := d.limiter.Wait(ctx, req.Sender.Address); err != nil {
			if ctx.Err() != nil {
				failed = abortRemaining(logger, failed, chunks[i:], err)
				break
			}
			// Limiter backend trouble is not a reason to drop mail.
			logger.Warn("rate limiter unavailable, sending unthrottled", zap.Error(err))
		}

		sendErr := d.sendChunk(ctx, req.Sender, msg, chunk)
		d.recordAttempt(ctx, job.ID, i, len(chunk), sendErr)

		if sendErr != nil {
			failed = append(failed, chunk...)
			d.metrics.IncChunkFailed(mailer.FailureReason(sendErr))
			logger.Warn("chunk send failed",
				zap.Int("chunk", i),
				zap.Int("chunk_size", len(chunk)),
				zap.Error(sendErr),
			)
			continue
		}

		delivered += len(chunk)
		d.metrics.AddEmailsDelivered(len(chunk))
		logger.Debug("chunk sent",
			zap.Int("chunk", i),
			zap.Int("chunk_size", len(chunk)),
			zap.Int("delivered_so_far", delivered),
		)
	}

	result := domain.DispatchResult{
		DeliveredCount:   delivered,
		FailedRecipients: failed,
		Status:           domain.DeriveResultStatus(len(req.Recipients), len(failed)),
	}

	logger.Info("dispatch finished",
		zap.String("status", result.Status.String()),
		zap.Int("delivered", result.DeliveredCount),
		zap.Int("failed", len(result.FailedRecipients)),
	)

	return result
}

func (d *Dispatcher) sendChunk(ctx context.Context, sender domain.SenderIdentity, msg mailer.Message, chunk []string) error {
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	msg.Recipients = chunk

	start := time.Now()
	err := d.mailer.Send(sendCtx, sender, msg)
	d.metrics.ObserveChunkSendDuration(time.Since(start))
	return err
}

func (d *Dispatcher) recordAttempt(ctx context.Context, jobID string, chunkIndex, recipientCount int, sendErr error) {
	if d.attempts == nil {
		return
	}

	attempt := domain.DeliveryAttempt{
		ID:             uuid.NewString(),
		JobID:          jobID,
		ChunkIndex:     chunkIndex,
		RecipientCount: recipientCount,
		CreatedAt:      time.Now().UTC(),
	}
	if sendErr != nil {
		msg := sendErr.Error()
		attempt.Error = &msg
	}

	if err := d.attempts.Create(ctx, &attempt); err != nil {
		d.logger.Warn("failed to record delivery attempt",
			zap.String("job_id", jobID),
			zap.Int("chunk", chunkIndex),
			zap.Error(err),
		)
	}
}

func abortRemaining(logger *zap.Logger, failed []string, remaining [][]string, cause error) []string {
	count := 0
	for _, chunk := range remaining {
		failed = append(failed, chunk...)
		count += len(chunk)
	}
	logger.Warn("dispatch aborted, remaining recipients marked failed",
		zap.Int("remaining", count),
		zap.Error(cause),
	)
	return failed
}

// chunkRecipients splits the list into ceil(len/size) slices, every one of
// size recipients except possibly the last. Order within and across chunks
// follows the input list.
func chunkRecipients(recipients []string, size int) [][]string {
	if len(recipients) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}

	chunks := make([][]string, 0, (len(recipients)+size-1)/size)
	for start := 0; start < len(recipients); start += size {
		end := start + size
		if end > len(recipients) {
			end = len(recipients)
		}
		chunks = append(chunks, recipients[start:end])
	}
	return chunks
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
