package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mailblast/mailblast/internal/domain"
	"gorm.io/gorm"
)

type ListParams struct {
	OwnerID *string
	Status  *domain.JobStatus
	Limit   int
}

const defaultListLimit = 200

// JobRepository tracks dispatch jobs. Deferred work is claimed off it by the
// scan loop; the scheduled->sending transition is an atomic compare-and-swap
// so a cancel racing the scanner can never both win.
type JobRepository interface {
	Create(ctx context.Context, j *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context, params ListParams) ([]domain.Job, error)
	// CancelScheduled removes the job only while its status is SCHEDULED.
	// Returns domain.ErrConflict if the job exists in any other state.
	CancelScheduled(ctx context.Context, id string) error
	GetDueForDispatch(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	// MarkSendingIfScheduled claims a due job; false means another actor
	// got there first (cancelled or already claimed).
	MarkSendingIfScheduled(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string, result domain.DispatchResult, sentAt time.Time) error
	Fail(ctx context.Context, id string, errMsg string, sentAt time.Time) error
}

type GormJobRepo struct {
	db *gorm.DB
}

func NewGormJobRepo(db *gorm.DB) *GormJobRepo {
	return &GormJobRepo{db: db}
}

func (r *GormJobRepo) Create(ctx context.Context, j *domain.Job) error {
	model := jobModelFromDomain(j)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if j != nil {
		*j = *jobModelToDomain(model)
	}
	return nil
}

func (r *GormJobRepo) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var model JobModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return jobModelToDomain(&model), nil
}

func (r *GormJobRepo) List(ctx context.Context, params ListParams) ([]domain.Job, error) {
	query := r.db.WithContext(ctx).Model(&JobModel{})

	if params.OwnerID != nil {
		query = query.Where("owner_id = ?", *params.OwnerID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}

	limit := params.Limit
	if limit < 1 {
		limit = defaultListLimit
	}

	var models []JobModel
	err := query.
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

func (r *GormJobRepo) CancelScheduled(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ? AND status = ?", id, domain.StatusScheduled).
		Delete(&JobModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Nothing deleted: distinguish unknown id from a job already past
	// SCHEDULED.
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	return domain.ErrConflict
}

func (r *GormJobRepo) GetDueForDispatch(ctx context.Context, now time.Time, limit int) ([]domain.Job, error) {
	var models []JobModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", domain.StatusScheduled, now).
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	jobs := make([]domain.Job, 0, len(models))
	for i := range models {
		jobs = append(jobs, *jobModelToDomain(&models[i]))
	}

	return jobs, nil
}

func (r *GormJobRepo) MarkSendingIfScheduled(ctx context.Context, id string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ? AND status = ?", id, domain.StatusScheduled).
		Update("status", domain.StatusSending)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *GormJobRepo) Complete(ctx context.Context, id string, result domain.DispatchResult, sentAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Select("status", "delivered_count", "failed_recipients", "sent_at").
		Updates(JobModel{
			Status:           result.Status,
			DeliveredCount:   result.DeliveredCount,
			FailedRecipients: result.FailedRecipients,
			SentAt:           &sentAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormJobRepo) Fail(ctx context.Context, id string, errMsg string, sentAt time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&JobModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":  domain.StatusFailed,
			"error":   errMsg,
			"sent_at": sentAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
