package repository

import (
	"time"

	"github.com/mailblast/mailblast/internal/domain"
)

// JobModel is the persistence model for the jobs table. The sender app
// password is stored as-is; credential vaulting is a deployment concern.
type JobModel struct {
	ID                string            `gorm:"type:uuid;primaryKey"`
	OwnerID           string            `gorm:"type:varchar(255);index"`
	Recipients        []string          `gorm:"serializer:json;type:jsonb;not null"`
	Subject           string            `gorm:"type:text;not null"`
	Body              string            `gorm:"type:text;not null"`
	BodyIsHTML        bool              `gorm:"not null;default:false"`
	SenderAddress     string            `gorm:"type:varchar(255);not null"`
	SenderAppPassword string            `gorm:"type:text;not null"`
	BatchSize         int               `gorm:"not null"`
	BatchDelaySeconds int               `gorm:"not null"`
	Status            domain.JobStatus  `gorm:"type:varchar(20);not null"`
	DeliveredCount    int               `gorm:"not null;default:0"`
	FailedRecipients  []string          `gorm:"serializer:json;type:jsonb"`
	Error             *string           `gorm:"type:text"`
	ScheduledAt       *time.Time        `gorm:"type:timestamptz"`
	SentAt            *time.Time        `gorm:"type:timestamptz"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (JobModel) TableName() string {
	return "jobs"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID             string  `gorm:"type:uuid;primaryKey"`
	JobID          string  `gorm:"type:uuid;not null"`
	ChunkIndex     int     `gorm:"not null"`
	RecipientCount int     `gorm:"not null"`
	Error          *string `gorm:"type:text"`
	CreatedAt      time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

func jobModelFromDomain(j *domain.Job) *JobModel {
	if j == nil {
		return nil
	}

	return &JobModel{
		ID:                j.ID,
		OwnerID:           j.OwnerID,
		Recipients:        j.Request.Recipients,
		Subject:           j.Request.Subject,
		Body:              j.Request.Body,
		BodyIsHTML:        j.Request.BodyIsHTML,
		SenderAddress:     j.Request.Sender.Address,
		SenderAppPassword: j.Request.Sender.AppPassword,
		BatchSize:         j.Request.BatchSize,
		BatchDelaySeconds: int(j.Request.BatchDelay / time.Second),
		Status:            j.Status,
		DeliveredCount:    j.DeliveredCount,
		FailedRecipients:  j.FailedRecipients,
		Error:             j.Error,
		ScheduledAt:       j.ScheduledAt,
		SentAt:            j.SentAt,
		CreatedAt:         j.CreatedAt,
		UpdatedAt:         j.UpdatedAt,
	}
}

func jobModelToDomain(m *JobModel) *domain.Job {
	if m == nil {
		return nil
	}

	return &domain.Job{
		ID:      m.ID,
		OwnerID: m.OwnerID,
		Request: domain.SendRequest{
			Recipients: m.Recipients,
			Subject:    m.Subject,
			Body:       m.Body,
			BodyIsHTML: m.BodyIsHTML,
			Sender: domain.SenderIdentity{
				Address:     m.SenderAddress,
				AppPassword: m.SenderAppPassword,
			},
			BatchSize:   m.BatchSize,
			BatchDelay:  time.Duration(m.BatchDelaySeconds) * time.Second,
			ScheduledAt: m.ScheduledAt,
			OwnerID:     m.OwnerID,
		},
		Status:           m.Status,
		DeliveredCount:   m.DeliveredCount,
		FailedRecipients: m.FailedRecipients,
		Error:            m.Error,
		ScheduledAt:      m.ScheduledAt,
		SentAt:           m.SentAt,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:             a.ID,
		JobID:          a.JobID,
		ChunkIndex:     a.ChunkIndex,
		RecipientCount: a.RecipientCount,
		Error:          a.Error,
		CreatedAt:      a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:             m.ID,
		JobID:          m.JobID,
		ChunkIndex:     m.ChunkIndex,
		RecipientCount: m.RecipientCount,
		Error:          m.Error,
		CreatedAt:      m.CreatedAt,
	}
}
