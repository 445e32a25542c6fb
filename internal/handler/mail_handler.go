package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mailblast/mailblast/internal/domain"
	"github.com/mailblast/mailblast/internal/observability"
)

type MailService interface {
	Submit(ctx context.Context, req domain.SendRequest) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	Cancel(ctx context.Context, id string) error
	List(ctx context.Context, ownerID string, status *domain.JobStatus) ([]domain.Job, error)
}

type MailHandler struct {
	service MailService
}

func NewMailHandler(service MailService) (*MailHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("mail service is required")
	}
	return &MailHandler{service: service}, nil
}

func RegisterMailRoutes(router fiber.Router, service MailService) error {
	h, err := NewMailHandler(service)
	if err != nil {
		return err
	}

	api := router.Group("/api")
	api.Post("/send-emails", h.SendEmails)
	api.Get("/scheduled-emails", h.ListJobs)
	api.Get("/scheduled-emails/:id", h.GetJob)
	api.Delete("/scheduled-emails/:id", h.CancelJob)

	return nil
}

type sendEmailsRequest struct {
	To                  []string `json:"to"`
	Subject             string   `json:"subject"`
	Body                string   `json:"body"`
	IsHTML              bool     `json:"isHtml"`
	FromEmail           string   `json:"fromEmail"`
	AppPassword         string   `json:"appPassword"`
	BatchSize           int      `json:"batchSize"`
	DelayBetweenBatches int      `json:"delayBetweenBatches"`
	Scheduled           bool     `json:"scheduled"`
	ScheduledDate       string   `json:"scheduledDate"`
	UserID              string   `json:"userId"`
}

type jobResponse struct {
	ID               string     `json:"id"`
	UserID           string     `json:"userId,omitempty"`
	Status           string     `json:"status"`
	RecipientCount   int        `json:"recipientCount"`
	DeliveredCount   int        `json:"deliveredCount"`
	FailedRecipients []string   `json:"failedRecipients,omitempty"`
	Error            *string    `json:"error,omitempty"`
	ScheduledAt      *time.Time `json:"scheduledAt,omitempty"`
	SentAt           *time.Time `json:"sentAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

type listJobsResponse struct {
	Data []jobResponse `json:"data"`
}

func (h *MailHandler) SendEmails(c *fiber.Ctx) error {
	var req sendEmailsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	sendReq, err := requestToDomain(req)
	if err != nil {
		return toHTTPError(err)
	}

	job, err := h.service.Submit(requestContext(c), sendReq)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *MailHandler) GetJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	job, err := h.service.Get(requestContext(c), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(toJobResponse(job))
}

func (h *MailHandler) CancelJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(requestContext(c), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"id":        id,
		"cancelled": true,
	})
}

func (h *MailHandler) ListJobs(c *fiber.Ctx) error {
	ownerID := strings.TrimSpace(c.Query("userId"))

	var status *domain.JobStatus
	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		parsed, err := domain.ParseJobStatusFromString(rawStatus)
		if err != nil {
			return toHTTPError(err)
		}
		status = &parsed
	}

	jobs, err := h.service.List(requestContext(c), ownerID, status)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		responses = append(responses, toJobResponse(&jobs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listJobsResponse{Data: responses})
}

// requestContext carries the request id into the service layer so dispatch
// logs can be correlated with the triggering request. The id minted by the
// requestid middleware wins; the raw header is only a fallback for apps
// running without the middleware, so clients cannot inject correlation ids.
func requestContext(c *fiber.Ctx) context.Context {
	ctx := c.Context()

	if value, ok := c.Locals("requestid").(string); ok && strings.TrimSpace(value) != "" {
		return observability.WithRequestID(ctx, strings.TrimSpace(value))
	}
	if value := strings.TrimSpace(c.Get(fiber.HeaderXRequestID)); value != "" {
		return observability.WithRequestID(ctx, value)
	}
	return ctx
}

func requestToDomain(req sendEmailsRequest) (domain.SendRequest, error) {
	sendReq := domain.SendRequest{
		Recipients: req.To,
		Subject:    req.Subject,
		Body:       req.Body,
		BodyIsHTML: req.IsHTML,
		Sender: domain.SenderIdentity{
			Address:     req.FromEmail,
			AppPassword: req.AppPassword,
		},
		BatchSize:  req.BatchSize,
		BatchDelay: time.Duration(req.DelayBetweenBatches) * time.Second,
		OwnerID:    req.UserID,
	}

	if req.Scheduled {
		raw := strings.TrimSpace(req.ScheduledDate)
		if raw == "" {
			return domain.SendRequest{}, fmt.Errorf("%w: scheduledDate is required when scheduled is true", domain.ErrValidation)
		}
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.SendRequest{}, fmt.Errorf("%w: scheduledDate must be RFC3339", domain.ErrValidation)
		}
		sendReq.ScheduledAt = &at
	}

	return sendReq, nil
}

func toJobResponse(j *domain.Job) jobResponse {
	if j == nil {
		return jobResponse{}
	}

	return jobResponse{
		ID:               j.ID,
		UserID:           j.OwnerID,
		Status:           j.Status.String(),
		RecipientCount:   len(j.Request.Recipients),
		DeliveredCount:   j.DeliveredCount,
		FailedRecipients: j.FailedRecipients,
		Error:            j.Error,
		ScheduledAt:      j.ScheduledAt,
		SentAt:           j.SentAt,
		CreatedAt:        j.CreatedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
