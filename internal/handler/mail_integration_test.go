package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/mailblast/mailblast/internal/domain"
	"github.com/mailblast/mailblast/internal/observability"
	"github.com/mailblast/mailblast/internal/repository"
	"github.com/mailblast/mailblast/internal/service"
	"github.com/mailblast/mailblast/internal/transport"
)

type stubMailService struct {
	submitFn func(ctx context.Context, req domain.SendRequest) (*domain.Job, error)
	getFn    func(ctx context.Context, id string) (*domain.Job, error)
	cancelFn func(ctx context.Context, id string) error
	listFn   func(ctx context.Context, ownerID string, status *domain.JobStatus) ([]domain.Job, error)
}

func (s *stubMailService) Submit(ctx context.Context, req domain.SendRequest) (*domain.Job, error) {
	return s.submitFn(ctx, req)
}

func (s *stubMailService) Get(ctx context.Context, id string) (*domain.Job, error) {
	return s.getFn(ctx, id)
}

func (s *stubMailService) Cancel(ctx context.Context, id string) error {
	return s.cancelFn(ctx, id)
}

func (s *stubMailService) List(ctx context.Context, ownerID string, status *domain.JobStatus) ([]domain.Job, error) {
	return s.listFn(ctx, ownerID, status)
}

func newMailTestApp(t *testing.T, svc MailService) *fiber.App {
	t.Helper()

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})

	if err := RegisterMailRoutes(app, svc); err != nil {
		t.Fatalf("RegisterMailRoutes() error = %v", err)
	}

	return app
}

func performRequest(t *testing.T, app *fiber.App, method string, path string, body string) (*http.Response, []byte) {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	_ = resp.Body.Close()

	return resp, respBody
}

func TestMailIntegration_SendEmailsImmediate(t *testing.T) {
	t.Parallel()

	svc := &stubMailService{
		submitFn: func(_ context.Context, req domain.SendRequest) (*domain.Job, error) {
			if req.ScheduledAt != nil {
				t.Fatal("immediate request must not carry a schedule")
			}
			if req.BatchSize != 5 {
				t.Fatalf("batchSize = %d, want 5", req.BatchSize)
			}
			if req.BatchDelay != 2*time.Second {
				t.Fatalf("batchDelay = %v, want 2s", req.BatchDelay)
			}
			sentAt := time.Now()
			return &domain.Job{
				ID:               "job-1",
				OwnerID:          req.OwnerID,
				Request:          req,
				Status:           domain.StatusPartial,
				DeliveredCount:   2,
				FailedRecipients: []string{"c@example.com"},
				SentAt:           &sentAt,
			}, nil
		},
	}

	app := newMailTestApp(t, svc)

	body := `{
		"to": ["a@example.com", "b@example.com", "c@example.com"],
		"subject": "hello",
		"body": "world",
		"fromEmail": "sender@example.com",
		"appPassword": "secret",
		"batchSize": 5,
		"delayBetweenBatches": 2,
		"userId": "owner-1"
	}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/api/send-emails", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var got map[string]any
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["id"] != "job-1" {
		t.Errorf("id = %v, want job-1", got["id"])
	}
	if got["status"] != domain.StatusPartial.String() {
		t.Errorf("status = %v, want PARTIAL", got["status"])
	}
	if got["deliveredCount"] != float64(2) {
		t.Errorf("deliveredCount = %v, want 2", got["deliveredCount"])
	}
	failed, _ := got["failedRecipients"].([]any)
	if len(failed) != 1 || failed[0] != "c@example.com" {
		t.Errorf("failedRecipients = %v", got["failedRecipients"])
	}
}

func TestMailIntegration_SendEmailsScheduled(t *testing.T) {
	t.Parallel()

	wantAt, _ := time.Parse(time.RFC3339, "2026-09-15T10:00:00Z")
	svc := &stubMailService{
		submitFn: func(_ context.Context, req domain.SendRequest) (*domain.Job, error) {
			if req.ScheduledAt == nil || !req.ScheduledAt.Equal(wantAt) {
				t.Fatalf("ScheduledAt = %v, want %v", req.ScheduledAt, wantAt)
			}
			return &domain.Job{
				ID:          "job-2",
				Request:     req,
				Status:      domain.StatusScheduled,
				ScheduledAt: req.ScheduledAt,
			}, nil
		},
	}

	app := newMailTestApp(t, svc)

	body := `{
		"to": ["a@example.com"],
		"subject": "later",
		"body": "world",
		"fromEmail": "sender@example.com",
		"appPassword": "secret",
		"scheduled": true,
		"scheduledDate": "2026-09-15T10:00:00Z"
	}`
	resp, respBody := performRequest(t, app, http.MethodPost, "/api/send-emails", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var got map[string]any
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if got["status"] != domain.StatusScheduled.String() {
		t.Errorf("status = %v, want SCHEDULED", got["status"])
	}
}

func TestMailIntegration_SendEmailsBadRequests(t *testing.T) {
	t.Parallel()

	svc := &stubMailService{
		submitFn: func(_ context.Context, req domain.SendRequest) (*domain.Job, error) {
			req.Normalize()
			if err := req.Validate(time.Now()); err != nil {
				return nil, err
			}
			return &domain.Job{ID: "job-1", Status: domain.StatusSuccess}, nil
		},
	}
	app := newMailTestApp(t, svc)

	tests := []struct {
		name string
		body string
	}{
		{name: "malformed json", body: `{"to": [`},
		{name: "missing recipients", body: `{"subject":"s","body":"b","fromEmail":"x@example.com","appPassword":"p"}`},
		{name: "scheduled without date", body: `{"to":["a@example.com"],"subject":"s","body":"b","fromEmail":"x@example.com","appPassword":"p","scheduled":true}`},
		{name: "bad scheduled date", body: `{"to":["a@example.com"],"subject":"s","body":"b","fromEmail":"x@example.com","appPassword":"p","scheduled":true,"scheduledDate":"tomorrow"}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, respBody := performRequest(t, app, http.MethodPost, "/api/send-emails", tt.body)
			if resp.StatusCode != fiber.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body=%s", resp.StatusCode, string(respBody))
			}
		})
	}
}

func TestMailIntegration_CancelStatusCodes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		cancelErr  error
		wantStatus int
	}{
		{name: "ok", cancelErr: nil, wantStatus: fiber.StatusOK},
		{name: "unknown id", cancelErr: domain.ErrNotFound, wantStatus: fiber.StatusNotFound},
		{name: "already sending", cancelErr: fmt.Errorf("cancel: %w", domain.ErrConflict), wantStatus: fiber.StatusConflict},
		{name: "bad id", cancelErr: fmt.Errorf("%w: invalid job id", domain.ErrValidation), wantStatus: fiber.StatusBadRequest},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := &stubMailService{
				cancelFn: func(context.Context, string) error { return tt.cancelErr },
			}
			app := newMailTestApp(t, svc)

			resp, respBody := performRequest(t, app, http.MethodDelete, "/api/scheduled-emails/11111111-1111-1111-1111-111111111111", "")
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body=%s", resp.StatusCode, tt.wantStatus, string(respBody))
			}
		})
	}
}

func TestMailIntegration_ListFilters(t *testing.T) {
	t.Parallel()

	svc := &stubMailService{
		listFn: func(_ context.Context, ownerID string, status *domain.JobStatus) ([]domain.Job, error) {
			if ownerID != "alice" {
				t.Fatalf("ownerID = %q, want alice", ownerID)
			}
			if status == nil || *status != domain.StatusSuccess {
				t.Fatalf("status = %v, want SUCCESS", status)
			}
			return []domain.Job{{ID: "job-1", OwnerID: "alice", Status: domain.StatusSuccess}}, nil
		},
	}
	app := newMailTestApp(t, svc)

	resp, respBody := performRequest(t, app, http.MethodGet, "/api/scheduled-emails?userId=alice&status=success", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var got map[string]any
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	data, _ := got["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("expected 1 job in listing, got %v", got["data"])
	}

	resp, _ = performRequest(t, app, http.MethodGet, "/api/scheduled-emails?status=bogus", "")
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for bad status filter", resp.StatusCode)
	}
}

func TestMailIntegration_ListWithoutStatusIsUnfiltered(t *testing.T) {
	t.Parallel()

	svc := &stubMailService{
		listFn: func(_ context.Context, ownerID string, status *domain.JobStatus) ([]domain.Job, error) {
			if status != nil {
				t.Fatalf("status = %v, want nil when no status query is given", *status)
			}
			return []domain.Job{
				{ID: "job-1", Status: domain.StatusScheduled},
				{ID: "job-2", Status: domain.StatusSuccess},
			}, nil
		},
	}
	app := newMailTestApp(t, svc)

	resp, respBody := performRequest(t, app, http.MethodGet, "/api/scheduled-emails", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", resp.StatusCode, string(respBody))
	}

	var got map[string]any
	if err := json.Unmarshal(respBody, &got); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if data, _ := got["data"].([]any); len(data) != 2 {
		t.Fatalf("expected both jobs in listing, body=%s", string(respBody))
	}
}

// Full round trip against the real service and the in-memory store: schedule,
// list, cancel, then confirm a second cancel 404s.
func TestMailIntegration_ScheduleCancelRoundTrip(t *testing.T) {
	t.Parallel()

	repo := repository.NewMemoryRepo()
	svc, err := service.NewMailService(repo, dispatcherFunc(func(_ context.Context, job *domain.Job) domain.DispatchResult {
		return domain.DispatchResult{
			DeliveredCount: len(job.Request.Recipients),
			Status:         domain.StatusSuccess,
		}
	}), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	app := newMailTestApp(t, svc)

	scheduledDate := time.Now().Add(time.Hour).Format(time.RFC3339)
	body := fmt.Sprintf(`{
		"to": ["a@example.com"],
		"subject": "later",
		"body": "b",
		"fromEmail": "sender@example.com",
		"appPassword": "secret",
		"userId": "alice",
		"scheduled": true,
		"scheduledDate": %q
	}`, scheduledDate)

	resp, respBody := performRequest(t, app, http.MethodPost, "/api/send-emails", body)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("schedule status = %d, body=%s", resp.StatusCode, string(respBody))
	}
	var created map[string]any
	if err := json.Unmarshal(respBody, &created); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatalf("expected job id in response, got %s", string(respBody))
	}

	resp, respBody = performRequest(t, app, http.MethodGet, "/api/scheduled-emails?userId=alice", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var listing map[string]any
	if err := json.Unmarshal(respBody, &listing); err != nil {
		t.Fatalf("json unmarshal error = %v", err)
	}
	if data, _ := listing["data"].([]any); len(data) != 1 {
		t.Fatalf("expected 1 scheduled job, body=%s", string(respBody))
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/api/scheduled-emails/"+id, "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("cancel status = %d, want 200", resp.StatusCode)
	}

	resp, _ = performRequest(t, app, http.MethodDelete, "/api/scheduled-emails/"+id, "")
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("second cancel status = %d, want 404", resp.StatusCode)
	}
}

func TestRequestContext_PrefersMiddlewareRequestID(t *testing.T) {
	t.Parallel()

	var seenID string
	svc := &stubMailService{
		listFn: func(ctx context.Context, _ string, _ *domain.JobStatus) ([]domain.Job, error) {
			seenID, _ = observability.RequestIDFromContext(ctx)
			return nil, nil
		},
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(zap.NewNop()),
	})
	// Stand-in for the requestid middleware minting a server-side id.
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("requestid", "server-minted-id")
		return c.Next()
	})
	if err := RegisterMailRoutes(app, svc); err != nil {
		t.Fatalf("RegisterMailRoutes() error = %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/scheduled-emails", nil)
	req.Header.Set(fiber.HeaderXRequestID, "spoofed-by-client")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if seenID != "server-minted-id" {
		t.Fatalf("request id = %q, want the middleware-minted id, not the client header", seenID)
	}
}

func TestRequestContext_HeaderFallbackWithoutMiddleware(t *testing.T) {
	t.Parallel()

	var seenID string
	svc := &stubMailService{
		listFn: func(ctx context.Context, _ string, _ *domain.JobStatus) ([]domain.Job, error) {
			seenID, _ = observability.RequestIDFromContext(ctx)
			return nil, nil
		},
	}
	app := newMailTestApp(t, svc)

	req := httptest.NewRequest(http.MethodGet, "/api/scheduled-emails", nil)
	req.Header.Set(fiber.HeaderXRequestID, "header-id")
	if _, err := app.Test(req); err != nil {
		t.Fatalf("app.Test() error = %v", err)
	}

	if seenID != "header-id" {
		t.Fatalf("request id = %q, want the header fallback", seenID)
	}
}

type dispatcherFunc func(ctx context.Context, job *domain.Job) domain.DispatchResult

func (f dispatcherFunc) Dispatch(ctx context.Context, job *domain.Job) domain.DispatchResult {
	return f(ctx, job)
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	RegisterHealthRoutes(app, nil, nil)

	resp, body := performRequest(t, app, http.MethodGet, "/livez", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("livez status = %d, body=%s", resp.StatusCode, string(body))
	}

	// With no backends configured readiness has nothing to check and
	// reports ready.
	resp, body = performRequest(t, app, http.MethodGet, "/readyz", "")
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("readyz status = %d, body=%s", resp.StatusCode, string(body))
	}
}
