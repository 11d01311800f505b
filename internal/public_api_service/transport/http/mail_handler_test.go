package http_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mailalchemy/mailalchemy/internal/mailer_service/adapters/smtp"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/app"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/domain"
	"github.com/mailalchemy/mailalchemy/internal/mailer_service/templates"
	httptransport "github.com/mailalchemy/mailalchemy/internal/public_api_service/transport/http"
)

// MockEmailRepository for MailHandler tests.
type MockEmailRepository struct {
	mock.Mock
}

func (m *MockEmailRepository) Create(ctx context.Context, record *domain.EmailRecord) error {
	args := m.Called(ctx, record)
	return args.Error(0)
}

func (m *MockEmailRepository) CreateBatch(ctx context.Context, records []*domain.EmailRecord) error {
	args := m.Called(ctx, records)
	return args.Error(0)
}

func (m *MockEmailRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.EmailRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.EmailRecord), args.Error(1)
}

func (m *MockEmailRepository) AcquireDue(ctx context.Context, dueTime time.Time, limit int) ([]*domain.EmailRecord, error) {
	args := m.Called(ctx, dueTime, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.EmailRecord), args.Error(1)
}

func (m *MockEmailRepository) ClaimPending(ctx context.Context, id uuid.UUID) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockEmailRepository) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

func (m *MockEmailRepository) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, errorMessage string) error {
	args := m.Called(ctx, id, at, errorMessage)
	return args.Error(0)
}

func (m *MockEmailRepository) CountAttemptedSince(ctx context.Context, since time.Time) (int, error) {
	args := m.Called(ctx, since)
	return args.Int(0), args.Error(1)
}

type handlerTestComponents struct {
	router   *chi.Mux
	mockRepo *MockEmailRepository
	sender   *smtp.MockSender
}

func setupHandlerTest(t *testing.T, ceilings app.Ceilings) handlerTestComponents {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	templatesDir := t.TempDir()
	err := os.WriteFile(filepath.Join(templatesDir, "welcome.html"), []byte("<p>Hello {{.name}}</p>"), 0o644)
	require.NoError(t, err)
	renderer := templates.NewRenderer(templatesDir, false, logger)

	mockRepo := new(MockEmailRepository)
	sender := smtp.NewMockSender(logger, "mock")
	mailer := app.NewMailer(ceilings, renderer, mockRepo, sender, logger)

	router := chi.NewRouter()
	handler := httptransport.NewMailHandler(mailer, logger)
	handler.RegisterRoutes(router)

	return handlerTestComponents{router: router, mockRepo: mockRepo, sender: sender}
}

func doJSONRequest(t *testing.T, router *chi.Mux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(payload)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestHandleSendMail(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	c.mockRepo.On("CreateBatch", mock.Anything, mock.AnythingOfType("[]*domain.EmailRecord")).Return(nil).Once()
	c.mockRepo.On("ClaimPending", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(true, nil).Once()
	c.mockRepo.On("MarkSent", mock.Anything, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("time.Time")).Return(nil).Once()

	rr := doJSONRequest(t, c.router, http.MethodPost, "/messages/send", map[string]any{
		"subject":        "Hi",
		"sender_address": "ops@example.com",
		"recipients":     []string{"user@example.com"},
		"text":           "hello",
	})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp httptransport.SendMailResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Len(t, resp.Emails, 1)
	assert.Equal(t, "user@example.com", resp.Emails[0].Recipient)
	assert.NotEmpty(t, resp.Emails[0].EmailID)

	require.Len(t, c.sender.Deliveries(), 1)
	c.mockRepo.AssertExpectations(t)
}

func TestHandleSendMailWithTemplate(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	var persisted []*domain.EmailRecord
	c.mockRepo.On("CreateBatch", mock.Anything, mock.AnythingOfType("[]*domain.EmailRecord")).
		Run(func(args mock.Arguments) {
			persisted = args.Get(1).([]*domain.EmailRecord)
		}).Return(nil).Once()
	c.mockRepo.On("ClaimPending", mock.Anything, mock.AnythingOfType("uuid.UUID")).Return(true, nil).Once()
	c.mockRepo.On("MarkSent", mock.Anything, mock.AnythingOfType("uuid.UUID"), mock.AnythingOfType("time.Time")).Return(nil).Once()

	rr := doJSONRequest(t, c.router, http.MethodPost, "/messages/send", map[string]any{
		"subject":        "Welcome",
		"sender_address": "ops@example.com",
		"recipients":     []string{"user@example.com"},
		"template":       map[string]any{"name": "welcome", "values": map[string]any{"name": "Ada"}},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, persisted, 1)
	assert.Equal(t, "<p>Hello Ada</p>", persisted[0].MessageHTML.String)
}

func TestHandleSendMailUnknownTemplate(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	rr := doJSONRequest(t, c.router, http.MethodPost, "/messages/send", map[string]any{
		"subject":    "Welcome",
		"recipients": []string{"user@example.com"},
		"template":   map[string]any{"name": "nope"},
	})

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	c.mockRepo.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestHandleSendMailValidation(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"missing subject", map[string]any{"recipients": []string{"user@example.com"}}},
		{"no recipients", map[string]any{"subject": "Hi", "recipients": []string{}}},
		{"bad recipient address", map[string]any{"subject": "Hi", "recipients": []string{"not-an-email"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rr := doJSONRequest(t, c.router, http.MethodPost, "/messages/send", tc.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
	c.mockRepo.AssertNotCalled(t, "CreateBatch", mock.Anything, mock.Anything)
}

func TestHandleSendMailCeilingExceeded(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{PerMinute: 1})

	c.mockRepo.On("CreateBatch", mock.Anything, mock.AnythingOfType("[]*domain.EmailRecord")).Return(nil).Once()
	c.mockRepo.On("CountAttemptedSince", mock.Anything, mock.AnythingOfType("time.Time")).Return(1, nil).Once()

	rr := doJSONRequest(t, c.router, http.MethodPost, "/messages/send", map[string]any{
		"subject":    "Hi",
		"recipients": []string{"user@example.com"},
		"text":       "hello",
	})

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Empty(t, c.sender.Deliveries())
}

func TestHandleScheduleMail(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	var persisted []*domain.EmailRecord
	c.mockRepo.On("CreateBatch", mock.Anything, mock.AnythingOfType("[]*domain.EmailRecord")).
		Run(func(args mock.Arguments) {
			persisted = args.Get(1).([]*domain.EmailRecord)
		}).Return(nil).Once()

	when := time.Now().UTC().Add(3 * time.Hour).Truncate(time.Second)
	rr := doJSONRequest(t, c.router, http.MethodPost, "/messages/schedule", map[string]any{
		"subject":      "Later",
		"recipients":   []string{"a@example.com", "b@example.com"},
		"text":         "see you",
		"scheduled_at": when.Format(time.RFC3339),
	})

	require.Equal(t, http.StatusAccepted, rr.Code)
	var resp httptransport.SendMailResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Len(t, resp.Emails, 2)

	require.Len(t, persisted, 2)
	for _, record := range persisted {
		assert.Equal(t, domain.StatusPending, record.Status)
		assert.True(t, record.ScheduledAt.Equal(when))
	}
	// Nothing goes through the transport until the worker picks it up.
	assert.Empty(t, c.sender.Deliveries())
}

func TestHandleGetMailStatus(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	id := uuid.New()
	sentAt := time.Now().UTC()
	record := &domain.EmailRecord{
		ID:            id,
		SenderAddress: "ops@example.com",
		Subject:       "Hi",
		Recipient:     "user@example.com",
		ScheduledAt:   sentAt.Add(-time.Minute),
		SentAt:        sql.NullTime{Time: sentAt, Valid: true},
		Status:        domain.StatusSent,
	}
	c.mockRepo.On("GetByID", mock.Anything, id).Return(record, nil).Once()

	rr := doJSONRequest(t, c.router, http.MethodGet, "/messages/"+id.String(), nil)

	require.Equal(t, http.StatusOK, rr.Code)
	var resp httptransport.EmailStatusResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, id.String(), resp.ID)
	assert.Equal(t, domain.StatusSent, resp.Status)
	require.NotNil(t, resp.SentAt)
}

func TestHandleGetMailStatusNotFound(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	id := uuid.New()
	c.mockRepo.On("GetByID", mock.Anything, id).Return(nil, domain.ErrNotFound).Once()

	rr := doJSONRequest(t, c.router, http.MethodGet, "/messages/"+id.String(), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHandleGetMailStatusBadID(t *testing.T) {
	c := setupHandlerTest(t, app.Ceilings{})

	rr := doJSONRequest(t, c.router, http.MethodGet, "/messages/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	c.mockRepo.AssertNotCalled(t, "GetByID", mock.Anything, mock.Anything)
}
