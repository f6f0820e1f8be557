package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRefundService 환불 서비스 목
type MockRefundService struct {
	mock.Mock
}

func (m *MockRefundService) ProcessRefund(ctx context.Context, req *domain.RefundRequest) (*service.ProcessResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ProcessResult), args.Error(1)
}

func (m *MockRefundService) ReplayQueued(ctx context.Context, entryID uint64) (*service.ReplayResult, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReplayResult), args.Error(1)
}

func (m *MockRefundService) RecoverStalled(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	args := m.Called(ctx, cutoff, limit)
	return args.Int(0), args.Error(1)
}

func (m *MockRefundService) ProcessClaimed(ctx context.Context, entry *domain.RetryQueueEntry) (*service.ReplayResult, error) {
	args := m.Called(ctx, entry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ReplayResult), args.Error(1)
}

func (m *MockRefundService) GetQueueEntry(ctx context.Context, entryID uint64) (*domain.RetryQueueEntry, error) {
	args := m.Called(ctx, entryID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RetryQueueEntry), args.Error(1)
}

func (m *MockRefundService) ListAlerts(ctx context.Context, limit int) ([]*domain.ReconciliationAlert, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.ReconciliationAlert), args.Error(1)
}

func (m *MockRefundService) ListAttempts(ctx context.Context, refundRequestID string) ([]*domain.RefundAttemptLog, error) {
	args := m.Called(ctx, refundRequestID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.RefundAttemptLog), args.Error(1)
}

func setupRouter(svc service.RefundService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", "admin")
		c.Set("level", 10)
		c.Next()
	})

	h := NewRefundHandler(svc)
	r.POST("/refunds", h.CreateRefund)
	r.GET("/refunds/requests/:id/attempts", h.ListAttempts)
	r.GET("/refunds/queue/:id", h.GetQueueEntry)
	r.POST("/refunds/queue/:id/replay", h.ReplayQueueEntry)
	r.GET("/refunds/alerts", h.ListAlerts)
	return r
}

func postRefund(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/refunds", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "client-key-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const partialBody = `{"gatewayReferenceId":"GW-9","amount":"50.00","refundKind":"partial","reason":"damaged"}`

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestCreateRefund_Settled(t *testing.T) {
	svc := new(MockRefundService)
	svc.On("ProcessRefund", mock.Anything, mock.MatchedBy(func(req *domain.RefundRequest) bool {
		return req.GatewayReferenceID == "GW-9" &&
			req.Amount.Equal(decimal.RequireFromString("50")) &&
			req.ActorID == "admin" &&
			req.ClientKey == "client-key-1"
	})).Return(&service.ProcessResult{
		State: domain.RefundStateSettled,
		Settlement: &domain.SettlementRecord{
			ID:                 "refund-1",
			GatewayReferenceID: "GW-9",
			Amount:             decimal.RequireFromString("50"),
			Strategy:           "cancel_refund_by_merchant_txn",
		},
	}, nil)

	w := postRefund(setupRouter(svc), partialBody)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "refund-1", body["refundId"])
	assert.Equal(t, "GW-9", body["gatewayRef"])
	assert.Equal(t, "processing", body["status"])
	svc.AssertExpectations(t)
}

func TestCreateRefund_Queued(t *testing.T) {
	next := time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)
	svc := new(MockRefundService)
	svc.On("ProcessRefund", mock.Anything, mock.Anything).Return(&service.ProcessResult{
		State: domain.RefundStateQueued,
		Queue: &domain.QueueHandle{QueueID: 7, Priority: domain.PriorityNormal, MaxRetries: 3, NextRunAt: next},
	}, nil)

	w := postRefund(setupRouter(svc), partialBody)

	assert.Equal(t, http.StatusAccepted, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, true, body["queued"])
	assert.Equal(t, float64(7), body["queueId"])
}

func TestCreateRefund_PermanentFailureIncludesDiagnostics(t *testing.T) {
	svc := new(MockRefundService)
	svc.On("ProcessRefund", mock.Anything, mock.Anything).Return(nil, &service.PermanentFailureError{
		Code:    domain.CodeInvalidHash,
		Message: "Invalid Hash",
		Failures: []domain.StrategyFailure{
			{Strategy: "cancel_refund_by_gateway_id", Outcome: domain.OutcomePermanentFailure, Code: domain.CodeInvalidHash},
			{Strategy: "cancel_refund_by_merchant_txn", Outcome: domain.OutcomePermanentFailure, Code: domain.CodeTxnNotFound},
		},
	})

	w := postRefund(setupRouter(svc), partialBody)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp RefundErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.Equal(t, domain.CodeInvalidHash, resp.Code)
	require.NotNil(t, resp.Diagnostics)
	assert.Len(t, resp.Diagnostics.PerStrategyFailures, 2)
}

func TestCreateRefund_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"over refund", service.ErrOverRefund, http.StatusBadRequest},
		{"not refundable", service.ErrNotRefundable, http.StatusBadRequest},
		{"identity not found", service.ErrIdentityNotFound, http.StatusNotFound},
		{"in progress", service.ErrRefundInProgress, http.StatusConflict},
		{"diverged", service.ErrSettlementDiverged, http.StatusInternalServerError},
		{"internal", errors.New("dial tcp 10.0.0.3:3306: connection refused"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockRefundService)
			svc.On("ProcessRefund", mock.Anything, mock.Anything).Return(nil, tt.err)

			w := postRefund(setupRouter(svc), partialBody)

			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "10.0.0.3")
		})
	}
}

func TestCreateRefund_InvalidBody(t *testing.T) {
	svc := new(MockRefundService)
	r := setupRouter(svc)

	for _, body := range []string{
		`not json`,
		`{"amount":"50.00","refundKind":"partial"}`,
		`{"gatewayReferenceId":"GW-9","amount":"50.00","refundKind":"void"}`,
	} {
		w := postRefund(r, body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	svc.AssertNotCalled(t, "ProcessRefund", mock.Anything, mock.Anything)
}

func TestCreateRefund_AmountValidation(t *testing.T) {
	svc := new(MockRefundService)
	r := setupRouter(svc)

	tests := []struct {
		name   string
		amount string
	}{
		{"소수점 3자리", "10.005"},
		{"음수", "-5"},
		{"0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := `{"gatewayReferenceId":"GW-9","amount":"` + tt.amount + `","refundKind":"partial"}`
			w := postRefund(r, body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "two decimal places")
		})
	}
	svc.AssertNotCalled(t, "ProcessRefund", mock.Anything, mock.Anything)
}

func TestGetQueueEntry(t *testing.T) {
	svc := new(MockRefundService)
	svc.On("GetQueueEntry", mock.Anything, uint64(7)).Return(&domain.RetryQueueEntry{ID: 7, Status: domain.QueueStatusPending}, nil)
	svc.On("GetQueueEntry", mock.Anything, uint64(8)).Return(nil, service.ErrQueueEntryNotFound)
	r := setupRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refunds/queue/7", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refunds/queue/8", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refunds/queue/abc", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReplayQueueEntry(t *testing.T) {
	svc := new(MockRefundService)
	svc.On("ReplayQueued", mock.Anything, uint64(1)).Return(&service.ReplayResult{QueueID: 1, Status: domain.QueueStatusSettled}, nil)
	svc.On("ReplayQueued", mock.Anything, uint64(2)).Return(nil, service.ErrQueueEntryTerminal)
	svc.On("ReplayQueued", mock.Anything, uint64(3)).Return(nil, service.ErrQueueEntryBusy)
	svc.On("ReplayQueued", mock.Anything, uint64(4)).Return(nil, service.ErrQueueEntryNotFound)
	r := setupRouter(svc)

	tests := []struct {
		path   string
		status int
	}{
		{"/refunds/queue/1/replay", http.StatusOK},
		{"/refunds/queue/2/replay", http.StatusConflict},
		{"/refunds/queue/3/replay", http.StatusConflict},
		{"/refunds/queue/4/replay", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, tt.path, nil))
		assert.Equal(t, tt.status, w.Code, tt.path)
	}
}

func TestListAlertsAndAttempts(t *testing.T) {
	svc := new(MockRefundService)
	svc.On("ListAlerts", mock.Anything, 10).Return([]*domain.ReconciliationAlert{{ID: 1}}, nil)
	svc.On("ListAttempts", mock.Anything, "req-1").Return([]*domain.RefundAttemptLog{{ID: 1}, {ID: 2}}, nil)
	r := setupRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refunds/alerts?limit=10", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/refunds/requests/req-1/attempts", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Len(t, body["data"], 2)
	svc.AssertExpectations(t)
}
