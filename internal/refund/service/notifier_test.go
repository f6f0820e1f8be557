package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

// MockPublisher 메시지 발행 목
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishJSON(ctx context.Context, queueName string, v interface{}) error {
	args := m.Called(ctx, queueName, v)
	return args.Error(0)
}

func testSettlement() *domain.SettlementRecord {
	return &domain.SettlementRecord{
		ID:                 "refund-1",
		OrderID:            "Q-100",
		GatewayReferenceID: "GW-9",
		Amount:             decimal.RequireFromString("50"),
		Currency:           "USD",
		CreatedAt:          time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestNotify_PublishesSettledRefund(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishJSON", mock.Anything, "refund.notifications", mock.MatchedBy(func(v interface{}) bool {
		msg, ok := v.(RefundNotification)
		return ok && msg.RefundID == "refund-1" && msg.Amount == "50.00" && msg.RefundKind == "partial"
	})).Return(nil).Once()

	d := NewNotificationDispatcher(pub, "refund.notifications", time.Second)
	req := testRequest()
	req.NotifyCustomer = true

	d.Notify(testSettlement(), req)
	d.Wait()

	pub.AssertExpectations(t)
}

func TestNotify_SkippedWhenNotRequested(t *testing.T) {
	pub := new(MockPublisher)
	d := NewNotificationDispatcher(pub, "refund.notifications", time.Second)

	d.Notify(testSettlement(), testRequest())
	d.Wait()

	pub.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
}

func TestNotify_FailureDoesNotPropagate(t *testing.T) {
	pub := new(MockPublisher)
	pub.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("channel closed"))

	d := NewNotificationDispatcher(pub, "refund.notifications", time.Second)
	req := testRequest()
	req.NotifyCustomer = true

	assert.NotPanics(t, func() {
		d.Notify(testSettlement(), req)
		d.Wait()
	})
	pub.AssertNumberOfCalls(t, "PublishJSON", 1)
}

func TestNotify_WithoutPublisherLogsOnly(t *testing.T) {
	d := NewNotificationDispatcher(nil, "", 0)
	req := testRequest()
	req.NotifyCustomer = true

	assert.NotPanics(t, func() {
		d.Notify(testSettlement(), req)
		d.Wait()
	})
}
