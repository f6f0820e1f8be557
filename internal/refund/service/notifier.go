package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/pkg/logger"
)

// Publisher 알림 메시지 발행 (pkg/rabbitmq.Client)
type Publisher interface {
	PublishJSON(ctx context.Context, queueName string, v interface{}) error
}

// RefundNotification 고객 알림 메시지. 발송 채널(이메일/SMS)은 소비자가 결정
type RefundNotification struct {
	RefundID           string    `json:"refundId"`
	OrderID            string    `json:"orderId"`
	GatewayReferenceID string    `json:"gatewayRef"`
	Amount             string    `json:"amount"`
	Currency           string    `json:"currency"`
	RefundKind         string    `json:"refundKind"`
	Reason             string    `json:"reason,omitempty"`
	SettledAt          time.Time `json:"settledAt"`
}

// NotificationDispatcher 정산 후 고객 알림. 실패해도 정산에 영향 없음
type NotificationDispatcher struct {
	publisher Publisher
	queueName string
	timeout   time.Duration
	wg        sync.WaitGroup
}

// NewNotificationDispatcher 생성자. publisher가 nil이면 로그만 남긴다
func NewNotificationDispatcher(publisher Publisher, queueName string, timeout time.Duration) *NotificationDispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NotificationDispatcher{
		publisher: publisher,
		queueName: queueName,
		timeout:   timeout,
	}
}

// Notify 별도 고루틴에서 발송. 호출자를 막지 않고 에러도 반환하지 않음
func (d *NotificationDispatcher) Notify(settlement *domain.SettlementRecord, req *domain.RefundRequest) {
	if d == nil || settlement == nil || req == nil || !req.NotifyCustomer {
		return
	}

	msg := RefundNotification{
		RefundID:           settlement.ID,
		OrderID:            settlement.OrderID,
		GatewayReferenceID: settlement.GatewayReferenceID,
		Amount:             settlement.Amount.StringFixed(2),
		Currency:           settlement.Currency,
		RefundKind:         string(req.Kind),
		Reason:             req.Reason,
		SettledAt:          settlement.CreatedAt,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				notificationFailuresTotal.Inc()
				logger.GetLogger().Error().
					Str("refund_id", msg.RefundID).
					Str("panic", fmt.Sprint(r)).
					Msg("refund notification panicked")
			}
		}()

		if err := d.dispatch(msg); err != nil {
			notificationFailuresTotal.Inc()
			logger.GetLogger().Warn().
				Err(err).
				Str("refund_id", msg.RefundID).
				Str("order_id", msg.OrderID).
				Msg("refund notification failed")
		}
	}()
}

func (d *NotificationDispatcher) dispatch(msg RefundNotification) error {
	if d.publisher == nil {
		logger.GetLogger().Info().
			Str("refund_id", msg.RefundID).
			Str("order_id", msg.OrderID).
			Str("amount", msg.Amount).
			Msg("refund notification (no publisher configured)")
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.publisher.PublishJSON(ctx, d.queueName, msg)
}

// Wait 진행 중인 발송이 끝날 때까지 대기 (종료 시 사용)
func (d *NotificationDispatcher) Wait() {
	d.wg.Wait()
}
