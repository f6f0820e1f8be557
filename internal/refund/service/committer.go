package service

import (
	"context"
	"fmt"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/repository"
	"github.com/damoang/refund-reconciler/pkg/logger"
)

// Locker 정산 중 멱등 키 advisory 잠금 (pkg/redis.Locker)
type Locker interface {
	AcquireWait(ctx context.Context, key string, ttl, wait, interval time.Duration) (func(), error)
}

// SettlementCommitter 게이트웨이 성공을 원장에 한 번만 반영
type SettlementCommitter struct {
	settlements repository.SettlementRepository
	requests    repository.RequestRepository
	audit       repository.AuditRepository
	locker      Locker
	lockTTL     time.Duration
	lockWait    time.Duration
}

// NewSettlementCommitter 생성자. locker가 nil이면 DB 유니크 제약만으로 보호
func NewSettlementCommitter(
	settlements repository.SettlementRepository,
	requests repository.RequestRepository,
	audit repository.AuditRepository,
	locker Locker,
) *SettlementCommitter {
	return &SettlementCommitter{
		settlements: settlements,
		requests:    requests,
		audit:       audit,
		locker:      locker,
		lockTTL:     30 * time.Second,
		lockWait:    5 * time.Second,
	}
}

// Commit 정산 트랜잭션 실행. 이미 정산된 키는 기존 기록(Duplicate=true) 반환
// 실패하면 정합성 경보를 남기고 ErrSettlementDiverged 반환 (자동 재시도 없음)
func (c *SettlementCommitter) Commit(ctx context.Context, req *domain.RefundRequest, identity *domain.ResolvedIdentity, success *domain.AttemptResult) (*domain.SettlementRecord, error) {
	// 게이트웨이가 이미 수락했으므로 호출자 취소와 무관하게 기록
	ctx = context.WithoutCancel(ctx)
	log := logger.WithRefund(req.RequestID, req.GatewayReferenceID)

	if c.locker != nil {
		release, err := c.locker.AcquireWait(ctx, req.IdempotencyKey, c.lockTTL, c.lockWait, 100*time.Millisecond)
		if err != nil {
			// 잠금은 보조 수단. DB 유니크 제약이 최종 보호
			log.Warn().Err(err).Msg("settlement lock unavailable, relying on unique key")
		} else {
			defer release()
		}
	}

	record, err := c.settlements.Commit(ctx, &repository.SettlementInput{
		IdempotencyKey:     req.IdempotencyKey,
		RefundRequestID:    req.RequestID,
		OrderID:            identity.OrderID,
		TransactionID:      identity.TransactionID,
		GatewayReferenceID: identity.GatewayReferenceID,
		MerchantTxnID:      identity.MerchantTxnID,
		Amount:             req.Amount,
		Currency:           identity.Currency,
		Kind:               req.Kind,
		Strategy:           success.Strategy,
		AttemptNumber:      success.StrategyIndex + 1,
		GatewayRefundID:    success.GatewayRefund,
		GatewayResponse:    success.RawResponse,
		Reason:             req.Reason,
		ActorID:            req.ActorID,
	})
	if err != nil {
		return nil, c.escalate(ctx, req, identity, success, err)
	}

	if record.Duplicate {
		log.Info().
			Str("refund_id", record.ID).
			Msg("settlement already recorded for idempotency key")
	}
	if err := c.requests.Transition(ctx, req.RequestID, domain.RefundStateSettled, map[string]interface{}{
		"settlement_id": record.ID,
		"last_error":    "",
	}); err != nil {
		// 정산은 완료됨. 상태 행은 다음 조회 시 정산 기록으로 보정 가능
		log.Warn().Err(err).Str("refund_id", record.ID).Msg("failed to mark refund request settled")
	}
	return record, nil
}

// escalate 게이트웨이 수락 후 정산 실패 처리
func (c *SettlementCommitter) escalate(ctx context.Context, req *domain.RefundRequest, identity *domain.ResolvedIdentity, success *domain.AttemptResult, cause error) error {
	settlementDivergenceTotal.Inc()
	log := logger.WithRefund(req.RequestID, identity.GatewayReferenceID)

	log.Error().
		Err(cause).
		Str("merchant_txn_id", identity.MerchantTxnID).
		Str("order_id", identity.OrderID).
		Str("amount", req.Amount.StringFixed(2)).
		Str("strategy", success.Strategy).
		Str("gateway_refund_id", success.GatewayRefund).
		Str("actor_id", req.ActorID).
		Msg("gateway accepted refund but settlement failed")

	alert := &domain.ReconciliationAlert{
		RefundRequestID:    req.RequestID,
		GatewayReferenceID: identity.GatewayReferenceID,
		OrderID:            identity.OrderID,
		Amount:             req.Amount,
		Strategy:           success.Strategy,
		GatewayResponse:    success.RawResponse,
		Error:              cause.Error(),
	}
	if err := c.audit.CreateAlert(ctx, alert); err != nil {
		log.Error().Err(err).Msg("failed to persist reconciliation alert")
	}

	if err := c.requests.Transition(ctx, req.RequestID, domain.RefundStateNeedsReconciliation, map[string]interface{}{
		"last_error": truncateError(cause),
	}); err != nil {
		log.Error().Err(err).Msg("failed to mark refund request for reconciliation")
	}

	return fmt.Errorf("%w: %w", ErrSettlementDiverged, cause)
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > 1000 {
		return msg[:1000]
	}
	return msg
}
