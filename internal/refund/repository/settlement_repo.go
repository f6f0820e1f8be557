package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SettlementInput 정산 트랜잭션 입력
type SettlementInput struct {
	IdempotencyKey     string
	RefundRequestID    string
	OrderID            string
	TransactionID      uint64
	GatewayReferenceID string
	MerchantTxnID      string
	Amount             decimal.Decimal
	Currency           string
	Kind               domain.RefundKind
	Strategy           string
	AttemptNumber      int
	GatewayRefundID    string
	GatewayResponse    string
	Reason             string
	ActorID            string
}

// SettlementRepository 정산 저장소 인터페이스
type SettlementRepository interface {
	// Commit 원장/결제/주문을 한 트랜잭션으로 갱신. 같은 멱등 키는 기존 기록 반환
	Commit(ctx context.Context, in *SettlementInput) (*domain.SettlementRecord, error)

	FindByID(ctx context.Context, id string) (*domain.SettlementRecord, error)
	FindByKey(ctx context.Context, idempotencyKey string) (*domain.SettlementRecord, error)
	ListByOrderID(ctx context.Context, orderID string) ([]*domain.SettlementRecord, error)
}

// settlementRepository GORM 구현체
type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository 생성자
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

// Commit 정산 트랜잭션
func (r *settlementRepository) Commit(ctx context.Context, in *SettlementInput) (*domain.SettlementRecord, error) {
	var record *domain.SettlementRecord

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 주문, 결제 순으로 행 잠금
		var order domain.Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", in.OrderID).
			First(&order).Error; err != nil {
			return fmt.Errorf("lock order %s: %w", in.OrderID, err)
		}

		var payment domain.PaymentTransaction
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", in.TransactionID).
			First(&payment).Error; err != nil {
			return fmt.Errorf("lock payment %d: %w", in.TransactionID, err)
		}
		if payment.OrderID != order.ID {
			return ErrTransactionMismatch
		}

		// 멱등 키 확인 (잠금 이후)
		var existing domain.SettlementRecord
		err := tx.Where("idempotency_key = ?", in.IdempotencyKey).First(&existing).Error
		if err == nil {
			existing.Duplicate = true
			record = &existing
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		if !payment.Status.Refundable() || in.Amount.GreaterThan(payment.RefundableAmount()) {
			return ErrInsufficientRefundable
		}

		now := time.Now()
		settlementID := uuid.NewString()
		merchantTxnID := in.MerchantTxnID

		// 원장 (음수 현금 흐름)
		entry := &domain.LedgerEntry{
			ID:              uuid.NewString(),
			OrderID:         order.ID,
			EntryType:       domain.LedgerEntryRefund,
			Amount:          in.Amount.Neg(),
			Currency:        in.Currency,
			ReferenceNumber: in.GatewayReferenceID,
			MerchantTxnID:   &merchantTxnID,
			RefundID:        &settlementID,
			ActorID:         in.ActorID,
			Description:     fmt.Sprintf("refund via %s", in.Strategy),
			CreatedAt:       now,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		// 결제 환불 누계/상태
		refunded := payment.RefundedAmount.Add(in.Amount)
		paymentStatus := domain.PaymentStatusPartiallyRefunded
		if refunded.GreaterThanOrEqual(payment.Amount) {
			paymentStatus = domain.PaymentStatusRefunded
		}
		if err := tx.Model(&domain.PaymentTransaction{}).
			Where("id = ?", payment.ID).
			UpdateColumns(map[string]interface{}{
				"refunded_amount": refunded,
				"status":          paymentStatus,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}

		// 주문 합계
		orderRefunded := order.RefundedAmount.Add(in.Amount)
		paid := order.PaidAmount.Sub(in.Amount)
		if paid.IsNegative() {
			paid = decimal.Zero
		}
		orderStatus := domain.OrderStatusPartiallyRefunded
		if paid.IsZero() || orderRefunded.GreaterThanOrEqual(order.Total) {
			orderStatus = domain.OrderStatusRefunded
		}
		if err := tx.Model(&domain.Order{}).
			Where("id = ?", order.ID).
			UpdateColumns(map[string]interface{}{
				"refunded_amount": orderRefunded,
				"paid_amount":     paid,
				"status":          orderStatus,
				"refunded_at":     now,
				"updated_at":      now,
			}).Error; err != nil {
			return err
		}

		record = &domain.SettlementRecord{
			ID:                 settlementID,
			IdempotencyKey:     in.IdempotencyKey,
			RefundRequestID:    in.RefundRequestID,
			OrderID:            order.ID,
			TransactionID:      payment.ID,
			GatewayReferenceID: in.GatewayReferenceID,
			MerchantTxnID:      in.MerchantTxnID,
			Amount:             in.Amount,
			Currency:           in.Currency,
			Kind:               in.Kind,
			LedgerEntryID:      entry.ID,
			Strategy:           in.Strategy,
			AttemptNumber:      in.AttemptNumber,
			GatewayRefundID:    in.GatewayRefundID,
			GatewayResponse:    in.GatewayResponse,
			Reason:             in.Reason,
			ActorID:            in.ActorID,
			CreatedAt:          now,
		}
		return tx.Create(record).Error
	})
	if err != nil {
		// 동시 커밋이 먼저 기록한 경우
		if isDuplicateKey(err) {
			existing, findErr := r.FindByKey(ctx, in.IdempotencyKey)
			if findErr == nil {
				existing.Duplicate = true
				return existing, nil
			}
		}
		return nil, err
	}
	return record, nil
}

// FindByID ID로 조회
func (r *settlementRepository) FindByID(ctx context.Context, id string) (*domain.SettlementRecord, error) {
	var record domain.SettlementRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// FindByKey 멱등 키로 조회
func (r *settlementRepository) FindByKey(ctx context.Context, idempotencyKey string) (*domain.SettlementRecord, error) {
	var record domain.SettlementRecord
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// ListByOrderID 주문별 정산 목록
func (r *settlementRepository) ListByOrderID(ctx context.Context, orderID string) ([]*domain.SettlementRecord, error) {
	var records []*domain.SettlementRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&records).Error
	return records, err
}
