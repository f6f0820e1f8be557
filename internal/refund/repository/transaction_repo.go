package repository

import (
	"context"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"gorm.io/gorm"
)

// TransactionRepository 결제/원장 조회 저장소 인터페이스 (읽기 전용)
type TransactionRepository interface {
	// 결제 기록
	FindPaymentByGatewayRef(ctx context.Context, gatewayReferenceID, orderID string) (*domain.PaymentTransaction, error)
	FindOrder(ctx context.Context, orderID string) (*domain.Order, error)

	// 보조 조회
	FindLedgerMerchantTxnID(ctx context.Context, gatewayReferenceID string) (string, error)
	FindOverride(ctx context.Context, gatewayReferenceID string) (*domain.TransactionIDOverride, error)
}

// transactionRepository GORM 구현체
type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository 생성자
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

// FindPaymentByGatewayRef 게이트웨이 참조 ID로 결제 조회
// 환불 가능한 상태의 기록을 우선하고, 주문 ID가 주어지면 해당 주문으로 한정
func (r *transactionRepository) FindPaymentByGatewayRef(ctx context.Context, gatewayReferenceID, orderID string) (*domain.PaymentTransaction, error) {
	var payment domain.PaymentTransaction
	query := r.db.WithContext(ctx).Where("gateway_reference_id = ?", gatewayReferenceID)
	if orderID != "" {
		query = query.Where("order_id = ?", orderID)
	}
	err := query.
		Order("CASE status WHEN 'completed' THEN 0 WHEN 'partially_refunded' THEN 1 ELSE 2 END, id DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// FindOrder 주문 조회
func (r *transactionRepository) FindOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// FindLedgerMerchantTxnID 원장의 결제 항목에서 가맹점 거래 ID 교차 조회
func (r *transactionRepository) FindLedgerMerchantTxnID(ctx context.Context, gatewayReferenceID string) (string, error) {
	var entry domain.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("reference_number = ? AND entry_type = ?", gatewayReferenceID, domain.LedgerEntryPayment).
		Where("merchant_txn_id IS NOT NULL AND merchant_txn_id <> ''").
		Order("created_at DESC").
		First(&entry).Error
	if err != nil {
		return "", err
	}
	return *entry.MerchantTxnID, nil
}

// FindOverride 수동 매핑 조회
func (r *transactionRepository) FindOverride(ctx context.Context, gatewayReferenceID string) (*domain.TransactionIDOverride, error) {
	var override domain.TransactionIDOverride
	if err := r.db.WithContext(ctx).Where("gateway_reference_id = ?", gatewayReferenceID).First(&override).Error; err != nil {
		return nil, err
	}
	return &override, nil
}
