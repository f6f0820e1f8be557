package migration

import (
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Models 환불 서브시스템이 사용하는 전체 테이블
func Models() []interface{} {
	return []interface{}{
		&domain.PaymentTransaction{},
		&domain.Order{},
		&domain.LedgerEntry{},
		&domain.TransactionIDOverride{},
		&domain.RefundRequestRecord{},
		&domain.RefundAttemptLog{},
		&domain.RetryQueueEntry{},
		&domain.SettlementRecord{},
		&domain.ReconciliationAlert{},
	}
}

// Run executes AutoMigrate for every refund table.
func Run(db *gorm.DB) error {
	// 테이블 없으면 생성, 있으면 컬럼/인덱스만 보강
	return db.AutoMigrate(Models()...)
}

// SeedDemo 로컬 개발용 샘플 주문/결제. payment_transactions가 비어 있을 때만 삽입
func SeedDemo(db *gorm.DB) error {
	var count int64
	if err := db.Model(&domain.PaymentTransaction{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	strPtr := func(v string) *string { return &v }
	now := time.Now()
	hundred := decimal.NewFromInt(100)

	return db.Transaction(func(tx *gorm.DB) error {
		orders := []domain.Order{
			// 가맹점 거래 ID가 결제 기록에 있는 주문
			{ID: "Q-100", Total: hundred, PaidAmount: hundred, Currency: "USD", Status: domain.OrderStatusPaid, CustomerName: "Demo Customer", CustomerEmail: "demo@example.com", CreatedAt: now, UpdatedAt: now},
			// 메타데이터에만 있는 주문
			{ID: "Q-101", Total: hundred, PaidAmount: hundred, Currency: "USD", Status: domain.OrderStatusPaid, CustomerEmail: "meta@example.com", CreatedAt: now, UpdatedAt: now},
		}
		if err := tx.Create(&orders).Error; err != nil {
			return err
		}

		payments := []domain.PaymentTransaction{
			{OrderID: "Q-100", Gateway: "payu", GatewayReferenceID: "GW-9", MerchantTxnID: strPtr("MER-9"), Amount: hundred, Currency: "USD", Status: domain.PaymentStatusCompleted, CreatedAt: now, UpdatedAt: now},
			{OrderID: "Q-101", Gateway: "payu", GatewayReferenceID: "GW-10", MetaData: `{"txnid":"MER-10"}`, Amount: hundred, Currency: "USD", Status: domain.PaymentStatusCompleted, CreatedAt: now, UpdatedAt: now},
		}
		return tx.Create(&payments).Error
	})
}
