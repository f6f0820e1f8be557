package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SettlementRecord 환불 정산 기록. 한 번 기록되면 변경하지 않음
type SettlementRecord struct {
	ID                 string          `gorm:"primaryKey;size:36" json:"refundId"`
	IdempotencyKey     string          `gorm:"column:idempotency_key;size:64;uniqueIndex;not null" json:"-"`
	RefundRequestID    string          `gorm:"column:refund_request_id;size:36;index;not null" json:"refundRequestId"`
	OrderID            string          `gorm:"column:order_id;size:64;index;not null" json:"orderId"`
	TransactionID      uint64          `gorm:"column:transaction_id;not null" json:"transactionId"`
	GatewayReferenceID string          `gorm:"column:gateway_reference_id;size:100;not null" json:"gatewayRef"`
	MerchantTxnID      string          `gorm:"column:merchant_txn_id;size:100" json:"merchantTxnId"`
	Amount             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency           string          `gorm:"size:3" json:"currency"`
	Kind               RefundKind      `gorm:"column:refund_kind;size:10" json:"refundKind"`
	LedgerEntryID      string          `gorm:"column:ledger_entry_id;size:36;not null" json:"ledgerEntryId"`
	Strategy           string          `gorm:"size:64;not null" json:"strategy"`
	AttemptNumber      int             `gorm:"column:attempt_number" json:"attemptNumber"`
	GatewayRefundID    string          `gorm:"column:gateway_refund_id;size:100" json:"gatewayRefundId,omitempty"`
	GatewayResponse    string          `gorm:"column:gateway_response;type:text" json:"-"`
	Reason             string          `gorm:"size:255" json:"reason,omitempty"`
	ActorID            string          `gorm:"column:actor_id;size:64" json:"actorId"`
	CreatedAt          time.Time       `gorm:"column:created_at" json:"createdAt"`

	// 이미 정산된 건을 다시 커밋하려 했을 때 true (저장 안 함)
	Duplicate bool `gorm:"-" json:"duplicate,omitempty"`
}

// TableName GORM 테이블명
func (SettlementRecord) TableName() string {
	return "refund_settlements"
}

// AlertStatus 정합성 경보 처리 상태
type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

// ReconciliationAlert 게이트웨이는 환불을 수락했으나 원장에 반영되지 않은 건
type ReconciliationAlert struct {
	ID                 uint64          `gorm:"primaryKey" json:"id"`
	RefundRequestID    string          `gorm:"column:refund_request_id;size:36;index;not null" json:"refund_request_id"`
	GatewayReferenceID string          `gorm:"column:gateway_reference_id;size:100;not null" json:"gateway_reference_id"`
	OrderID            string          `gorm:"column:order_id;size:64" json:"order_id"`
	Amount             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Strategy           string          `gorm:"size:64" json:"strategy"`
	GatewayResponse    string          `gorm:"column:gateway_response;type:text" json:"gateway_response"`
	Error              string          `gorm:"type:text" json:"error"`
	Status             AlertStatus     `gorm:"size:20;not null;default:'open'" json:"status"`
	CreatedAt          time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName GORM 테이블명
func (ReconciliationAlert) TableName() string {
	return "refund_reconciliation_alerts"
}
