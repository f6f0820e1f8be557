package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentStatus 결제 트랜잭션 상태
type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusCompleted         PaymentStatus = "completed"          // 결제 완료
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded" // 부분 환불
	PaymentStatusRefunded          PaymentStatus = "refunded"           // 전체 환불
	PaymentStatusFailed            PaymentStatus = "failed"
)

// Refundable 환불 가능한 상태인지 확인
func (s PaymentStatus) Refundable() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusPartiallyRefunded
}

// OrderStatus 견적/주문 상태
type OrderStatus string

const (
	OrderStatusPaid              OrderStatus = "paid"
	OrderStatusPartiallyRefunded OrderStatus = "partially_refunded"
	OrderStatusRefunded          OrderStatus = "refunded"
)

// PaymentTransaction 원 결제 기록 (게이트웨이 ID와 가맹점 거래 ID를 모두 보관)
type PaymentTransaction struct {
	ID      uint64 `gorm:"primaryKey" json:"id"`
	OrderID string `gorm:"column:order_id;size:64;index;not null" json:"order_id"`
	Gateway string `gorm:"size:50;not null;default:'payu'" json:"gateway"`

	// 게이트웨이가 부여한 ID (mihpayid)
	GatewayReferenceID string `gorm:"column:gateway_reference_id;size:100;index;not null" json:"gateway_reference_id"`
	// 가맹점이 생성한 거래 ID (txnid). 과거 데이터는 비어 있을 수 있음
	MerchantTxnID *string `gorm:"column:merchant_txn_id;size:100" json:"merchant_txn_id,omitempty"`

	Amount         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	RefundedAmount decimal.Decimal `gorm:"column:refunded_amount;type:decimal(12,2);not null;default:0" json:"refunded_amount"`
	Currency       string          `gorm:"size:3;default:'USD'" json:"currency"`
	Status         PaymentStatus   `gorm:"size:20;default:'pending'" json:"status"`

	// 결제 당시 게이트웨이 응답 등 부가 정보 (JSON)
	MetaData string `gorm:"column:meta_data;type:text" json:"meta_data,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (PaymentTransaction) TableName() string {
	return "payment_transactions"
}

// RefundableAmount 남은 환불 가능 금액
func (p *PaymentTransaction) RefundableAmount() decimal.Decimal {
	remaining := p.Amount.Sub(p.RefundedAmount)
	if remaining.IsNegative() {
		return decimal.Zero
	}
	return remaining
}

// Order 견적/주문 (환불 합계만 이 서브시스템에서 갱신)
type Order struct {
	ID             string          `gorm:"primaryKey;size:64" json:"id"`
	Total          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	PaidAmount     decimal.Decimal `gorm:"column:paid_amount;type:decimal(12,2);not null;default:0" json:"paid_amount"`
	RefundedAmount decimal.Decimal `gorm:"column:refunded_amount;type:decimal(12,2);not null;default:0" json:"refunded_amount"`
	Currency       string          `gorm:"size:3;default:'USD'" json:"currency"`
	Status         OrderStatus     `gorm:"size:30" json:"status"`

	CustomerName  string `gorm:"column:customer_name;size:100" json:"customer_name,omitempty"`
	CustomerEmail string `gorm:"column:customer_email;size:255" json:"customer_email,omitempty"`
	CustomerPhone string `gorm:"column:customer_phone;size:30" json:"customer_phone,omitempty"`

	RefundedAt *time.Time `gorm:"column:refunded_at" json:"refunded_at,omitempty"`
	CreatedAt  time.Time  `gorm:"column:created_at" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (Order) TableName() string {
	return "quote_orders"
}

// LedgerEntryType 원장 항목 구분
type LedgerEntryType string

const (
	LedgerEntryPayment LedgerEntryType = "payment"
	LedgerEntryRefund  LedgerEntryType = "refund"
)

// LedgerEntry 현금 흐름 원장 항목. 환불은 음수 금액
type LedgerEntry struct {
	ID              string          `gorm:"primaryKey;size:36" json:"id"`
	OrderID         string          `gorm:"column:order_id;size:64;index;not null" json:"order_id"`
	EntryType       LedgerEntryType `gorm:"column:entry_type;size:20;not null" json:"entry_type"`
	Amount          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency        string          `gorm:"size:3" json:"currency"`
	ReferenceNumber string          `gorm:"column:reference_number;size:100;index" json:"reference_number"`
	MerchantTxnID   *string         `gorm:"column:merchant_txn_id;size:100" json:"merchant_txn_id,omitempty"`
	RefundID        *string         `gorm:"column:refund_id;size:36" json:"refund_id,omitempty"`
	ActorID         string          `gorm:"column:actor_id;size:64" json:"actor_id,omitempty"`
	Description     string          `gorm:"size:255" json:"description,omitempty"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
}

// TableName GORM 테이블명
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// TransactionIDOverride 과거 ID 충돌 건에 대한 수동 매핑 (운영자가 명시적으로 등록)
type TransactionIDOverride struct {
	ID                 uint64    `gorm:"primaryKey" json:"id"`
	GatewayReferenceID string    `gorm:"column:gateway_reference_id;size:100;uniqueIndex;not null" json:"gateway_reference_id"`
	MerchantTxnID      string    `gorm:"column:merchant_txn_id;size:100;not null" json:"merchant_txn_id"`
	Note               string    `gorm:"size:255;not null" json:"note"`
	CreatedBy          string    `gorm:"column:created_by;size:64;not null" json:"created_by"`
	CreatedAt          time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName GORM 테이블명
func (TransactionIDOverride) TableName() string {
	return "transaction_id_overrides"
}
