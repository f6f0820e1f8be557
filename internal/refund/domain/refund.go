package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RefundKind 환불 구분
type RefundKind string

const (
	RefundKindFull    RefundKind = "full"
	RefundKindPartial RefundKind = "partial"
)

// Valid 허용된 값인지 확인
func (k RefundKind) Valid() bool {
	return k == RefundKindFull || k == RefundKindPartial
}

// CreateRefundRequest 환불 요청 DTO (관리자 POST 본문)
type CreateRefundRequest struct {
	GatewayReferenceID string          `json:"gatewayReferenceId" binding:"required,max=100"`
	Amount             decimal.Decimal `json:"amount" validate:"money"`
	RefundKind         string          `json:"refundKind" binding:"required,oneof=full partial"`
	Reason             string          `json:"reason" binding:"omitempty,max=255"`
	AdminNote          string          `json:"adminNote" binding:"omitempty,max=1000"`
	OrderID            string          `json:"orderId" binding:"omitempty,max=64"`
	NotifyCustomer     bool            `json:"notifyCustomer"`
}

// RefundRequest 처리 파이프라인에 전달되는 환불 요청. 접수 후에는 변경하지 않음
type RefundRequest struct {
	RequestID          string          `json:"request_id"`
	IdempotencyKey     string          `json:"idempotency_key"`
	ClientKey          string          `json:"client_key,omitempty"`
	GatewayReferenceID string          `json:"gateway_reference_id"`
	Amount             decimal.Decimal `json:"amount"`
	Kind               RefundKind      `json:"refund_kind"`
	Reason             string          `json:"reason,omitempty"`
	AdminNote          string          `json:"admin_note,omitempty"`
	OrderID            string          `json:"order_id,omitempty"`
	NotifyCustomer     bool            `json:"notify_customer"`
	ActorID            string          `json:"actor_id"`
}

// NewRefundRequest DTO로부터 환불 요청 생성 (멱등 키와 요청 ID를 결정적으로 계산)
func NewRefundRequest(dto *CreateRefundRequest, actorID, clientKey string) *RefundRequest {
	gatewayRef := strings.TrimSpace(dto.GatewayReferenceID)
	key := IdempotencyKey(gatewayRef, dto.Amount)
	return &RefundRequest{
		RequestID:          RequestIDFor(key),
		IdempotencyKey:     key,
		ClientKey:          clientKey,
		GatewayReferenceID: gatewayRef,
		Amount:             dto.Amount.Round(2),
		Kind:               RefundKind(dto.RefundKind),
		Reason:             dto.Reason,
		AdminNote:          dto.AdminNote,
		OrderID:            strings.TrimSpace(dto.OrderID),
		NotifyCustomer:     dto.NotifyCustomer,
		ActorID:            actorID,
	}
}

// IdempotencyKey (게이트웨이 참조 ID, 금액) 쌍의 멱등 키
func IdempotencyKey(gatewayReferenceID string, amount decimal.Decimal) string {
	sum := sha256.Sum256([]byte(gatewayReferenceID + "|" + amount.StringFixed(2)))
	return hex.EncodeToString(sum[:])
}

// RequestIDFor 멱등 키로부터 결정적인 요청 ID(UUID v5) 생성
func RequestIDFor(idempotencyKey string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("refund:"+idempotencyKey)).String()
}

// RefundToken 게이트웨이 중복 제거용 토큰. 모든 전략이 같은 토큰을 사용
func (r *RefundRequest) RefundToken() string {
	return "RF" + strings.ReplaceAll(r.RequestID, "-", "")[:20]
}

// Provenance 가맹점 거래 ID를 찾은 단계
type Provenance string

const (
	ProvenancePaymentRecord  Provenance = "payment_record"
	ProvenancePaymentMeta    Provenance = "payment_metadata"
	ProvenanceLedgerXRef     Provenance = "ledger_xref"
	ProvenanceManualOverride Provenance = "manual_override"
)

// ResolvedIdentity 게이트웨이 환불 API에 보낼 가맹점 거래 ID와 그 출처
type ResolvedIdentity struct {
	MerchantTxnID      string     `json:"merchant_txn_id"`
	GatewayReferenceID string     `json:"gateway_reference_id"`
	Provenance         Provenance `json:"provenance"`
	TransactionID      uint64     `json:"transaction_id"`
	OrderID            string     `json:"order_id"`
	Currency           string     `json:"currency"`

	Transaction *PaymentTransaction `json:"-"`
	Order       *Order              `json:"-"`
}

// RefundState 환불 요청 처리 상태
type RefundState string

const (
	RefundStateReceived            RefundState = "received"
	RefundStateResolving           RefundState = "resolving"
	RefundStateAttempting          RefundState = "attempting"
	RefundStateSettled             RefundState = "settled"
	RefundStateQueued              RefundState = "queued_for_retry"
	RefundStateFailedPermanently   RefundState = "failed_permanently"
	RefundStateNeedsReconciliation RefundState = "needs_reconciliation"
)

// Terminal 재진입이 불가능한 최종 상태인지
func (s RefundState) Terminal() bool {
	return s == RefundStateSettled || s == RefundStateNeedsReconciliation
}

// RefundRequestRecord 멱등 키별 처리 상태 행. 동일 키의 동시 처리를 막는다
type RefundRequestRecord struct {
	ID                 string          `gorm:"primaryKey;size:36" json:"id"`
	IdempotencyKey     string          `gorm:"column:idempotency_key;size:64;uniqueIndex;not null" json:"idempotency_key"`
	ClientKey          string          `gorm:"column:client_key;size:128" json:"client_key,omitempty"`
	GatewayReferenceID string          `gorm:"column:gateway_reference_id;size:100;index;not null" json:"gateway_reference_id"`
	OrderID            string          `gorm:"column:order_id;size:64" json:"order_id,omitempty"`
	Amount             decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Kind               RefundKind      `gorm:"column:refund_kind;size:10" json:"refund_kind"`
	State              RefundState     `gorm:"size:30;not null" json:"state"`
	Provenance         Provenance      `gorm:"size:30" json:"provenance,omitempty"`
	SettlementID       *string         `gorm:"column:settlement_id;size:36" json:"settlement_id,omitempty"`
	QueueEntryID       *uint64         `gorm:"column:queue_entry_id" json:"queue_entry_id,omitempty"`
	LastError          string          `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	ActorID            string          `gorm:"column:actor_id;size:64" json:"actor_id"`
	CreatedAt          time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (RefundRequestRecord) TableName() string {
	return "refund_requests"
}
