package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// QueuePriority 재시도 큐 우선순위
type QueuePriority string

const (
	PriorityHigh   QueuePriority = "high"   // 인프라 오류
	PriorityNormal QueuePriority = "normal" // 게이트웨이 일시 오류
)

// QueueStatus 재시도 큐 항목 상태
type QueueStatus string

const (
	QueueStatusPending           QueueStatus = "pending"
	QueueStatusProcessing        QueueStatus = "processing"
	QueueStatusSettled           QueueStatus = "settled"
	QueueStatusFailedPermanently QueueStatus = "failed_permanently"
)

// Terminal 더 이상 재시도하지 않는 상태인지
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusSettled || s == QueueStatusFailedPermanently
}

// RetryQueueEntry 지연 재시도 작업. 외부 워커가 소비한다
type RetryQueueEntry struct {
	ID                    uint64          `gorm:"primaryKey" json:"id"`
	RefundRequestID       string          `gorm:"column:refund_request_id;size:36;index;not null" json:"refund_request_id"`
	OriginalTransactionID uint64          `gorm:"column:original_transaction_id" json:"original_transaction_id"`
	GatewayReferenceID    string          `gorm:"column:gateway_reference_id;size:100;not null" json:"gateway_reference_id"`
	OrderID               string          `gorm:"column:order_id;size:64" json:"order_id"`
	GatewayCode           string          `gorm:"column:gateway_code;size:40" json:"gateway_code"`
	Amount                decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency              string          `gorm:"size:3" json:"currency"`
	ContextBlob           string          `gorm:"column:context_blob;type:text;not null" json:"-"`
	Priority              QueuePriority   `gorm:"size:10;not null;index:idx_queue_due,priority:2" json:"priority"`
	AttemptCount          int             `gorm:"column:attempt_count;not null;default:0" json:"attempt_count"`
	MaxRetries            int             `gorm:"column:max_retries;not null" json:"max_retries"`
	Status                QueueStatus     `gorm:"size:20;not null;index:idx_queue_due,priority:1" json:"status"`
	NextEligibleAt        time.Time       `gorm:"column:next_eligible_at;not null;index:idx_queue_due,priority:3" json:"next_eligible_at"`
	LastError             string          `gorm:"column:last_error;type:text" json:"last_error,omitempty"`
	SettlementID          *string         `gorm:"column:settlement_id;size:36" json:"settlement_id,omitempty"`
	CreatedAt             time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt             time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

// TableName GORM 테이블명
func (RetryQueueEntry) TableName() string {
	return "refund_retry_queue"
}

// QueueContext 재시도 시 식별자를 다시 조회하지 않도록 보관하는 전체 컨텍스트
type QueueContext struct {
	Request  RefundRequest     `json:"request"`
	Identity *ResolvedIdentity `json:"identity,omitempty"`
	History  []AttemptResult   `json:"history"`
	Reason   string            `json:"reason"`
}

// Encode JSON 직렬화
func (c *QueueContext) Encode() (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeQueueContext 큐 항목의 컨텍스트 복원
func DecodeQueueContext(blob string) (*QueueContext, error) {
	var c QueueContext
	if err := json.Unmarshal([]byte(blob), &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// QueueHandle 큐 등록 결과
type QueueHandle struct {
	QueueID    uint64        `json:"queueId"`
	Priority   QueuePriority `json:"priority"`
	MaxRetries int           `json:"maxRetries"`
	NextRunAt  time.Time     `json:"nextRunAt"`
}
