package domain

import (
	"time"
)

// Outcome 게이트웨이 시도 결과 분류
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeRetryableFailure Outcome = "retryable_failure"
	OutcomePermanentFailure Outcome = "permanent_failure"
)

// 정규화된 실패 코드
const (
	CodeOK                = "OK"
	CodeTimeout           = "TIMEOUT"
	CodeTransportError    = "TRANSPORT_ERROR"
	CodeHTTP5xx           = "HTTP_5XX"
	CodeHTTP4xx           = "HTTP_4XX"
	CodeRateLimited       = "RATE_LIMITED"
	CodeMalformedResponse = "MALFORMED_RESPONSE"
	CodeInvalidHash       = "INVALID_HASH"
	CodeTxnNotFound       = "TXN_NOT_FOUND"
	CodeInvalidAmount     = "INVALID_AMOUNT"
	CodeGatewayRejected   = "GATEWAY_REJECTED"
	CodeBudgetExceeded    = "BUDGET_EXCEEDED"
	CodeRequestBuild      = "REQUEST_BUILD_ERROR"
	CodeInfrastructure    = "INFRASTRUCTURE_ERROR"
)

// AttemptResult 게이트웨이 호출 1회의 정규화된 결과
type AttemptResult struct {
	Outcome       Outcome       `json:"outcome"`
	Strategy      string        `json:"strategy"`
	StrategyIndex int           `json:"strategy_index"`
	Code          string        `json:"code"`
	Message       string        `json:"message,omitempty"`
	HTTPStatus    int           `json:"http_status,omitempty"`
	RawResponse   string        `json:"raw_response,omitempty"`
	GatewayRefund string        `json:"gateway_refund_id,omitempty"`
	Duration      time.Duration `json:"duration"`
	AttemptedAt   time.Time     `json:"attempted_at"`
}

// Succeeded 성공 여부
func (r *AttemptResult) Succeeded() bool {
	return r != nil && r.Outcome == OutcomeSuccess
}

// Retryable 재시도 가능한 실패인지
func (r *AttemptResult) Retryable() bool {
	return r != nil && r.Outcome == OutcomeRetryableFailure
}

// StrategyFailure 진단용 전략별 실패 요약 (비밀값 미포함)
type StrategyFailure struct {
	Strategy   string  `json:"strategy"`
	Outcome    Outcome `json:"outcome"`
	Code       string  `json:"code"`
	Message    string  `json:"message,omitempty"`
	HTTPStatus int     `json:"httpStatus,omitempty"`
}

// Summaries 시도 목록을 진단용 요약으로 변환
func Summaries(results []AttemptResult) []StrategyFailure {
	out := make([]StrategyFailure, 0, len(results))
	for _, r := range results {
		out = append(out, StrategyFailure{
			Strategy:   r.Strategy,
			Outcome:    r.Outcome,
			Code:       r.Code,
			Message:    r.Message,
			HTTPStatus: r.HTTPStatus,
		})
	}
	return out
}

// RefundAttemptLog 게이트웨이 시도 감사 로그
type RefundAttemptLog struct {
	ID              uint64    `gorm:"primaryKey" json:"id"`
	RefundRequestID string    `gorm:"column:refund_request_id;size:36;index;not null" json:"refund_request_id"`
	Phase           string    `gorm:"size:20;not null" json:"phase"` // initial, immediate_retry, replay
	Strategy        string    `gorm:"size:64;not null" json:"strategy"`
	Outcome         Outcome   `gorm:"size:20;not null" json:"outcome"`
	Code            string    `gorm:"size:40" json:"code"`
	Message         string    `gorm:"type:text" json:"message,omitempty"`
	HTTPStatus      int       `gorm:"column:http_status" json:"http_status,omitempty"`
	RawResponse     string    `gorm:"column:raw_response;type:text" json:"-"`
	DurationMs      int64     `gorm:"column:duration_ms" json:"duration_ms"`
	CreatedAt       time.Time `gorm:"column:created_at" json:"created_at"`
}

// TableName GORM 테이블명
func (RefundAttemptLog) TableName() string {
	return "refund_attempts"
}
