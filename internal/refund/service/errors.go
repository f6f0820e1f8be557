package service

import (
	"errors"
	"fmt"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
)

// 환불 에러 정의
var (
	ErrMissingGatewayReference = errors.New("gateway reference id is required")
	ErrMissingActor            = errors.New("refund actor is required")
	ErrIdentityNotFound        = errors.New("merchant transaction id could not be resolved")
	ErrInvalidAmount           = errors.New("refund amount must be positive")
	ErrOverRefund              = errors.New("refund amount exceeds remaining refundable balance")
	ErrInvalidRefundKind       = errors.New("refund kind must be full or partial")
	ErrNotRefundable           = errors.New("payment is not in a refundable status")
	ErrRefundInProgress        = errors.New("refund with the same key is already in progress")
	ErrSettlementDiverged      = errors.New("gateway accepted refund but settlement failed; manual reconciliation required")
	ErrNotQueueable            = errors.New("only transient failures can be queued")
	ErrQueueEntryNotFound      = errors.New("retry queue entry not found")
	ErrQueueEntryTerminal      = errors.New("retry queue entry is already terminal")
	ErrQueueEntryBusy          = errors.New("retry queue entry is being processed")
)

// PermanentFailureError 모든 전략이 영구 실패한 경우. 전략별 진단 정보 포함
type PermanentFailureError struct {
	Code     string
	Message  string
	Failures []domain.StrategyFailure
}

func (e *PermanentFailureError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("refund rejected by gateway (%s)", e.Code)
	}
	return fmt.Sprintf("refund rejected by gateway (%s): %s", e.Code, e.Message)
}

// newPermanentFailure 마지막 영구 실패를 대표로 삼아 에러 생성
func newPermanentFailure(history []domain.AttemptResult) *PermanentFailureError {
	err := &PermanentFailureError{Failures: domain.Summaries(history)}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Outcome == domain.OutcomePermanentFailure {
			err.Code = history[i].Code
			err.Message = history[i].Message
			break
		}
	}
	return err
}
