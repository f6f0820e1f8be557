package service

import (
	"context"
	"fmt"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/repository"
	"github.com/damoang/refund-reconciler/pkg/logger"
)

// 우선순위별 최대 재시도 횟수
const (
	maxRetriesInfrastructure = 5
	maxRetriesGateway        = 3
)

// RetryPolicy 즉시 재시도와 큐 백오프 설정
type RetryPolicy struct {
	ImmediateDelay time.Duration
	BackoffBase    time.Duration
	BackoffMax     time.Duration
}

// DefaultRetryPolicy 기본값
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		ImmediateDelay: 500 * time.Millisecond,
		BackoffBase:    time.Minute,
		BackoffMax:     30 * time.Minute,
	}
}

// Backoff 재시도 횟수별 대기 시간 (지수 증가, 상한 적용)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BackoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	return d
}

// EnqueueInput 큐 등록 요청
type EnqueueInput struct {
	Request  *domain.RefundRequest
	Identity *domain.ResolvedIdentity // 식별자 조회 전 실패면 nil
	History  []domain.AttemptResult

	// 게이트웨이 응답을 받기 전 인프라 오류
	Infrastructure bool
	Cause          error
}

// EnqueueResult 큐 등록 결과. 즉시 재시도가 성공하면 Recovered만 채워짐
type EnqueueResult struct {
	Retry     *domain.AttemptResult
	Recovered *domain.AttemptResult
	Handle    *domain.QueueHandle
}

// ReplayOutcome 큐 항목 재실행 1회의 결과
type ReplayOutcome struct {
	SettlementID  string
	Orchestration *OrchestrationResult
	Permanent     bool
	Err           error
}

// RetryQueueManager 일시 실패의 즉시 재시도와 지연 재시도 큐 관리
type RetryQueueManager struct {
	queue        repository.QueueRepository
	orchestrator *AttemptOrchestrator
	policy       RetryPolicy
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration)
}

// NewRetryQueueManager 생성자
func NewRetryQueueManager(queue repository.QueueRepository, orchestrator *AttemptOrchestrator, policy RetryPolicy) *RetryQueueManager {
	return &RetryQueueManager{
		queue:        queue,
		orchestrator: orchestrator,
		policy:       policy,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Enqueue 즉시 재시도 1회 후 실패하면 큐에 저장. 영구 실패만 있는 결과는 거부
func (m *RetryQueueManager) Enqueue(ctx context.Context, in EnqueueInput) (*EnqueueResult, error) {
	retryIndex := firstRetryable(in.History)
	if !in.Infrastructure && retryIndex < 0 {
		return nil, ErrNotQueueable
	}

	result := &EnqueueResult{}
	history := append([]domain.AttemptResult(nil), in.History...)

	// 일시 실패한 전략 중 우선순위가 가장 높은 것 하나만 재시도
	if in.Identity != nil && retryIndex >= 0 && m.orchestrator != nil {
		m.sleep(ctx, m.policy.ImmediateDelay)
		retry := m.orchestrator.Attempt(context.WithoutCancel(ctx), retryIndex, in.Identity, in.Request)
		result.Retry = retry
		if retry.Succeeded() {
			result.Recovered = retry
			return result, nil
		}
		history = append(history, *retry)
	}

	priority := domain.PriorityNormal
	maxRetries := maxRetriesGateway
	if in.Infrastructure {
		priority = domain.PriorityHigh
		maxRetries = maxRetriesInfrastructure
	}

	reason := lastErrorText(history, in.Cause)
	qctx := &domain.QueueContext{
		Request:  *in.Request,
		Identity: in.Identity,
		History:  history,
		Reason:   reason,
	}
	blob, err := qctx.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode queue context: %w", err)
	}

	entry := &domain.RetryQueueEntry{
		RefundRequestID:    in.Request.RequestID,
		GatewayReferenceID: in.Request.GatewayReferenceID,
		OrderID:            in.Request.OrderID,
		GatewayCode:        lastCode(history, in.Infrastructure),
		Amount:             in.Request.Amount,
		ContextBlob:        blob,
		Priority:           priority,
		MaxRetries:         maxRetries,
		Status:             domain.QueueStatusPending,
		NextEligibleAt:     m.now().Add(m.policy.Backoff(1)),
		LastError:          reason,
	}
	if in.Identity != nil {
		entry.OriginalTransactionID = in.Identity.TransactionID
		entry.OrderID = in.Identity.OrderID
		entry.Currency = in.Identity.Currency
	}

	if err := m.queue.Enqueue(ctx, entry); err != nil {
		return nil, fmt.Errorf("enqueue refund retry: %w", err)
	}
	retryQueueEnqueuedTotal.WithLabelValues(string(priority)).Inc()

	logger.GetLogger().Info().
		Str("refund_request_id", in.Request.RequestID).
		Uint64("queue_id", entry.ID).
		Str("priority", string(priority)).
		Int("max_retries", maxRetries).
		Time("next_eligible_at", entry.NextEligibleAt).
		Msg("refund deferred to retry queue")

	result.Handle = &domain.QueueHandle{
		QueueID:    entry.ID,
		Priority:   priority,
		MaxRetries: maxRetries,
		NextRunAt:  entry.NextEligibleAt,
	}
	return result, nil
}

// RecordReplay 재실행 결과를 항목에 반영하고 새 상태 반환
func (m *RetryQueueManager) RecordReplay(ctx context.Context, entry *domain.RetryQueueEntry, outcome ReplayOutcome) (domain.QueueStatus, error) {
	if entry.Status.Terminal() {
		return entry.Status, ErrQueueEntryTerminal
	}

	fields := map[string]interface{}{}
	attemptCount := entry.AttemptCount + 1
	fields["attempt_count"] = attemptCount

	var status domain.QueueStatus
	switch {
	case outcome.SettlementID != "":
		status = domain.QueueStatusSettled
		fields["settlement_id"] = outcome.SettlementID
		fields["last_error"] = ""
	case outcome.Permanent || (outcome.Orchestration != nil && !outcome.Orchestration.IsTransient && outcome.Err == nil):
		status = domain.QueueStatusFailedPermanently
	case attemptCount >= entry.MaxRetries:
		status = domain.QueueStatusFailedPermanently
	default:
		status = domain.QueueStatusPending
		fields["next_eligible_at"] = m.now().Add(m.policy.Backoff(attemptCount + 1))
	}
	fields["status"] = status

	if status != domain.QueueStatusSettled {
		var history []domain.AttemptResult
		if outcome.Orchestration != nil {
			history = outcome.Orchestration.Attempts
		}
		fields["last_error"] = lastErrorText(history, outcome.Err)
		if code := lastCode(history, outcome.Err != nil); code != "" {
			fields["gateway_code"] = code
		}
		if blob := appendHistory(entry.ContextBlob, history); blob != "" {
			fields["context_blob"] = blob
		}
	}

	if err := m.queue.Update(ctx, entry.ID, fields); err != nil {
		return entry.Status, fmt.Errorf("update queue entry %d: %w", entry.ID, err)
	}

	logger.GetLogger().Info().
		Uint64("queue_id", entry.ID).
		Str("refund_request_id", entry.RefundRequestID).
		Int("attempt_count", attemptCount).
		Int("max_retries", entry.MaxRetries).
		Str("status", string(status)).
		Msg("retry queue replay recorded")

	entry.AttemptCount = attemptCount
	entry.Status = status
	return status, nil
}

// firstRetryable 일시 실패한 첫 전략 인덱스. 예산 초과 기록은 제외
func firstRetryable(history []domain.AttemptResult) int {
	for _, a := range history {
		if a.Retryable() && a.Code != domain.CodeBudgetExceeded {
			return a.StrategyIndex
		}
	}
	for _, a := range history {
		if a.Retryable() {
			return a.StrategyIndex
		}
	}
	return -1
}

func lastCode(history []domain.AttemptResult, infrastructure bool) string {
	if len(history) > 0 {
		return history[len(history)-1].Code
	}
	if infrastructure {
		return domain.CodeInfrastructure
	}
	return ""
}

func lastErrorText(history []domain.AttemptResult, cause error) string {
	if cause != nil {
		return truncateError(cause)
	}
	if len(history) > 0 {
		last := history[len(history)-1]
		return fmt.Sprintf("%s: %s %s", last.Strategy, last.Code, last.Message)
	}
	return ""
}

// appendHistory 컨텍스트의 시도 이력에 이번 재실행 결과 추가
func appendHistory(blob string, history []domain.AttemptResult) string {
	if len(history) == 0 {
		return ""
	}
	qctx, err := domain.DecodeQueueContext(blob)
	if err != nil {
		return ""
	}
	qctx.History = append(qctx.History, history...)
	encoded, err := qctx.Encode()
	if err != nil {
		return ""
	}
	return encoded
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
