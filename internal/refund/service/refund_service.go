package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/repository"
	"github.com/damoang/refund-reconciler/pkg/logger"
	"gorm.io/gorm"
)

// 시도 로그 단계
const (
	phaseInitial        = "initial"
	phaseImmediateRetry = "immediate_retry"
	phaseReplay         = "replay"
)

// RefundService 환불 파이프라인 서비스 인터페이스
type RefundService interface {
	// 환불 처리
	ProcessRefund(ctx context.Context, req *domain.RefundRequest) (*ProcessResult, error)

	// 재시도 큐
	ReplayQueued(ctx context.Context, entryID uint64) (*ReplayResult, error)
	ProcessClaimed(ctx context.Context, entry *domain.RetryQueueEntry) (*ReplayResult, error)
	GetQueueEntry(ctx context.Context, entryID uint64) (*domain.RetryQueueEntry, error)
	RecoverStalled(ctx context.Context, cutoff time.Time, limit int) (int, error)

	// 운영 조회
	ListAlerts(ctx context.Context, limit int) ([]*domain.ReconciliationAlert, error)
	ListAttempts(ctx context.Context, refundRequestID string) ([]*domain.RefundAttemptLog, error)
}

// ProcessResult 환불 처리 결과 (정산 또는 큐 등록)
type ProcessResult struct {
	State      domain.RefundState
	Settlement *domain.SettlementRecord
	Queue      *domain.QueueHandle
	Identity   *domain.ResolvedIdentity
	Attempts   []domain.AttemptResult
}

// ReplayResult 큐 항목 재실행 결과
type ReplayResult struct {
	QueueID    uint64                   `json:"queueId"`
	Status     domain.QueueStatus       `json:"status"`
	Settlement *domain.SettlementRecord `json:"settlement,omitempty"`
	Attempts   []domain.AttemptResult   `json:"-"`
	Error      string                   `json:"error,omitempty"`
}

// Repositories 서비스가 사용하는 저장소 묶음
type Repositories struct {
	Requests     repository.RequestRepository
	Transactions repository.TransactionRepository
	Settlements  repository.SettlementRepository
	Queue        repository.QueueRepository
	Audit        repository.AuditRepository
}

// refundService 구현체
type refundService struct {
	repos        Repositories
	resolver     TransactionResolver
	orchestrator *AttemptOrchestrator
	committer    *SettlementCommitter
	retries      *RetryQueueManager
	notifier     *NotificationDispatcher

	// 같은 키로 진행 중인 요청의 결과를 기다리는 시간
	inFlightWait time.Duration
	inFlightPoll time.Duration
}

// Option RefundService 선택 설정
type Option func(*refundService)

// WithInFlightWait 중복 요청이 진행 중인 첫 요청을 기다리는 최대 시간과 확인 간격
func WithInFlightWait(wait, poll time.Duration) Option {
	return func(s *refundService) {
		s.inFlightWait = wait
		if poll > 0 {
			s.inFlightPoll = poll
		}
	}
}

// NewRefundService 생성자
func NewRefundService(
	repos Repositories,
	resolver TransactionResolver,
	orchestrator *AttemptOrchestrator,
	committer *SettlementCommitter,
	retries *RetryQueueManager,
	notifier *NotificationDispatcher,
	opts ...Option,
) RefundService {
	s := &refundService{
		repos:        repos,
		resolver:     resolver,
		orchestrator: orchestrator,
		committer:    committer,
		retries:      retries,
		notifier:     notifier,
		inFlightWait: orchestrator.Budget() + retries.policy.ImmediateDelay + 5*time.Second,
		inFlightPoll: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessRefund 접수 → 식별자 조회 → 잔액 확인 → 전략 시도 → 정산 또는 큐 등록
func (s *refundService) ProcessRefund(ctx context.Context, req *domain.RefundRequest) (*ProcessResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	existing, err := s.claim(ctx, req)
	if err != nil || existing != nil {
		return existing, err
	}

	// 요청 행을 선점한 이후의 처리는 호출자 취소와 무관하게 끝까지 진행
	ctx = context.WithoutCancel(ctx)

	s.transition(ctx, req.RequestID, domain.RefundStateResolving, nil)
	identity, err := s.resolver.Resolve(ctx, req.GatewayReferenceID, req.OrderID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			s.fail(ctx, req.RequestID, err)
			return nil, err
		}
		// 게이트웨이 호출 전 인프라 오류
		return s.deferRetry(ctx, EnqueueInput{Request: req, Infrastructure: true, Cause: err})
	}

	if err := checkRefundable(identity.Transaction, req); err != nil {
		s.fail(ctx, req.RequestID, err)
		return nil, err
	}

	s.transition(ctx, req.RequestID, domain.RefundStateAttempting, map[string]interface{}{
		"provenance": identity.Provenance,
		"order_id":   identity.OrderID,
	})
	orch := s.orchestrator.Run(ctx, identity, req)
	s.logAttempts(ctx, req.RequestID, phaseInitial, orch.Attempts)

	if orch.Succeeded() {
		return s.settle(ctx, req, identity, orch.Success, orch.Attempts)
	}
	if !orch.IsTransient {
		failure := newPermanentFailure(orch.Attempts)
		s.fail(ctx, req.RequestID, failure)
		return nil, failure
	}
	return s.deferRetry(ctx, EnqueueInput{Request: req, Identity: identity, History: orch.Attempts})
}

// claim 요청 행 선점. 이미 처리된 키면 기존 결과 반환
func (s *refundService) claim(ctx context.Context, req *domain.RefundRequest) (*ProcessResult, error) {
	record := &domain.RefundRequestRecord{
		ID:                 req.RequestID,
		IdempotencyKey:     req.IdempotencyKey,
		ClientKey:          req.ClientKey,
		GatewayReferenceID: req.GatewayReferenceID,
		OrderID:            req.OrderID,
		Amount:             req.Amount,
		Kind:               req.Kind,
		State:              domain.RefundStateReceived,
		ActorID:            req.ActorID,
	}
	existing, created, err := s.repos.Requests.Claim(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("claim refund request: %w", err)
	}
	if created {
		return nil, nil
	}
	return s.awaitExisting(ctx, req, existing)
}

// awaitExisting 같은 키의 요청이 진행 중이면 정산/큐 등록/실패까지 기다린 뒤 그 결과를 반환
// 대기 시간을 넘기거나 호출자가 취소하면 ErrRefundInProgress
func (s *refundService) awaitExisting(ctx context.Context, req *domain.RefundRequest, existing *domain.RefundRequestRecord) (*ProcessResult, error) {
	deadline := time.Now().Add(s.inFlightWait)
	for {
		result, done, err := s.existingOutcome(ctx, req, existing)
		if done {
			return result, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrRefundInProgress
		}

		timer := time.NewTimer(s.inFlightPoll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ErrRefundInProgress
		case <-timer.C:
		}

		existing, err = s.repos.Requests.FindByID(ctx, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("reload refund request: %w", err)
		}
	}
}

// existingOutcome 기존 요청 행의 현재 결과. done=false면 아직 진행 중
// 영구 실패 건을 재선점하면 (nil, true, nil)로 새 처리를 진행
func (s *refundService) existingOutcome(ctx context.Context, req *domain.RefundRequest, existing *domain.RefundRequestRecord) (*ProcessResult, bool, error) {
	// 정산 기록이 있으면 상태 행과 무관하게 같은 결과 반환
	settlement, err := s.repos.Settlements.FindByKey(ctx, req.IdempotencyKey)
	if err == nil {
		settlement.Duplicate = true
		return &ProcessResult{State: domain.RefundStateSettled, Settlement: settlement}, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, true, fmt.Errorf("find settlement: %w", err)
	}

	switch existing.State {
	case domain.RefundStateQueued:
		entry, err := s.repos.Queue.FindActiveByRequest(ctx, existing.ID)
		if err == nil {
			return &ProcessResult{State: domain.RefundStateQueued, Queue: handleOf(entry)}, true, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, true, fmt.Errorf("find queue entry: %w", err)
		}
	case domain.RefundStateNeedsReconciliation:
		return nil, true, fmt.Errorf("%w: refund request %s", ErrSettlementDiverged, existing.ID)
	case domain.RefundStateFailedPermanently:
		// 영구 실패 건은 (수동 매핑 추가 등 이후) 다시 접수 가능
		ok, err := s.repos.Requests.Reacquire(ctx, existing.ID, []domain.RefundState{domain.RefundStateFailedPermanently})
		if err != nil {
			return nil, true, fmt.Errorf("reacquire refund request: %w", err)
		}
		if ok {
			return nil, true, nil
		}
	}
	return nil, false, nil
}

// settle 정산 후 알림
func (s *refundService) settle(ctx context.Context, req *domain.RefundRequest, identity *domain.ResolvedIdentity, success *domain.AttemptResult, attempts []domain.AttemptResult) (*ProcessResult, error) {
	record, err := s.committer.Commit(ctx, req, identity, success)
	if err != nil {
		refundResultsTotal.WithLabelValues(string(domain.RefundStateNeedsReconciliation)).Inc()
		return nil, err
	}

	refundResultsTotal.WithLabelValues(string(domain.RefundStateSettled)).Inc()
	if !record.Duplicate {
		s.notifier.Notify(record, req)
	}
	return &ProcessResult{
		State:      domain.RefundStateSettled,
		Settlement: record,
		Identity:   identity,
		Attempts:   attempts,
	}, nil
}

// deferRetry 즉시 재시도 후 큐 등록
func (s *refundService) deferRetry(ctx context.Context, in EnqueueInput) (*ProcessResult, error) {
	req := in.Request
	res, err := s.retries.Enqueue(ctx, in)
	if err != nil {
		// 게이트웨이가 수락한 적 없으므로 재접수 가능 상태로 남김
		s.fail(ctx, req.RequestID, err)
		return nil, fmt.Errorf("queue refund: %w", err)
	}

	attempts := in.History
	if res.Retry != nil {
		s.logAttempts(ctx, req.RequestID, phaseImmediateRetry, []domain.AttemptResult{*res.Retry})
		attempts = append(attempts, *res.Retry)
	}
	if res.Recovered != nil {
		return s.settle(ctx, req, in.Identity, res.Recovered, attempts)
	}

	s.transition(ctx, req.RequestID, domain.RefundStateQueued, map[string]interface{}{
		"queue_entry_id": res.Handle.QueueID,
		"last_error":     lastErrorText(attempts, in.Cause),
	})
	refundResultsTotal.WithLabelValues(string(domain.RefundStateQueued)).Inc()

	return &ProcessResult{
		State:    domain.RefundStateQueued,
		Queue:    res.Handle,
		Identity: in.Identity,
		Attempts: attempts,
	}, nil
}

// ReplayQueued 관리자 수동 재실행. pending 항목만 선점 가능
func (s *refundService) ReplayQueued(ctx context.Context, entryID uint64) (*ReplayResult, error) {
	entry, err := s.GetQueueEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.Status.Terminal() {
		return nil, ErrQueueEntryTerminal
	}
	if err := s.repos.Queue.MarkProcessing(ctx, entryID); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return nil, ErrQueueEntryBusy
		}
		return nil, err
	}
	entry.Status = domain.QueueStatusProcessing
	return s.ProcessClaimed(ctx, entry)
}

// ProcessClaimed processing으로 선점된 항목 재실행. 저장된 식별자를 그대로 사용
func (s *refundService) ProcessClaimed(ctx context.Context, entry *domain.RetryQueueEntry) (*ReplayResult, error) {
	ctx = context.WithoutCancel(ctx)

	qctx, err := domain.DecodeQueueContext(entry.ContextBlob)
	if err != nil {
		return s.finishReplay(ctx, entry, "", ReplayOutcome{Permanent: true, Err: fmt.Errorf("corrupt queue context: %w", err)}, nil)
	}
	req := &qctx.Request

	// 이전 시도가 게이트웨이와 정산까지 끝났으면 재호출하지 않음
	existing, err := s.repos.Settlements.FindByKey(ctx, req.IdempotencyKey)
	if err == nil {
		existing.Duplicate = true
		return s.finishReplay(ctx, entry, req.RequestID, ReplayOutcome{SettlementID: existing.ID}, existing)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return s.finishReplay(ctx, entry, req.RequestID, ReplayOutcome{Err: err}, nil)
	}

	identity := qctx.Identity
	if identity == nil {
		// 식별자 조회 전에 큐에 들어간 항목
		identity, err = s.resolver.Resolve(ctx, req.GatewayReferenceID, req.OrderID)
		if err != nil {
			return s.finishReplay(ctx, entry, req.RequestID, ReplayOutcome{Permanent: errors.Is(err, ErrIdentityNotFound), Err: err}, nil)
		}
	}

	// 잔액만 다시 확인
	payment, err := s.repos.Transactions.FindPaymentByGatewayRef(ctx, identity.GatewayReferenceID, identity.OrderID)
	if err != nil {
		return s.finishReplay(ctx, entry, req.RequestID, ReplayOutcome{Permanent: errors.Is(err, gorm.ErrRecordNotFound), Err: err}, nil)
	}
	if err := checkRefundable(payment, req); err != nil {
		return s.finishReplay(ctx, entry, req.RequestID, ReplayOutcome{Permanent: true, Err: err}, nil)
	}
	identity.Transaction = payment

	s.transition(ctx, req.RequestID, domain.RefundStateAttempting, nil)
	orch := s.orchestrator.Run(ctx, identity, req)
	s.logAttempts(ctx, req.RequestID, phaseReplay, orch.Attempts)

	if !orch.Succeeded() {
		outcome := ReplayOutcome{Orchestration: orch, Permanent: !orch.IsTransient}
		return s.finishReplay(ctx, entry, req.RequestID, outcome, nil)
	}

	record, err := s.committer.Commit(ctx, req, identity, orch.Success)
	if err != nil {
		// 정합성 불일치는 자동 재시도하지 않음
		result, recordErr := s.finishReplay(ctx, entry, "", ReplayOutcome{Orchestration: orch, Permanent: true, Err: err}, nil)
		if recordErr != nil {
			return result, recordErr
		}
		return result, err
	}
	refundResultsTotal.WithLabelValues(string(domain.RefundStateSettled)).Inc()
	if !record.Duplicate {
		s.notifier.Notify(record, req)
	}
	return s.finishReplay(ctx, entry, "", ReplayOutcome{SettlementID: record.ID, Orchestration: orch}, record)
}

// finishReplay 큐 항목과 요청 상태 갱신. requestID가 비어 있으면 요청 상태는 건드리지 않음
func (s *refundService) finishReplay(ctx context.Context, entry *domain.RetryQueueEntry, requestID string, outcome ReplayOutcome, settlement *domain.SettlementRecord) (*ReplayResult, error) {
	status, err := s.retries.RecordReplay(ctx, entry, outcome)
	if err != nil {
		return nil, err
	}

	result := &ReplayResult{
		QueueID:    entry.ID,
		Status:     status,
		Settlement: settlement,
	}
	if outcome.Orchestration != nil {
		result.Attempts = outcome.Orchestration.Attempts
	}
	if outcome.Err != nil {
		result.Error = outcome.Err.Error()
	} else if status != domain.QueueStatusSettled && len(result.Attempts) > 0 {
		result.Error = lastErrorText(result.Attempts, nil)
	}

	if requestID != "" {
		switch status {
		case domain.QueueStatusSettled:
			s.transition(ctx, requestID, domain.RefundStateSettled, map[string]interface{}{"settlement_id": outcome.SettlementID})
		case domain.QueueStatusFailedPermanently:
			s.transition(ctx, requestID, domain.RefundStateFailedPermanently, map[string]interface{}{"last_error": result.Error})
		default:
			s.transition(ctx, requestID, domain.RefundStateQueued, map[string]interface{}{"last_error": result.Error})
		}
	}
	return result, nil
}

// RecoverStalled 프로세스 중단으로 진행 중 상태에 남은 요청 정리. 정리한 건수 반환
// 게이트웨이 호출 전 단계는 재접수 가능하게 실패 처리하고,
// 게이트웨이 호출 단계는 결과를 알 수 없으므로 정합성 경보를 남긴다
func (s *refundService) RecoverStalled(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	inFlight := []domain.RefundState{domain.RefundStateReceived, domain.RefundStateResolving, domain.RefundStateAttempting}
	records, err := s.repos.Requests.FindStalled(ctx, inFlight, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("find stalled refund requests: %w", err)
	}

	recovered := 0
	for _, record := range records {
		ok, err := s.recoverStalled(ctx, record)
		if err != nil {
			return recovered, err
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

func (s *refundService) recoverStalled(ctx context.Context, record *domain.RefundRequestRecord) (bool, error) {
	log := logger.WithRefund(record.ID, record.GatewayReferenceID)
	from := []domain.RefundState{record.State}

	// 정산은 끝났지만 상태 갱신 전에 중단된 경우
	settlement, err := s.repos.Settlements.FindByKey(ctx, record.IdempotencyKey)
	if err == nil {
		return s.repos.Requests.TransitionFrom(ctx, record.ID, from, domain.RefundStateSettled, map[string]interface{}{
			"settlement_id": settlement.ID,
			"last_error":    "",
		})
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("find settlement: %w", err)
	}

	// 재시도 큐 항목이 있으면 큐 쪽 복구(ReleaseStale)에 맡김
	if _, err := s.repos.Queue.FindActiveByRequest(ctx, record.ID); err == nil {
		return false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return false, fmt.Errorf("find queue entry: %w", err)
	}

	if record.State != domain.RefundStateAttempting {
		ok, err := s.repos.Requests.TransitionFrom(ctx, record.ID, from, domain.RefundStateFailedPermanently, map[string]interface{}{
			"last_error": "processing stopped before any gateway attempt",
		})
		if ok {
			log.Warn().Str("state", string(record.State)).Msg("stalled refund request released for resubmission")
		}
		return ok, err
	}

	cause := "processing stopped during gateway attempts; gateway outcome unknown"
	ok, err := s.repos.Requests.TransitionFrom(ctx, record.ID, from, domain.RefundStateNeedsReconciliation, map[string]interface{}{
		"last_error": cause,
	})
	if err != nil || !ok {
		return false, err
	}
	settlementDivergenceTotal.Inc()
	log.Error().Str("amount", record.Amount.StringFixed(2)).Msg("stalled refund request needs reconciliation")

	if err := s.repos.Audit.CreateAlert(ctx, &domain.ReconciliationAlert{
		RefundRequestID:    record.ID,
		GatewayReferenceID: record.GatewayReferenceID,
		OrderID:            record.OrderID,
		Amount:             record.Amount,
		Error:              cause,
		Status:             domain.AlertStatusOpen,
	}); err != nil {
		log.Error().Err(err).Msg("failed to persist reconciliation alert")
	}
	return true, nil
}

// GetQueueEntry 큐 항목 조회
func (s *refundService) GetQueueEntry(ctx context.Context, entryID uint64) (*domain.RetryQueueEntry, error) {
	entry, err := s.repos.Queue.FindByID(ctx, entryID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrQueueEntryNotFound
		}
		return nil, err
	}
	return entry, nil
}

// ListAlerts 미처리 정합성 경보
func (s *refundService) ListAlerts(ctx context.Context, limit int) ([]*domain.ReconciliationAlert, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repos.Audit.ListAlerts(ctx, domain.AlertStatusOpen, limit)
}

// ListAttempts 요청별 게이트웨이 시도 기록
func (s *refundService) ListAttempts(ctx context.Context, refundRequestID string) ([]*domain.RefundAttemptLog, error) {
	return s.repos.Audit.ListAttempts(ctx, refundRequestID)
}

// transition 상태 갱신 실패는 처리 흐름을 막지 않음
func (s *refundService) transition(ctx context.Context, requestID string, state domain.RefundState, fields map[string]interface{}) {
	if err := s.repos.Requests.Transition(ctx, requestID, state, fields); err != nil {
		logger.GetLogger().Warn().
			Err(err).
			Str("refund_request_id", requestID).
			Str("state", string(state)).
			Msg("failed to update refund request state")
	}
}

func (s *refundService) fail(ctx context.Context, requestID string, cause error) {
	refundResultsTotal.WithLabelValues(string(domain.RefundStateFailedPermanently)).Inc()
	s.transition(ctx, requestID, domain.RefundStateFailedPermanently, map[string]interface{}{
		"last_error": truncateError(cause),
	})
}

// logAttempts 시도 감사 로그 저장 (실패해도 진행)
func (s *refundService) logAttempts(ctx context.Context, requestID, phase string, attempts []domain.AttemptResult) {
	if len(attempts) == 0 {
		return
	}
	logs := make([]*domain.RefundAttemptLog, 0, len(attempts))
	for _, a := range attempts {
		logs = append(logs, &domain.RefundAttemptLog{
			RefundRequestID: requestID,
			Phase:           phase,
			Strategy:        a.Strategy,
			Outcome:         a.Outcome,
			Code:            a.Code,
			Message:         a.Message,
			HTTPStatus:      a.HTTPStatus,
			RawResponse:     a.RawResponse,
			DurationMs:      a.Duration.Milliseconds(),
			CreatedAt:       a.AttemptedAt,
		})
	}
	if err := s.repos.Audit.CreateAttempts(ctx, logs); err != nil {
		logger.GetLogger().Warn().Err(err).Str("refund_request_id", requestID).Msg("failed to persist refund attempts")
	}
}

// validateRequest 입력 검증
func validateRequest(req *domain.RefundRequest) error {
	switch {
	case req.GatewayReferenceID == "":
		return ErrMissingGatewayReference
	case !req.Amount.IsPositive():
		return ErrInvalidAmount
	case !req.Kind.Valid():
		return ErrInvalidRefundKind
	case req.ActorID == "":
		return ErrMissingActor
	}
	return nil
}

// checkRefundable 게이트웨이 호출 전 잔액 확인
func checkRefundable(payment *domain.PaymentTransaction, req *domain.RefundRequest) error {
	if payment == nil || !payment.Status.Refundable() {
		return ErrNotRefundable
	}
	remaining := payment.RefundableAmount()
	if req.Amount.GreaterThan(remaining) {
		return fmt.Errorf("%w: requested %s, remaining %s", ErrOverRefund, req.Amount.StringFixed(2), remaining.StringFixed(2))
	}
	return nil
}

func handleOf(entry *domain.RetryQueueEntry) *domain.QueueHandle {
	return &domain.QueueHandle{
		QueueID:    entry.ID,
		Priority:   entry.Priority,
		MaxRetries: entry.MaxRetries,
		NextRunAt:  entry.NextEligibleAt,
	}
}
