package service

import (
	"context"
	"fmt"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/gateway"
	"github.com/damoang/refund-reconciler/pkg/logger"
)

// Attempter 전략 1회 실행 (gateway.Adapter)
type Attempter interface {
	Attempt(ctx context.Context, s gateway.Strategy, identity *domain.ResolvedIdentity, in gateway.AttemptInput) *domain.AttemptResult
}

// OrchestrationResult 전략 순회 결과
type OrchestrationResult struct {
	Success     *domain.AttemptResult
	Attempts    []domain.AttemptResult
	IsTransient bool
}

// Succeeded 성공한 전략이 있는지
func (r *OrchestrationResult) Succeeded() bool {
	return r != nil && r.Success != nil
}

// AttemptOrchestrator 전략 표를 우선순위 순서대로 순차 실행
type AttemptOrchestrator struct {
	adapter    Attempter
	strategies []gateway.Strategy
	budget     time.Duration
	now        func() time.Time
}

// NewAttemptOrchestrator 생성자. budget은 전체 전략에 걸친 시간 한도
func NewAttemptOrchestrator(adapter Attempter, strategies []gateway.Strategy, budget time.Duration) *AttemptOrchestrator {
	if budget <= 0 {
		budget = 20 * time.Second
	}
	return &AttemptOrchestrator{
		adapter:    adapter,
		strategies: strategies,
		budget:     budget,
		now:        time.Now,
	}
}

// Budget 전체 전략 시간 한도
func (o *AttemptOrchestrator) Budget() time.Duration {
	return o.budget
}

// Strategies 전략 표 (읽기 전용)
func (o *AttemptOrchestrator) Strategies() []gateway.Strategy {
	return o.strategies
}

// Run 첫 성공에서 중단. 병렬 호출하지 않는다
// 호출자 컨텍스트가 취소돼도 진행 중인 게이트웨이 호출은 끝까지 수행
func (o *AttemptOrchestrator) Run(ctx context.Context, identity *domain.ResolvedIdentity, req *domain.RefundRequest) *OrchestrationResult {
	runCtx := context.WithoutCancel(ctx)
	started := o.now()
	result := &OrchestrationResult{}

	for i := range o.strategies {
		if elapsed := o.now().Sub(started); elapsed >= o.budget {
			result.Attempts = append(result.Attempts, domain.AttemptResult{
				Outcome:       domain.OutcomeRetryableFailure,
				Strategy:      o.strategies[i].Name,
				StrategyIndex: i,
				Code:          domain.CodeBudgetExceeded,
				Message:       fmt.Sprintf("attempt budget %s spent after %s", o.budget, elapsed.Round(time.Millisecond)),
				AttemptedAt:   o.now(),
			})
			break
		}

		attempt := o.Attempt(runCtx, i, identity, req)
		result.Attempts = append(result.Attempts, *attempt)
		if attempt.Succeeded() {
			result.Success = &result.Attempts[len(result.Attempts)-1]
			return result
		}
	}

	for i := range result.Attempts {
		if result.Attempts[i].Retryable() {
			result.IsTransient = true
			break
		}
	}
	return result
}

// Attempt 지정한 전략 하나만 실행 (즉시 재시도, 큐 재실행에서 사용)
func (o *AttemptOrchestrator) Attempt(ctx context.Context, index int, identity *domain.ResolvedIdentity, req *domain.RefundRequest) *domain.AttemptResult {
	strategy := o.strategies[index]
	attempt := o.adapter.Attempt(ctx, strategy, identity, gateway.AttemptInput{
		Amount:      req.Amount,
		RefundToken: req.RefundToken(),
		Reason:      req.Reason,
	})
	attempt.StrategyIndex = index

	gatewayAttemptsTotal.WithLabelValues(strategy.Name, string(attempt.Outcome), attempt.Code).Inc()
	gatewayAttemptDuration.WithLabelValues(strategy.Name).Observe(attempt.Duration.Seconds())

	logger.GetLogger().Info().
		Str("refund_request_id", req.RequestID).
		Str("strategy", strategy.Name).
		Int("strategy_index", index).
		Str("outcome", string(attempt.Outcome)).
		Str("code", attempt.Code).
		Int("http_status", attempt.HTTPStatus).
		Dur("duration", attempt.Duration).
		Msg("gateway refund attempt")

	return attempt
}
