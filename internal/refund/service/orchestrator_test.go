package service

import (
	"context"
	"testing"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/gateway"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testIdentity() *domain.ResolvedIdentity {
	return &domain.ResolvedIdentity{
		MerchantTxnID:      "MER-9",
		GatewayReferenceID: "GW-9",
		Provenance:         domain.ProvenancePaymentRecord,
		TransactionID:      1,
		OrderID:            "Q-100",
		Currency:           "USD",
	}
}

func testRequest() *domain.RefundRequest {
	return domain.NewRefundRequest(&domain.CreateRefundRequest{
		GatewayReferenceID: "GW-9",
		Amount:             decimal.RequireFromString("50.00"),
		RefundKind:         "partial",
	}, "admin-1", "")
}

func TestRun_SequentialUntilFirstSuccess(t *testing.T) {
	strategies := gateway.DefaultStrategies()
	attempter := newScriptedAttempter()
	attempter.script(strategies[0].Name, permanent(domain.CodeInvalidHash))
	attempter.script(strategies[1].Name, retryable(domain.CodeRateLimited))
	attempter.script(strategies[2].Name, ok())

	result := NewAttemptOrchestrator(attempter, strategies, time.Minute).Run(context.Background(), testIdentity(), testRequest())

	require.True(t, result.Succeeded())
	assert.Equal(t, strategies[2].Name, result.Success.Strategy)
	assert.Equal(t, 2, result.Success.StrategyIndex)
	assert.Len(t, result.Attempts, 3)
	assert.Equal(t, []string{strategies[0].Name, strategies[1].Name, strategies[2].Name}, attempter.Calls())
}

func TestRun_TransientWhenAnyFailureRetryable(t *testing.T) {
	strategies := gateway.DefaultStrategies()
	attempter := newScriptedAttempter()
	attempter.script(strategies[2].Name, retryable(domain.CodeHTTP5xx))

	result := NewAttemptOrchestrator(attempter, strategies, time.Minute).Run(context.Background(), testIdentity(), testRequest())

	assert.False(t, result.Succeeded())
	assert.True(t, result.IsTransient)
	assert.Len(t, result.Attempts, len(strategies))
}

func TestRun_AllPermanent(t *testing.T) {
	strategies := gateway.DefaultStrategies()
	attempter := newScriptedAttempter()

	result := NewAttemptOrchestrator(attempter, strategies, time.Minute).Run(context.Background(), testIdentity(), testRequest())

	assert.False(t, result.Succeeded())
	assert.False(t, result.IsTransient)
}

func TestRun_BudgetExceededStopsBetweenStrategies(t *testing.T) {
	strategies := gateway.DefaultStrategies()
	attempter := newScriptedAttempter()
	for _, s := range strategies {
		attempter.script(s.Name, permanent(domain.CodeInvalidHash))
	}

	// 호출할 때마다 10초씩 흐르는 시계
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ticks := 0
	o := NewAttemptOrchestrator(attempter, strategies, 20*time.Second)
	o.now = func() time.Time {
		ticks++
		return base.Add(time.Duration(ticks-1) * 10 * time.Second)
	}

	result := o.Run(context.Background(), testIdentity(), testRequest())

	require.Len(t, result.Attempts, 2)
	assert.Equal(t, []string{strategies[0].Name}, attempter.Calls())
	budget := result.Attempts[1]
	assert.Equal(t, domain.CodeBudgetExceeded, budget.Code)
	assert.Equal(t, domain.OutcomeRetryableFailure, budget.Outcome)
	assert.Equal(t, 1, budget.StrategyIndex)
	assert.True(t, result.IsTransient)
}

func TestRun_IgnoresCallerCancellation(t *testing.T) {
	strategies := gateway.DefaultStrategies()
	attempter := newScriptedAttempter()
	attempter.script(strategies[0].Name, ok())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := NewAttemptOrchestrator(attempter, strategies, time.Minute).Run(ctx, testIdentity(), testRequest())
	assert.True(t, result.Succeeded())
}
