package service

import (
	"context"
	"testing"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/gateway"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Minute},
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{5, 16 * time.Minute},
		{6, 30 * time.Minute},
		{20, 30 * time.Minute},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestEnqueue_RejectsPermanentOnlyHistory(t *testing.T) {
	m := NewRetryQueueManager(nil, nil, DefaultRetryPolicy())

	_, err := m.Enqueue(context.Background(), EnqueueInput{
		Request:  testRequest(),
		Identity: testIdentity(),
		History: []domain.AttemptResult{
			permanent(domain.CodeInvalidHash),
			permanent(domain.CodeTxnNotFound),
		},
	})
	assert.ErrorIs(t, err, ErrNotQueueable)
}

func TestFirstRetryable_PrefersGatewayFailureOverBudget(t *testing.T) {
	history := []domain.AttemptResult{
		{Outcome: domain.OutcomePermanentFailure, StrategyIndex: 0, Code: domain.CodeInvalidHash},
		{Outcome: domain.OutcomeRetryableFailure, StrategyIndex: 1, Code: domain.CodeBudgetExceeded},
	}
	assert.Equal(t, 1, firstRetryable(history))

	history = append([]domain.AttemptResult{
		{Outcome: domain.OutcomeRetryableFailure, StrategyIndex: 0, Code: domain.CodeTimeout},
	}, history[1:]...)
	assert.Equal(t, 0, firstRetryable(history))

	assert.Equal(t, -1, firstRetryable([]domain.AttemptResult{permanent(domain.CodeInvalidHash)}))
}

func TestRecordReplay_TerminalEntry(t *testing.T) {
	m := NewRetryQueueManager(nil, nil, DefaultRetryPolicy())
	entry := &domain.RetryQueueEntry{ID: 1, Status: domain.QueueStatusSettled}

	status, err := m.RecordReplay(context.Background(), entry, ReplayOutcome{})
	require.ErrorIs(t, err, ErrQueueEntryTerminal)
	assert.Equal(t, domain.QueueStatusSettled, status)
}

func TestEnqueue_ImmediateRetryTargetsFirstRetryableStrategy(t *testing.T) {
	strategies := gateway.DefaultStrategies()
	attempter := newScriptedAttempter()
	attempter.script(strategies[1].Name, ok())

	orchestrator := NewAttemptOrchestrator(attempter, strategies, time.Minute)
	m := NewRetryQueueManager(nil, orchestrator, DefaultRetryPolicy())
	var slept time.Duration
	m.sleep = func(_ context.Context, d time.Duration) { slept = d }

	first := retryable(domain.CodeHTTP5xx)
	first.StrategyIndex = 1
	res, err := m.Enqueue(context.Background(), EnqueueInput{
		Request:  testRequest(),
		Identity: testIdentity(),
		History:  []domain.AttemptResult{permanent(domain.CodeInvalidHash), first},
	})

	require.NoError(t, err)
	require.NotNil(t, res.Recovered)
	assert.Equal(t, strategies[1].Name, res.Recovered.Strategy)
	assert.Nil(t, res.Handle)
	assert.Equal(t, 500*time.Millisecond, slept)
	assert.Equal(t, []string{strategies[1].Name}, attempter.Calls())
}
