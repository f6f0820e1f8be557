package worker

import (
	"context"
	"sync"
	"time"

	"github.com/damoang/refund-reconciler/internal/refund/domain"
	"github.com/damoang/refund-reconciler/internal/refund/service"
	"github.com/damoang/refund-reconciler/pkg/logger"
)

// QueueSource 워커가 선점하는 재시도 큐 (repository.QueueRepository)
type QueueSource interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*domain.RetryQueueEntry, error)
	ReleaseStale(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.QueueStatus]int64, error)
}

// Processor 선점된 항목 1건 재실행과 중단된 요청 정리 (service.RefundService)
type Processor interface {
	ProcessClaimed(ctx context.Context, entry *domain.RetryQueueEntry) (*service.ReplayResult, error)
	RecoverStalled(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

// Config 워커 설정
type Config struct {
	Interval   time.Duration
	BatchSize  int
	StaleAfter time.Duration
}

// RetryWorker 주기적으로 실행 시각이 된 큐 항목을 선점해 재실행
type RetryWorker struct {
	queue     QueueSource
	processor Processor
	cfg       Config
	now       func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRetryWorker 생성자
func NewRetryWorker(queue QueueSource, processor Processor, cfg Config) *RetryWorker {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 10 * time.Minute
	}
	return &RetryWorker{
		queue:     queue,
		processor: processor,
		cfg:       cfg,
		now:       time.Now,
		stop:      make(chan struct{}),
	}
}

// Start 백그라운드 goroutine 시작. 시작 직후 한 번 실행
func (w *RetryWorker) Start(ctx context.Context) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(w.cfg.Interval)
		defer ticker.Stop()

		w.tick(ctx)
		for {
			select {
			case <-w.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				w.tick(ctx)
			}
		}
	}()
	logger.GetLogger().Info().
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("refund retry worker started")
}

// Stop 진행 중인 배치가 끝날 때까지 대기
func (w *RetryWorker) Stop() {
	close(w.stop)
	w.wg.Wait()
	logger.GetLogger().Info().Msg("refund retry worker stopped")
}

func (w *RetryWorker) tick(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil {
		logger.GetLogger().Error().Err(err).Msg("refund retry batch failed")
	}
	w.observeDepth(ctx)
}

// RunOnce 중단된 항목 복구 후 한 배치 처리. 처리한 건수 반환
func (w *RetryWorker) RunOnce(ctx context.Context) (int, error) {
	log := logger.GetLogger()
	now := w.now()

	cutoff := now.Add(-w.cfg.StaleAfter)

	released, err := w.queue.ReleaseStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if released > 0 {
		log.Warn().Int64("count", released).Msg("released stale processing queue entries")
	}

	recovered, err := w.processor.RecoverStalled(ctx, cutoff, w.cfg.BatchSize)
	if err != nil {
		log.Error().Err(err).Msg("stalled refund request recovery failed")
	} else if recovered > 0 {
		stalledRecoveredTotal.Add(float64(recovered))
		log.Warn().Int("count", recovered).Msg("recovered stalled refund requests")
	}

	entries, err := w.queue.ClaimDue(ctx, now, w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, entry := range entries {
		start := time.Now()
		result, err := w.processor.ProcessClaimed(ctx, entry)
		batchDuration.Observe(time.Since(start).Seconds())

		status := "error"
		if result != nil {
			status = string(result.Status)
		}
		replaysTotal.WithLabelValues(status).Inc()

		event := log.Info()
		if err != nil {
			event = log.Error().Err(err)
		}
		event.Uint64("queue_id", entry.ID).
			Str("refund_request_id", entry.RefundRequestID).
			Int("attempt_count", entry.AttemptCount).
			Str("status", status).
			Msg("queue entry replayed")
	}
	return len(entries), nil
}

func (w *RetryWorker) observeDepth(ctx context.Context) {
	counts, err := w.queue.CountByStatus(ctx)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Msg("queue depth query failed")
		return
	}
	for _, status := range []domain.QueueStatus{
		domain.QueueStatusPending,
		domain.QueueStatusProcessing,
		domain.QueueStatusSettled,
		domain.QueueStatusFailedPermanently,
	} {
		queueDepth.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
