package refund

import (
	"net/http"

	"github.com/damoang/refund-reconciler/internal/config"
	"github.com/damoang/refund-reconciler/internal/refund/gateway"
	"github.com/damoang/refund-reconciler/internal/refund/handler"
	"github.com/damoang/refund-reconciler/internal/refund/repository"
	"github.com/damoang/refund-reconciler/internal/refund/service"
	pkgredis "github.com/damoang/refund-reconciler/pkg/redis"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Module 환불 정산 모듈 (API 서버와 워커가 같은 조립 결과를 사용)
type Module struct {
	Service  service.RefundService
	Handler  *handler.RefundHandler
	Queue    repository.QueueRepository
	Notifier *service.NotificationDispatcher
}

// Options 선택적 의존성. nil이면 해당 기능 없이 동작
type Options struct {
	Redis      *redis.Client     // 정산 advisory 잠금
	Publisher  service.Publisher // 고객 알림 발행
	HTTPClient *http.Client      // 게이트웨이 호출
}

// New 저장소 → 어댑터 → 오케스트레이터 → 커미터/큐 → 서비스 순서로 조립
func New(db *gorm.DB, cfg *config.Config, opts Options) *Module {
	repos := service.Repositories{
		Requests:     repository.NewRequestRepository(db),
		Transactions: repository.NewTransactionRepository(db),
		Settlements:  repository.NewSettlementRepository(db),
		Queue:        repository.NewQueueRepository(db),
		Audit:        repository.NewAuditRepository(db),
	}

	adapter := gateway.NewAdapter(&gateway.Config{
		MerchantKey:    cfg.Gateway.MerchantKey,
		Salt:           cfg.Gateway.Salt,
		PostServiceURL: cfg.Gateway.PostServiceURL,
		RefundV2URL:    cfg.Gateway.RefundV2URL,
		AttemptTimeout: cfg.Gateway.AttemptTimeout,
		UserAgent:      cfg.Gateway.UserAgent,
	}, opts.HTTPClient)
	orchestrator := service.NewAttemptOrchestrator(adapter, gateway.DefaultStrategies(), cfg.Refund.OrchestratorBudget)

	var locker service.Locker
	if opts.Redis != nil {
		locker = pkgredis.NewLocker(opts.Redis, cfg.Refund.LockPrefix)
	}
	committer := service.NewSettlementCommitter(repos.Settlements, repos.Requests, repos.Audit, locker)

	retries := service.NewRetryQueueManager(repos.Queue, orchestrator, service.RetryPolicy{
		ImmediateDelay: cfg.Refund.ImmediateRetryDelay,
		BackoffBase:    cfg.Refund.BackoffBase,
		BackoffMax:     cfg.Refund.BackoffMax,
	})
	notifier := service.NewNotificationDispatcher(opts.Publisher, cfg.RabbitMQ.NotificationQueue, cfg.RabbitMQ.PublishTimeout)

	svc := service.NewRefundService(repos, service.NewTransactionResolver(repos.Transactions), orchestrator, committer, retries, notifier)

	return &Module{
		Service:  svc,
		Handler:  handler.NewRefundHandler(svc),
		Queue:    repos.Queue,
		Notifier: notifier,
	}
}
