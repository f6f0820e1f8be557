package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/damoang/refund-reconciler/internal/bootstrap"
	"github.com/damoang/refund-reconciler/internal/middleware"
	"github.com/damoang/refund-reconciler/internal/migration"
	"github.com/damoang/refund-reconciler/internal/refund"
	"github.com/damoang/refund-reconciler/internal/refund/service"
	"github.com/damoang/refund-reconciler/internal/routes"
	"github.com/damoang/refund-reconciler/pkg/jwt"
	pkglogger "github.com/damoang/refund-reconciler/pkg/logger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// @title           Refund Reconciler API
// @version         1.0
// @description     결제 게이트웨이 환불 재시도/정산 관리자 API
// @BasePath        /api/v1
//
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Authorization header using the Bearer scheme. Example: "Bearer {token}"

func main() {
	cfg, err := bootstrap.Init("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zlog := pkglogger.GetLogger()

	// MySQL 연결
	db, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := migration.Run(db); err != nil {
		zlog.Fatal().Err(err).Msg("migration failed")
	}
	if cfg.IsDevelopment() {
		if err := migration.SeedDemo(db); err != nil {
			zlog.Warn().Err(err).Msg("demo seed failed")
		}
	}

	redisClient := bootstrap.OpenRedis(cfg)
	if redisClient != nil {
		defer redisClient.Close()
	}

	var publisher service.Publisher
	if client := bootstrap.OpenPublisher(cfg); client != nil {
		defer client.Close()
		publisher = client
	}

	module := refund.New(db, cfg, refund.Options{Redis: redisClient, Publisher: publisher})
	jwtManager := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.ExpiresIn)

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	// CORS 설정
	allowOrigins := cfg.CORS.AllowOrigins
	if allowOrigins == "" {
		allowOrigins = "http://localhost:3000"
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     splitAndTrim(allowOrigins, ","),
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Idempotency-Key", "X-Request-ID"},
		AllowCredentials: true,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		ExposeHeaders:    []string{"X-Request-ID"},
		MaxAge:           12 * time.Hour,
	}))

	router.Use(middleware.Metrics())
	router.Use(middleware.RequestLogger())

	routes.Setup(router, module.Handler, jwtManager)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", srv.Addr).Msg("refund reconciler API listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		zlog.Error().Err(err).Msg("server error")
	}

	// 진행 중인 환불은 게이트웨이 호출과 정산이 끝날 때까지 기다림
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Refund.OrchestratorBudget+10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("server shutdown failed")
	}
	module.Notifier.Wait()
	zlog.Info().Msg("refund reconciler API stopped")
}

// splitAndTrim 쉼표 구분 문자열 분리
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
