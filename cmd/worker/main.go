package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/damoang/refund-reconciler/internal/bootstrap"
	"github.com/damoang/refund-reconciler/internal/migration"
	"github.com/damoang/refund-reconciler/internal/refund"
	"github.com/damoang/refund-reconciler/internal/refund/service"
	"github.com/damoang/refund-reconciler/internal/worker"
	pkglogger "github.com/damoang/refund-reconciler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	configPath := flag.String("config", "", "config file path (default: configs/config.$APP_ENV.yaml)")
	once := flag.Bool("once", false, "process a single batch and exit")
	metricsPort := flag.Int("metrics-port", 9091, "port for /metrics (0 disables)")
	flag.Parse()

	cfg, err := bootstrap.Init(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zlog := pkglogger.GetLogger()

	db, err := bootstrap.OpenDatabase(cfg)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to database")
	}
	if err := migration.Run(db); err != nil {
		zlog.Fatal().Err(err).Msg("migration failed")
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
	w := worker.NewRetryWorker(module.Queue, module.Service, worker.Config{
		Interval:   cfg.Worker.Interval,
		BatchSize:  cfg.Worker.BatchSize,
		StaleAfter: cfg.Worker.StaleAfter,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *once {
		n, err := w.RunOnce(ctx)
		module.Notifier.Wait()
		if err != nil {
			zlog.Fatal().Err(err).Msg("retry batch failed")
		}
		zlog.Info().Int("processed", n).Msg("retry batch finished")
		return
	}

	var metricsSrv *http.Server
	if *metricsPort > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{
			Addr:              fmt.Sprintf(":%d", *metricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				zlog.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	// 종료 신호를 받아도 진행 중인 항목은 끝까지 처리
	w.Start(context.WithoutCancel(ctx))
	<-ctx.Done()
	w.Stop()
	module.Notifier.Wait()

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
}
