package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/damoang/refund-reconciler/internal/config"
	"github.com/damoang/refund-reconciler/pkg/logger"
	"github.com/damoang/refund-reconciler/pkg/rabbitmq"
	pkgredis "github.com/damoang/refund-reconciler/pkg/redis"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Environment APP_ENV (기본 local)
func Environment() string {
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "local"
	}
	return env
}

// ConfigPath APP_ENV에 해당하는 설정 파일 경로
func ConfigPath() string {
	return fmt.Sprintf("configs/config.%s.yaml", Environment())
}

// Init .env 로드, 로거 초기화, 설정 로드. path가 비어 있으면 APP_ENV 기준 경로 사용
func Init(path string) (*config.Config, error) {
	dotenvFiles := config.LoadDotEnv(Environment())
	// APP_ENV가 .env에만 있을 수 있으므로 로드 후 다시 읽음
	env := Environment()
	logger.InitStructured(env)
	if path == "" {
		path = ConfigPath()
	}
	logger.GetLogger().Info().
		Str("app_env", env).
		Strs("env_files", dotenvFiles).
		Str("config", path).
		Msg("loading config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	config.LogResolved(cfg)
	return cfg, nil
}

// OpenDatabase MySQL 연결과 커넥션 풀 설정
func OpenDatabase(cfg *config.Config) (*gorm.DB, error) {
	mysqlCfg, err := mysqldriver.ParseDSN(cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if mysqlCfg.Params == nil {
		mysqlCfg.Params = map[string]string{}
	}
	// 세션 시간대 UTC 고정
	mysqlCfg.Params["time_zone"] = "'+00:00'"

	level := gormlogger.Warn
	if cfg.IsDevelopment() {
		level = gormlogger.Info
	}
	db, err := gorm.Open(mysql.Open(mysqlCfg.FormatDSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)
	return db, nil
}

// OpenRedis 설정돼 있으면 연결. 실패하면 nil (정산은 DB 유니크 제약만으로 보호)
func OpenRedis(cfg *config.Config) *redis.Client {
	if cfg.Redis.Host == "" {
		return nil
	}
	client, err := pkgredis.NewClient(context.Background(), pkgredis.Options{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		logger.GetLogger().Warn().Err(err).Msg("redis unavailable, continuing without settlement lock")
		return nil
	}
	logger.GetLogger().Info().Str("host", cfg.Redis.Host).Msg("connected to redis")
	return client
}

// OpenPublisher 설정돼 있으면 RabbitMQ 연결 후 알림 큐 선언. 실패하면 nil (알림은 로그만)
func OpenPublisher(cfg *config.Config) *rabbitmq.Client {
	if cfg.RabbitMQ.URL == "" {
		return nil
	}
	client, err := rabbitmq.NewClient(cfg.RabbitMQ.URL)
	if err != nil {
		logger.GetLogger().Warn().Err(err).Msg("rabbitmq unavailable, notifications will be logged only")
		return nil
	}
	if err := client.DeclareQueue(cfg.RabbitMQ.NotificationQueue); err != nil {
		logger.GetLogger().Warn().Err(err).Str("queue", cfg.RabbitMQ.NotificationQueue).Msg("notification queue declare failed")
		_ = client.Close()
		return nil
	}
	logger.GetLogger().Info().Str("queue", cfg.RabbitMQ.NotificationQueue).Msg("connected to rabbitmq")
	return client
}
