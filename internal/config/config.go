package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/damoang/refund-reconciler/pkg/logger"
	"gopkg.in/yaml.v3"
)

// Config 서비스 전체 설정
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	JWT      JWTConfig      `yaml:"jwt"`
	CORS     CORSConfig     `yaml:"cors"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Refund   RefundConfig   `yaml:"refund"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// ServerConfig HTTP 서버
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release, test
	Env  string `yaml:"env"`  // local, development, staging, production
}

// DatabaseConfig MySQL
type DatabaseConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	User            string `yaml:"user"`
	Password        string `yaml:"password"`
	DBName          string `yaml:"dbname"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // 초
}

// GetDSN MySQL DSN
func (d DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		d.User, d.Password, d.Host, d.Port, d.DBName)
}

// RedisConfig 정산 잠금용 Redis. Host가 비어 있으면 사용하지 않음
type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

// JWTConfig 관리자 토큰
type JWTConfig struct {
	Secret    string        `yaml:"secret"`
	Issuer    string        `yaml:"issuer"`
	ExpiresIn time.Duration `yaml:"expires_in"`
}

// CORSConfig 허용 출처 (쉼표 구분)
type CORSConfig struct {
	AllowOrigins string `yaml:"allow_origins"`
}

// GatewayConfig 결제 게이트웨이 환불 API
type GatewayConfig struct {
	MerchantKey    string        `yaml:"merchant_key"`
	Salt           string        `yaml:"salt"`
	PostServiceURL string        `yaml:"post_service_url"`
	RefundV2URL    string        `yaml:"refund_v2_url"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	UserAgent      string        `yaml:"user_agent"`
}

// RefundConfig 파이프라인 시간 한도와 재시도 정책
type RefundConfig struct {
	OrchestratorBudget  time.Duration `yaml:"orchestrator_budget"`
	ImmediateRetryDelay time.Duration `yaml:"immediate_retry_delay"`
	BackoffBase         time.Duration `yaml:"backoff_base"`
	BackoffMax          time.Duration `yaml:"backoff_max"`
	LockPrefix          string        `yaml:"lock_prefix"`
}

// RabbitMQConfig 고객 알림 발행. URL이 비어 있으면 로그만 남김
type RabbitMQConfig struct {
	URL               string        `yaml:"url"`
	NotificationQueue string        `yaml:"notification_queue"`
	PublishTimeout    time.Duration `yaml:"publish_timeout"`
}

// WorkerConfig 재시도 큐 워커
type WorkerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	BatchSize  int           `yaml:"batch_size"`
	StaleAfter time.Duration `yaml:"stale_after"` // processing 상태로 이 시간 이상 남으면 pending 복귀
}

// Load YAML 파일을 읽고 ${VAR} 형식의 환경 변수를 치환
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8090
	}
	if c.Server.Env == "" {
		c.Server.Env = "local"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 3306
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 20
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 300
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 10
	}
	if c.JWT.Issuer == "" {
		c.JWT.Issuer = "refund-reconciler"
	}
	if c.JWT.ExpiresIn == 0 {
		c.JWT.ExpiresIn = time.Hour
	}
	if c.Gateway.AttemptTimeout == 0 {
		c.Gateway.AttemptTimeout = 8 * time.Second
	}
	if c.Refund.OrchestratorBudget == 0 {
		c.Refund.OrchestratorBudget = 20 * time.Second
	}
	if c.Refund.ImmediateRetryDelay == 0 {
		c.Refund.ImmediateRetryDelay = 500 * time.Millisecond
	}
	if c.Refund.BackoffBase == 0 {
		c.Refund.BackoffBase = time.Minute
	}
	if c.Refund.BackoffMax == 0 {
		c.Refund.BackoffMax = 30 * time.Minute
	}
	if c.Refund.LockPrefix == "" {
		c.Refund.LockPrefix = "refund:settle:"
	}
	if c.RabbitMQ.NotificationQueue == "" {
		c.RabbitMQ.NotificationQueue = "refund.notifications"
	}
	if c.RabbitMQ.PublishTimeout == 0 {
		c.RabbitMQ.PublishTimeout = 5 * time.Second
	}
	if c.Worker.Interval == 0 {
		c.Worker.Interval = 30 * time.Second
	}
	if c.Worker.BatchSize == 0 {
		c.Worker.BatchSize = 20
	}
	if c.Worker.StaleAfter == 0 {
		c.Worker.StaleAfter = 10 * time.Minute
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret is required"))
	}
	if c.Gateway.PostServiceURL == "" || c.Gateway.RefundV2URL == "" {
		errs = append(errs, errors.New("gateway.post_service_url and gateway.refund_v2_url are required"))
	}
	if !c.IsDevelopment() && (c.Gateway.MerchantKey == "" || c.Gateway.Salt == "") {
		errs = append(errs, errors.New("gateway.merchant_key and gateway.salt are required outside development"))
	}
	return errors.Join(errs...)
}

// IsDevelopment 로컬/개발 환경 여부
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "local" || c.Server.Env == "development" || c.Server.Env == "dev"
}

// LogResolved 비밀값을 제외한 주요 설정 출력
func LogResolved(c *Config) {
	logger.GetLogger().Info().
		Str("env", c.Server.Env).
		Int("port", c.Server.Port).
		Str("db_host", c.Database.Host).
		Str("db_name", c.Database.DBName).
		Bool("redis", c.Redis.Host != "").
		Bool("rabbitmq", c.RabbitMQ.URL != "").
		Str("post_service_url", c.Gateway.PostServiceURL).
		Str("refund_v2_url", c.Gateway.RefundV2URL).
		Bool("merchant_key_set", c.Gateway.MerchantKey != "").
		Dur("attempt_timeout", c.Gateway.AttemptTimeout).
		Dur("orchestrator_budget", c.Refund.OrchestratorBudget).
		Msg("config resolved")
}
