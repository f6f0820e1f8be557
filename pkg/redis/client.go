package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options 연결 설정
type Options struct {
	Host        string
	Port        int
	Password    string
	DB          int
	PoolSize    int
	DialTimeout time.Duration // 0이면 2초
}

// NewClient 클라이언트 생성 후 PING으로 연결 확인. 실패하면 클라이언트를 닫고 에러 반환
func NewClient(ctx context.Context, opts Options) (*redis.Client, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		Password:    opts.Password,
		DB:          opts.DB,
		PoolSize:    opts.PoolSize,
		DialTimeout: opts.DialTimeout,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}
