package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld 다른 소유자가 잠금을 보유 중
var ErrLockHeld = errors.New("lock is held by another owner")

// 소유자 토큰이 일치할 때만 삭제
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker SET NX PX 기반 advisory 잠금
type Locker struct {
	client *redis.Client
	prefix string
}

// NewLocker 생성자
func NewLocker(client *redis.Client, prefix string) *Locker {
	return &Locker{client: client, prefix: prefix}
}

// Acquire 잠금 1회 시도. 실패 시 ErrLockHeld
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	fullKey := l.prefix + key

	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLockHeld
	}

	release := func() {
		// 호출자 컨텍스트가 취소돼도 해제는 시도
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
	}
	return release, nil
}

// AcquireWait 잠금을 얻을 때까지 interval 간격으로 재시도 (최대 wait)
func (l *Locker) AcquireWait(ctx context.Context, key string, ttl, wait, interval time.Duration) (func(), error) {
	deadline := time.Now().Add(wait)
	for {
		release, err := l.Acquire(ctx, key, ttl)
		if !errors.Is(err, ErrLockHeld) {
			return release, err
		}
		if time.Now().Add(interval).After(deadline) {
			return nil, ErrLockHeld
		}

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}
