package synclock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/aihub/kbsync/internal/errors"
)

const lockKeyPrefix = "kbsync:lock:"

// 只在持有者的token匹配时删除锁，防止误删别的实例续上的锁
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Locker 按(租户范围, 源ID)串行化同步周期
// 进程内互斥永远生效；配置了Redis时再叠加跨实例的租约锁
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}

	rdb *redis.Client
	ttl time.Duration
}

// NewLocker 创建锁管理器，rdb为nil时只做进程内互斥
func NewLocker(rdb *redis.Client, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Locker{
		held: make(map[string]struct{}),
		rdb:  rdb,
		ttl:  ttl,
	}
}

// Acquire 获取key上的锁，成功时返回释放函数
// 锁被占用时返回AlreadyInProgress
func (l *Locker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	if _, taken := l.held[key]; taken {
		l.mu.Unlock()
		return nil, apperrors.NewAlreadyInProgressError(key)
	}
	l.held[key] = struct{}{}
	l.mu.Unlock()

	releaseLocal := func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}

	if l.rdb == nil {
		return releaseLocal, nil
	}

	token := uuid.NewString()
	redisKey := lockKeyPrefix + key
	acquired, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		releaseLocal()
		return nil, apperrors.NewStoreUnavailableError("lock", err)
	}
	if !acquired {
		releaseLocal()
		return nil, apperrors.NewAlreadyInProgressError(key)
	}

	return func() {
		// 释放远端锁失败只能等租约到期，不能阻塞本地释放
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.rdb, []string{redisKey}, token)
		releaseLocal()
	}, nil
}
