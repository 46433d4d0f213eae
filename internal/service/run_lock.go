package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/journal-insights-api/pkg/errors"
)

const runLockKey = "journal-insights:analysis:lock"

// releaseScript deletes the lock only when it still holds our token.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) else return 0 end`

// RunLock guarantees at most one analysis run at a time.
type RunLock interface {
	Acquire(ctx context.Context, runID string) (release func(), err error)
}

// LocalRunLock is a process-local lock used when Redis is not configured.
type LocalRunLock struct {
	held atomic.Bool
}

// NewLocalRunLock constructs an unlocked LocalRunLock.
func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{}
}

// Acquire fails with ErrAnalysisInProgress while another run holds the lock.
func (l *LocalRunLock) Acquire(_ context.Context, _ string) (func(), error) {
	if !l.held.CompareAndSwap(false, true) {
		return nil, appErrors.ErrAnalysisInProgress
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			l.held.Store(false)
		}
	}, nil
}

// LockClient is the subset of the Redis client used by RedisRunLock.
type LockClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// RedisRunLock shares the run lock between API replicas and the CLI.
type RedisRunLock struct {
	client LockClient
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisRunLock constructs a lock whose TTL only guards against crashed
// holders.
func NewRedisRunLock(client LockClient, ttl time.Duration, logger *zap.Logger) *RedisRunLock {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisRunLock{client: client, key: runLockKey, ttl: ttl, logger: logger}
}

// Acquire takes the lock with runID as its token.
func (l *RedisRunLock) Acquire(ctx context.Context, runID string) (func(), error) {
	ok, err := l.client.SetNX(ctx, l.key, runID, l.ttl).Result()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to acquire analysis lock")
	}
	if !ok {
		return nil, appErrors.ErrAnalysisInProgress
	}

	return func() {
		// The caller's context may already be cancelled; release regardless.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.client.Eval(releaseCtx, releaseScript, []string{l.key}, runID).Err(); err != nil {
			l.logger.Warn("failed to release analysis lock", zap.String("run_id", runID), zap.Error(err))
		}
	}, nil
}
