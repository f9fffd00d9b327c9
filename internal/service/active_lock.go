package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-proctor/internal/config"
)

// ErrAnotherExamActive is returned when a user opens a second exam while one
// is still running.
var ErrAnotherExamActive = errors.New("another exam is active for this user")

// ActiveLock guards the one-active-attempt-per-user rule across instances.
type ActiveLock interface {
	// Acquire claims the user's slot for (examID, attemptID). A slot already
	// held for the same exam is taken over; one held for another exam yields
	// ErrAnotherExamActive.
	Acquire(ctx context.Context, userID int, examID uuid.UUID, attemptID string, ttl time.Duration) error
	// Refresh extends the slot while it still belongs to attemptID.
	Refresh(ctx context.Context, userID int, examID uuid.UUID, attemptID string, ttl time.Duration) (bool, error)
	// Release frees the slot if it still belongs to attemptID.
	Release(ctx context.Context, userID int, examID uuid.UUID, attemptID string) error
}

var (
	acquireScript = redis.NewScript(`
local cur = redis.call("GET", KEYS[1])
if (not cur) or string.sub(cur, 1, string.len(ARGV[2])) == ARGV[2] then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
	return 1
end
return 0`)

	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisActiveLock stores the slot at student:<id>:active_exam as
// "<exam_id>:<attempt_id>".
type RedisActiveLock struct {
	rdb *redis.Client
}

// NewRedisActiveLock creates a new RedisActiveLock.
func NewRedisActiveLock(rdb *redis.Client) *RedisActiveLock {
	return &RedisActiveLock{rdb: rdb}
}

func lockValue(examID uuid.UUID, attemptID string) string {
	return examID.String() + ":" + attemptID
}

func (l *RedisActiveLock) Acquire(ctx context.Context, userID int, examID uuid.UUID, attemptID string, ttl time.Duration) error {
	key := config.CacheKey.StudentActiveExamKey(userID)
	ok, err := acquireScript.Run(ctx, l.rdb, []string{key},
		lockValue(examID, attemptID), examID.String()+":", ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("acquire active exam: %w", err)
	}
	if ok == 0 {
		return ErrAnotherExamActive
	}
	return nil
}

func (l *RedisActiveLock) Refresh(ctx context.Context, userID int, examID uuid.UUID, attemptID string, ttl time.Duration) (bool, error) {
	key := config.CacheKey.StudentActiveExamKey(userID)
	n, err := refreshScript.Run(ctx, l.rdb, []string{key}, lockValue(examID, attemptID), ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("refresh active exam: %w", err)
	}
	return n == 1, nil
}

func (l *RedisActiveLock) Release(ctx context.Context, userID int, examID uuid.UUID, attemptID string) error {
	key := config.CacheKey.StudentActiveExamKey(userID)
	if err := releaseScript.Run(ctx, l.rdb, []string{key}, lockValue(examID, attemptID)).Err(); err != nil {
		return fmt.Errorf("release active exam: %w", err)
	}
	return nil
}
