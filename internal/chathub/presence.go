package chathub

import (
	"clinicmsg/backend/internal/models"
	"clinicmsg/backend/pkg/logger"
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Presence tracks whether a user has at least one open connection.
type Presence interface {
	// Connect records a new connection and returns the user's state after it.
	Connect(ctx context.Context, userID string) (bool, error)
	// Disconnect drops one connection and returns the user's state after it.
	Disconnect(ctx context.Context, userID string) (bool, error)
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// ConnectionCounter counts open connections per user.
type ConnectionCounter interface {
	Incr(ctx context.Context, userID string) (int64, error)
	Decr(ctx context.Context, userID string) (int64, error)
	Count(ctx context.Context, userID string) (int64, error)
}

// StatusWriter persists the online/offline flag on the user record.
type StatusWriter interface {
	SetUserStatus(ctx context.Context, id, status string) error
}

// Tracker implements Presence over a counter. The first connection marks the
// user online in the directory, the last disconnect marks them offline.
type Tracker struct {
	Counter ConnectionCounter
	Users   StatusWriter
}

func NewTracker(counter ConnectionCounter, users StatusWriter) *Tracker {
	return &Tracker{Counter: counter, Users: users}
}

func (t *Tracker) Connect(ctx context.Context, userID string) (bool, error) {
	n, err := t.Counter.Incr(ctx, userID)
	if err != nil {
		return false, err
	}
	if n == 1 {
		t.writeStatus(ctx, userID, models.StatusOnline)
	}
	return true, nil
}

func (t *Tracker) Disconnect(ctx context.Context, userID string) (bool, error) {
	n, err := t.Counter.Decr(ctx, userID)
	if err != nil {
		return false, err
	}
	if n > 0 {
		return true, nil
	}
	t.writeStatus(ctx, userID, models.StatusOffline)
	return false, nil
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.Counter.Count(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *Tracker) writeStatus(ctx context.Context, userID, status string) {
	if t.Users == nil {
		return
	}
	if err := t.Users.SetUserStatus(ctx, userID, status); err != nil {
		logger.Warn().Err(err).Str("user_id", userID).Str("status", status).Msg("failed to persist presence")
	}
}

// MemoryCounter is a single-process ConnectionCounter.
type MemoryCounter struct {
	mu     sync.Mutex
	counts map[string]int64
}

func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{counts: make(map[string]int64)}
}

func (m *MemoryCounter) Incr(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[userID]++
	return m.counts[userID], nil
}

func (m *MemoryCounter) Decr(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.counts[userID] - 1
	if n <= 0 {
		delete(m.counts, userID)
		return 0, nil
	}
	m.counts[userID] = n
	return n, nil
}

func (m *MemoryCounter) Count(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[userID], nil
}

// RedisCounter keeps counters in Redis so every instance sees the same presence.
type RedisCounter struct {
	rdb *redis.Client
}

func NewRedisCounter(rdb *redis.Client) *RedisCounter {
	return &RedisCounter{rdb: rdb}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

func (r *RedisCounter) Incr(ctx context.Context, userID string) (int64, error) {
	n, err := r.rdb.Incr(ctx, presenceKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence incr: %w", err)
	}
	return n, nil
}

func (r *RedisCounter) Decr(ctx context.Context, userID string) (int64, error) {
	n, err := r.rdb.Decr(ctx, presenceKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("presence decr: %w", err)
	}
	if n <= 0 {
		// a crashed instance can leave the counter short; never go negative
		r.rdb.Del(ctx, presenceKey(userID))
		return 0, nil
	}
	return n, nil
}

func (r *RedisCounter) Count(ctx context.Context, userID string) (int64, error) {
	n, err := r.rdb.Get(ctx, presenceKey(userID)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("presence get: %w", err)
	}
	return n, nil
}
