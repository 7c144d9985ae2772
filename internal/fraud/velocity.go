package fraud

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// VelocityCounter tracks how many spends an account made recently
type VelocityCounter interface {
	Count(ctx context.Context, accountID string, at time.Time) (int, error)
	Record(ctx context.Context, accountID string, at time.Time) error
}

// SlidingWindow counts timestamps within a trailing window. It is not safe
// for concurrent use.
type SlidingWindow struct {
	window time.Duration
	times  []time.Time
}

func NewSlidingWindow(window time.Duration) *SlidingWindow {
	return &SlidingWindow{window: window}
}

func (w *SlidingWindow) Add(at time.Time) {
	i := sort.Search(len(w.times), func(i int) bool { return w.times[i].After(at) })
	w.times = append(w.times, time.Time{})
	copy(w.times[i+1:], w.times[i:])
	w.times[i] = at
}

// CountBefore returns how many timestamps fall in (at-window, at]
func (w *SlidingWindow) CountBefore(at time.Time) int {
	from := at.Add(-w.window)
	n := 0
	for _, t := range w.times {
		if t.After(from) && !t.After(at) {
			n++
		}
	}
	return n
}

func (w *SlidingWindow) prune(now time.Time) {
	from := now.Add(-w.window)
	i := sort.Search(len(w.times), func(i int) bool { return w.times[i].After(from) })
	w.times = w.times[i:]
}

// MemoryVelocity keeps a sliding window per account in process
type MemoryVelocity struct {
	window   time.Duration
	accounts sync.Map // account id -> *lockedWindow
}

type lockedWindow struct {
	mu sync.Mutex
	w  *SlidingWindow
}

var _ VelocityCounter = (*MemoryVelocity)(nil)

func NewMemoryVelocity(window time.Duration) *MemoryVelocity {
	return &MemoryVelocity{window: window}
}

func (m *MemoryVelocity) get(accountID string) *lockedWindow {
	v, _ := m.accounts.LoadOrStore(accountID, &lockedWindow{w: NewSlidingWindow(m.window)})
	return v.(*lockedWindow)
}

func (m *MemoryVelocity) Count(ctx context.Context, accountID string, at time.Time) (int, error) {
	lw := m.get(accountID)
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.w.prune(at)
	return lw.w.CountBefore(at), nil
}

func (m *MemoryVelocity) Record(ctx context.Context, accountID string, at time.Time) error {
	lw := m.get(accountID)
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.w.Add(at)
	return nil
}

// RedisVelocity counts in fixed windows shared by every node
type RedisVelocity struct {
	redis  *redis.Client
	window time.Duration
}

var _ VelocityCounter = (*RedisVelocity)(nil)

func NewRedisVelocity(client *redis.Client, window time.Duration) *RedisVelocity {
	return &RedisVelocity{redis: client, window: window}
}

func (r *RedisVelocity) key(accountID string, at time.Time) string {
	return fmt.Sprintf("fraud:velocity:%s:%d", accountID, at.Truncate(r.window).Unix())
}

func (r *RedisVelocity) Count(ctx context.Context, accountID string, at time.Time) (int, error) {
	count, err := r.redis.Get(ctx, r.key(accountID, at)).Int()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	return count, nil
}

func (r *RedisVelocity) Record(ctx context.Context, accountID string, at time.Time) error {
	key := r.key(accountID, at)
	pipe := r.redis.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, r.window)
	_, err := pipe.Exec(ctx)
	return err
}
