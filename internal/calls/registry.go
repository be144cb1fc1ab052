package calls

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"lead-crm/pkg/utils"
)

// Locker guards the one-active-call-per-lead rule across API replicas.
type Locker interface {
	Acquire(ctx context.Context, leadID string) (bool, error)
	Release(ctx context.Context, leadID string) error
}

// RedisLocker is a Locker over the redis concurrency cap scripts with a limit
// of one. The TTL bounds a lock leaked by a crashed replica.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl}
}

func lockKey(leadID string) string { return "leadcrm:call:" + leadID }

func (l *RedisLocker) Acquire(ctx context.Context, leadID string) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, l.rdb, lockKey(leadID), 1, l.ttl)
}

func (l *RedisLocker) Release(ctx context.Context, leadID string) error {
	return utils.ReleaseConcurrencyCap(ctx, l.rdb, lockKey(leadID))
}

// MemoryLocker is a process-local Locker for tests and single-node runs.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewMemoryLocker() *MemoryLocker { return &MemoryLocker{held: map[string]bool{}} }

func (l *MemoryLocker) Acquire(ctx context.Context, leadID string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[leadID] {
		return false, nil
	}
	l.held[leadID] = true
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, leadID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, leadID)
	return nil
}

// Registry owns the active controllers of this process, at most one per
// lead. Finished controllers stay visible until the next call for the same
// lead so the live monitor can show how the last attempt ended.
type Registry struct {
	cfg    Config
	deps   Deps
	locker Locker
	log    *slog.Logger

	// OnComplete, when set, observes every outcome after the lock is released.
	OnComplete func(Outcome)

	mu     sync.Mutex
	active map[string]*Controller
}

func NewRegistry(cfg Config, deps Deps, locker Locker) *Registry {
	if locker == nil {
		locker = NewMemoryLocker()
	}
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Registry{cfg: cfg, deps: deps, locker: locker, log: log, active: map[string]*Controller{}}
}

// StartCall creates a controller for leadID and runs Start. It fails with
// ErrCallActive while another lifecycle for the lead is live.
func (r *Registry) StartCall(ctx context.Context, leadID string) (*Controller, error) {
	r.mu.Lock()
	if c, ok := r.active[leadID]; ok && !c.Snapshot().State.Terminal() {
		r.mu.Unlock()
		return nil, ErrCallActive
	}
	r.mu.Unlock()

	ok, err := r.locker.Acquire(ctx, leadID)
	if err != nil {
		return nil, fmt.Errorf("calls: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrCallActive
	}

	c := NewController(r.cfg, leadID, r.deps, func(out Outcome) {
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.locker.Release(relCtx, leadID); err != nil {
			r.log.Warn("call lock release failed", "lead_id", leadID, "err", err)
		}
		if r.OnComplete != nil {
			r.OnComplete(out)
		}
	})

	r.mu.Lock()
	r.active[leadID] = c
	r.mu.Unlock()

	if err := c.Start(ctx); err != nil {
		return c, err
	}
	return c, nil
}

// Get returns the latest controller for leadID.
func (r *Registry) Get(leadID string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.active[leadID]
	return c, ok
}

// Hangup ends the live call for leadID.
func (r *Registry) Hangup(ctx context.Context, leadID string) error {
	c, ok := r.Get(leadID)
	if !ok || c.Snapshot().State.Terminal() {
		return ErrNoActiveCall
	}
	return c.Hangup(ctx)
}

// Shutdown hangs up every live call.
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	live := make([]*Controller, 0, len(r.active))
	for _, c := range r.active {
		live = append(live, c)
	}
	r.mu.Unlock()
	for _, c := range live {
		_ = c.Hangup(ctx)
	}
}
