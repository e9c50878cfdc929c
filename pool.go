package fanout

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// PoolSet maps a nesting depth to a bounded goroutine pool. Pools are created
// lazily on first submission at a depth and live until Shutdown; depth N+1 workers
// creating the same pool concurrently still end up sharing one instance.
type PoolSet struct {
	cfg      Config
	log      *zap.Logger
	antsOpts []ants.Option

	mu    sync.RWMutex
	pools map[int]*depthPool

	closed    atomic.Bool
	creations atomic.Int64
}

type depthPool struct {
	depth    int
	size     int
	queueCap int
	created  time.Time
	pool     *ants.Pool
}

// Option tunes a PoolSet or Coordinator at construction time.
type Option func(*options)

type options struct {
	log      *zap.Logger
	antsOpts []ants.Option
}

func buildOptions(opts []Option) options {
	o := options{log: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger attaches a logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		if log != nil {
			o.log = log
		}
	}
}

// WithAntsOptions passes extra options through to every pool created by the set,
// e.g. a panic handler or worker expiry.
func WithAntsOptions(antsOpts ...ants.Option) Option {
	return func(o *options) {
		o.antsOpts = append(o.antsOpts, antsOpts...)
	}
}

// NewPoolSet builds an empty set sized by cfg. No pool exists until the first
// submission at its depth.
func NewPoolSet(cfg Config, opts ...Option) (*PoolSet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := buildOptions(opts)
	return &PoolSet{
		cfg:      cfg,
		log:      o.log,
		antsOpts: o.antsOpts,
		pools:    make(map[int]*depthPool),
	}, nil
}

// Submit enqueues task on the pool for depth, creating the pool if needed. Within
// the queue capacity a full pool exerts backpressure on the submitter; past it the
// submission fails fast with ErrPoolSaturated rather than adding one more blocked
// goroutine to the chain.
func (ps *PoolSet) Submit(depth int, task func()) error {
	if depth < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidDepth, depth)
	}
	if ps.closed.Load() {
		return ErrShutdown
	}
	dp, err := ps.getOrCreate(depth)
	if err != nil {
		return err
	}
	switch err := dp.pool.Submit(task); {
	case err == nil:
		return nil
	case errors.Is(err, ants.ErrPoolOverload):
		return fmt.Errorf("depth %d: %w", depth, ErrPoolSaturated)
	case errors.Is(err, ants.ErrPoolClosed):
		return fmt.Errorf("depth %d: %w", depth, ErrShutdown)
	default:
		return fmt.Errorf("depth %d: submit: %w", depth, err)
	}
}

// getOrCreate resolves the pool for a depth, creating it on first use. Double
// checked so concurrent first submissions at one depth yield a single pool.
func (ps *PoolSet) getOrCreate(depth int) (*depthPool, error) {
	ps.mu.RLock()
	dp, ok := ps.pools[depth]
	ps.mu.RUnlock()
	if ok {
		return dp, nil
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if dp, ok := ps.pools[depth]; ok {
		return dp, nil
	}
	if ps.closed.Load() {
		return nil, ErrShutdown
	}

	size := ps.cfg.sizeFor(depth)
	queueCap := ps.cfg.QueueCapacity
	antsOpts := append([]ants.Option{ants.WithMaxBlockingTasks(queueCap)}, ps.antsOpts...)
	if queueCap == 0 {
		antsOpts[0] = ants.WithNonblocking(true)
	}
	pool, err := ants.NewPool(size, antsOpts...)
	if err != nil {
		return nil, fmt.Errorf("depth %d: create pool: %w", depth, err)
	}

	dp = &depthPool{
		depth:    depth,
		size:     size,
		queueCap: queueCap,
		created:  time.Now(),
		pool:     pool,
	}
	ps.pools[depth] = dp
	ps.creations.Add(1)
	ps.log.Info("created depth pool",
		zap.Int("depth", depth),
		zap.Int("size", size),
		zap.Int("queue_capacity", queueCap))
	return dp, nil
}

// PoolStats is a point-in-time view of one depth's pool. Snapshots may be stale by
// the time the caller reads them; they are for operational visibility only.
type PoolStats struct {
	Depth   int       `json:"depth"`
	Size    int       `json:"size"`
	Active  int       `json:"active"`
	Queued  int       `json:"queued"`
	Created time.Time `json:"created"`
}

// Stats snapshots every live pool, ordered by depth.
func (ps *PoolSet) Stats() []PoolStats {
	ps.mu.RLock()
	pools := lo.Values(ps.pools)
	ps.mu.RUnlock()

	stats := lo.Map(pools, func(dp *depthPool, _ int) PoolStats {
		return PoolStats{
			Depth:   dp.depth,
			Size:    dp.size,
			Active:  dp.pool.Running(),
			Queued:  dp.pool.Waiting(),
			Created: dp.created,
		}
	})
	sort.Slice(stats, func(i, j int) bool { return stats[i].Depth < stats[j].Depth })
	return stats
}

// Shutdown drains and releases every pool. Further submissions fail with
// ErrShutdown. Safe to call more than once.
func (ps *PoolSet) Shutdown() {
	if !ps.closed.CompareAndSwap(false, true) {
		return
	}

	ps.mu.RLock()
	pools := lo.Values(ps.pools)
	ps.mu.RUnlock()

	timeout := ps.cfg.DrainTimeout
	if timeout <= 0 {
		timeout = DefaultDrainTimeout
	}
	for _, dp := range pools {
		if err := dp.pool.ReleaseTimeout(timeout); err != nil {
			ps.log.Warn("pool did not drain cleanly",
				zap.Int("depth", dp.depth),
				zap.Error(err))
		}
	}
	ps.log.Info("pool set shut down", zap.Int("pools", len(pools)))
}
