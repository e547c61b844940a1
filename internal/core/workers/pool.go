package workers

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

var (
	ErrPoolOverload = errors.New("worker pool is at capacity")
	ErrPoolClosed   = errors.New("worker pool is closed")
)

type Config struct {
	// Capacity is the maximum number of tasks running at once.
	Capacity       int
	ExpiryDuration time.Duration
	// Nonblocking makes Submit fail with ErrPoolOverload instead of waiting.
	Nonblocking bool
}

func DefaultConfig() Config {
	return Config{
		Capacity:       16,
		ExpiryDuration: time.Minute,
		Nonblocking:    true,
	}
}

// Pool runs long background jobs (batch parses) on a bounded set of goroutines.
type Pool struct {
	name   string
	pool   *ants.Pool
	log    *zap.Logger
	closed atomic.Bool
	panics atomic.Int64
}

func NewPool(name string, cfg Config, log *zap.Logger) (*Pool, error) {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultConfig().Capacity
	}
	if cfg.ExpiryDuration <= 0 {
		cfg.ExpiryDuration = DefaultConfig().ExpiryDuration
	}
	p := &Pool{name: name, log: log.With(zap.String("pool", name))}

	ap, err := ants.NewPool(cfg.Capacity,
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithNonblocking(cfg.Nonblocking),
		ants.WithPanicHandler(func(r any) {
			p.panics.Add(1)
			p.log.Error("worker panic recovered", zap.Any("panic", r))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create pool %s: %w", name, err)
	}
	p.pool = ap
	p.log.Info("worker pool created", zap.Int("capacity", cfg.Capacity))
	return p, nil
}

func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}
	if err := p.pool.Submit(task); err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			return ErrPoolOverload
		}
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	return nil
}

func (p *Pool) Running() int { return p.pool.Running() }

func (p *Pool) Cap() int { return p.pool.Cap() }

// Panics is the number of tasks that panicked.
func (p *Pool) Panics() int64 { return p.panics.Load() }

// Release waits up to timeout for running tasks, then frees the pool.
func (p *Pool) Release(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.log.Info("worker pool released")
	return p.pool.ReleaseTimeout(timeout)
}
