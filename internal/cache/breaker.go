package cache

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Breaker wraps a Cache with a circuit breaker so callers fail fast while the
// backend is down instead of waiting out a dial timeout on every request.
type Breaker struct {
	next Cache
	cb   *gobreaker.CircuitBreaker
}

type BreakerConfig struct {
	MaxFailures uint32
	Interval    time.Duration
	Timeout     time.Duration
}

func NewBreaker(next Cache, cfg BreakerConfig, log *zap.Logger) *Breaker {
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	st := gobreaker.Settings{
		Name:        "cache",
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warn("circuit breaker state", zap.String("name", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
		// A miss is an answer, not a failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrMiss)
		},
	}
	return &Breaker{next: next, cb: gobreaker.NewCircuitBreaker(st)}
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Set(ctx, key, value, ttl)
	})
	return err
}

func (b *Breaker) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.SetNX(ctx, key, value, ttl)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (b *Breaker) Get(ctx context.Context, key string) (string, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Get(ctx, key)
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (b *Breaker) Exists(ctx context.Context, key string) (bool, error) {
	res, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.Exists(ctx, key)
	})
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

func (b *Breaker) Delete(ctx context.Context, key string) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Delete(ctx, key)
	})
	return err
}

// Ping bypasses the breaker so health checks see the real backend state.
func (b *Breaker) Ping(ctx context.Context) error {
	return b.next.Ping(ctx)
}

func (b *Breaker) Close() error {
	return b.next.Close()
}
