// Package target is a fixed-window rate-limited HTTP service, the system
// under test for the load scenarios.
package target

import (
	"context"
	"time"
)

// Rate is a request budget per period.
type Rate struct {
	Limit  int64
	Period time.Duration
}

// NewRate returns a rate of limit requests per period seconds.
func NewRate(limit int64, periodSeconds int) Rate {
	return Rate{
		Limit:  limit,
		Period: time.Duration(periodSeconds) * time.Second,
	}
}

// Context is the state of one key after a store operation.
type Context struct {
	Limit     int64
	Remaining int64
	Reset     int64 // unix seconds when the window expires
	Reached   bool
}

// contextFromState builds a Context for count hits in a window ending at
// expiration. The limit is reached once count exceeds it.
func contextFromState(rate Rate, expiration time.Time, count int64) Context {
	c := Context{
		Limit:   rate.Limit,
		Reset:   expiration.Unix(),
		Reached: true,
	}
	if count <= rate.Limit {
		c.Remaining = rate.Limit - count
		c.Reached = false
	}
	return c
}

// Store keeps per-key counters.
type Store interface {
	// Get counts one hit for key and returns the resulting state.
	Get(ctx context.Context, key string, rate Rate) (Context, error)

	// Peek returns the state of key without counting a hit.
	Peek(ctx context.Context, key string, rate Rate) (Context, error)

	// Reset clears the counter of key.
	Reset(ctx context.Context, key string, rate Rate) (Context, error)

	// Inc counts count hits for key.
	Inc(ctx context.Context, key string, count int64, rate Rate) (Context, error)
}

// StoreOptions configure a store.
type StoreOptions struct {
	// Prefix namespaces keys in shared backends.
	Prefix string

	// CleanUpInterval is how often the memory store drops expired windows.
	CleanUpInterval time.Duration
}

// DefaultCleanUpInterval is used when StoreOptions.CleanUpInterval is zero.
const DefaultCleanUpInterval = 30 * time.Second

// Limiter applies one Rate through a Store.
type Limiter struct {
	Store Store
	Rate  Rate
}

// NewLimiter returns a limiter for rate backed by store.
func NewLimiter(store Store, rate Rate) *Limiter {
	return &Limiter{Store: store, Rate: rate}
}

// Get counts a hit for key.
func (l *Limiter) Get(ctx context.Context, key string) (Context, error) {
	return l.Store.Get(ctx, key, l.Rate)
}

// Peek returns the state of key.
func (l *Limiter) Peek(ctx context.Context, key string) (Context, error) {
	return l.Store.Peek(ctx, key, l.Rate)
}

// Reset clears key.
func (l *Limiter) Reset(ctx context.Context, key string) (Context, error) {
	return l.Store.Reset(ctx, key, l.Rate)
}

// Inc counts count hits for key.
func (l *Limiter) Inc(ctx context.Context, key string, count int64) (Context, error) {
	return l.Store.Inc(ctx, key, count, l.Rate)
}
