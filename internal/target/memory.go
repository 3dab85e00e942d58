package target

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count      int64
	expiration time.Time
}

// MemoryStore is an in-process Store. Expired windows are swept every
// CleanUpInterval until Close.
type MemoryStore struct {
	prefix string

	mu      sync.Mutex
	windows map[string]*window

	now  func() time.Time
	stop chan struct{}
	once sync.Once
}

// NewMemoryStore returns a memory store and starts its sweeper.
func NewMemoryStore(opts StoreOptions) *MemoryStore {
	interval := opts.CleanUpInterval
	if interval <= 0 {
		interval = DefaultCleanUpInterval
	}

	s := &MemoryStore{
		prefix:  opts.Prefix,
		windows: make(map[string]*window),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go s.sweepLoop(interval)
	return s
}

func (s *MemoryStore) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + ":" + key
}

// Get counts one hit for key.
func (s *MemoryStore) Get(ctx context.Context, key string, rate Rate) (Context, error) {
	return s.Inc(ctx, key, 1, rate)
}

// Inc counts count hits for key. The first hit of a window sets its
// expiration.
func (s *MemoryStore) Inc(_ context.Context, key string, count int64, rate Rate) (Context, error) {
	now := s.now()

	s.mu.Lock()
	w, ok := s.windows[s.key(key)]
	if !ok || !now.Before(w.expiration) {
		w = &window{expiration: now.Add(rate.Period)}
		s.windows[s.key(key)] = w
	}
	w.count += count
	total, expiration := w.count, w.expiration
	s.mu.Unlock()

	return contextFromState(rate, expiration, total), nil
}

// Peek returns the state of key without counting.
func (s *MemoryStore) Peek(_ context.Context, key string, rate Rate) (Context, error) {
	now := s.now()

	s.mu.Lock()
	w, ok := s.windows[s.key(key)]
	if !ok || !now.Before(w.expiration) {
		s.mu.Unlock()
		return contextFromState(rate, now.Add(rate.Period), 0), nil
	}
	total, expiration := w.count, w.expiration
	s.mu.Unlock()

	return contextFromState(rate, expiration, total), nil
}

// Reset clears key.
func (s *MemoryStore) Reset(_ context.Context, key string, rate Rate) (Context, error) {
	s.mu.Lock()
	delete(s.windows, s.key(key))
	s.mu.Unlock()

	return contextFromState(rate, s.now().Add(rate.Period), 0), nil
}

// Len returns the number of tracked windows.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.windows)
}

// Sweep drops expired windows.
func (s *MemoryStore) Sweep() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range s.windows {
		if !now.Before(w.expiration) {
			delete(s.windows, k)
		}
	}
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
