package artifacts

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// ClientPool reuses S3 stores across tasks, keyed by connection parameters.
// Concurrent requests for the same key share a single connection attempt.
type ClientPool struct {
	open   func(ctx context.Context, config S3Config) (*S3Store, error)
	group  singleflight.Group
	mu     sync.RWMutex
	stores map[string]*S3Store
}

// NewClientPool creates an empty pool.
func NewClientPool() *ClientPool {
	return &ClientPool{
		open:   NewS3Store,
		stores: make(map[string]*S3Store),
	}
}

var defaultPool = NewClientPool()

// OpenS3 returns the process-wide store for config, creating it on first use.
func OpenS3(ctx context.Context, config S3Config) (*S3Store, error) {
	return defaultPool.Get(ctx, config)
}

// Get returns the store for config, creating it if needed.
func (p *ClientPool) Get(ctx context.Context, config S3Config) (*S3Store, error) {
	key := config.poolKey()

	p.mu.RLock()
	store, ok := p.stores[key]
	p.mu.RUnlock()
	if ok {
		return store, nil
	}

	v, err, _ := p.group.Do(key, func() (interface{}, error) {
		p.mu.RLock()
		existing, ok := p.stores[key]
		p.mu.RUnlock()
		if ok {
			return existing, nil
		}

		created, err := p.open(ctx, config)
		if err != nil {
			return nil, err
		}

		p.mu.Lock()
		p.stores[key] = created
		p.mu.Unlock()
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*S3Store), nil
}

// Len returns the number of cached stores.
func (p *ClientPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.stores)
}

// Close closes and forgets every cached store.
func (p *ClientPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for key, store := range p.stores {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(p.stores, key)
	}
	return firstErr
}
