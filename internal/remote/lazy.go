package remote

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/johndauphine/onboard-sync/internal/stats"
)

// Opener connects to a remote store.
type Opener func(ctx context.Context) (Store, error)

// LazyStore defers connecting until the first call and retries the
// connection on later calls until it succeeds. Failed opens surface as
// ErrUnavailable so callers treat them like any other outage. Concurrent
// callers share one connection attempt, and the lock is never held while
// dialing.
type LazyStore struct {
	open  Opener
	group singleflight.Group

	mu     sync.Mutex
	store  Store
	closed bool
}

var errLazyClosed = fmt.Errorf("%w: store closed", ErrUnavailable)

// NewLazyStore wraps open.
func NewLazyStore(open Opener) *LazyStore {
	return &LazyStore{open: open}
}

func (l *LazyStore) connected() (Store, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, errLazyClosed
	}
	return l.store, nil
}

func (l *LazyStore) get(ctx context.Context) (Store, error) {
	if s, err := l.connected(); s != nil || err != nil {
		return s, err
	}

	ch := l.group.DoChan("open", func() (any, error) {
		s, err := l.open(ctx)
		if err != nil {
			return nil, err
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.closed {
			_ = s.Close()
			return nil, errLazyClosed
		}
		if l.store == nil {
			l.store = s
		} else if s != l.store {
			_ = s.Close()
		}
		return l.store, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrUnavailable) {
				return nil, res.Err
			}
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, res.Err)
		}
		return res.Val.(Store), nil
	}
}

// Get implements Store.
func (l *LazyStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, collection, id)
}

// Set implements Store.
func (l *LazyStore) Set(ctx context.Context, collection, id string, data map[string]any, opts ...SetOption) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Set(ctx, collection, id, data, opts...)
}

// Update implements Store.
func (l *LazyStore) Update(ctx context.Context, collection, id string, data map[string]any) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Update(ctx, collection, id, data)
}

// Delete implements Store.
func (l *LazyStore) Delete(ctx context.Context, collection, id string) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Delete(ctx, collection, id)
}

// Subscribe implements Store.
func (l *LazyStore) Subscribe(ctx context.Context, collection, id string, onChange func(*Document), onError func(error)) (Unsubscribe, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.Subscribe(ctx, collection, id, onChange, onError)
}

// Ping connects if needed and pings the underlying store.
func (l *LazyStore) Ping(ctx context.Context) error {
	s, err := l.get(ctx)
	if err != nil {
		return err
	}
	return s.Ping(ctx)
}

// PoolStats reports the underlying pool once connected.
func (l *LazyStore) PoolStats() stats.PoolStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.store.(stats.Reporter); ok {
		return r.PoolStats()
	}
	return stats.PoolStats{Store: "not connected"}
}

// Close closes the underlying store if it was opened.
func (l *LazyStore) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	if l.store == nil {
		return nil
	}
	return l.store.Close()
}

var _ Store = (*LazyStore)(nil)
