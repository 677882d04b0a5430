package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
)

// MemoryStore is an in-process Store for tests, demos and offline runs.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[string]map[string]*Document
	subs    map[string]map[int]*memorySub
	nextSub int
	failErr error
	now     func() time.Time
}

type memorySub struct {
	onChange func(*Document)
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs: make(map[string]map[string]*Document),
		subs: make(map[string]map[int]*memorySub),
		now:  time.Now,
	}
}

// FailWith makes every subsequent call fail with err wrapped in
// ErrUnavailable. A nil err restores normal operation.
func (s *MemoryStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func (s *MemoryStore) failure() error {
	if s.failErr != nil {
		return fmt.Errorf("%w: %w", ErrUnavailable, s.failErr)
	}
	return nil
}

func subKey(collection, id string) string { return collection + "/" + id }

// Get returns a copy of the document.
func (s *MemoryStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.failure(); err != nil {
		return nil, err
	}
	return s.lookup(collection, id), nil
}

func (s *MemoryStore) lookup(collection, id string) *Document {
	doc, ok := s.docs[collection][id]
	if !ok {
		return nil
	}
	return &Document{Collection: collection, ID: id, Data: copyFields(doc.Data), UpdatedAt: doc.UpdatedAt}
}

// Set writes a document.
func (s *MemoryStore) Set(ctx context.Context, collection, id string, data map[string]any, opts ...SetOption) error {
	o := applySetOptions(opts)
	return s.write(collection, id, data, o.merge, false, false)
}

// Update merges into an existing document.
func (s *MemoryStore) Update(ctx context.Context, collection, id string, data map[string]any) error {
	return s.write(collection, id, data, true, true, true)
}

func (s *MemoryStore) write(collection, id string, data map[string]any, merge, mustExist, expandPaths bool) error {
	s.mu.Lock()
	if err := s.failure(); err != nil {
		s.mu.Unlock()
		return err
	}

	now := s.now().UTC()
	fields, err := prepare(data, now, expandPaths)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	coll := s.docs[collection]
	if coll == nil {
		coll = make(map[string]*Document)
		s.docs[collection] = coll
	}
	doc, exists := coll[id]
	if mustExist && !exists {
		s.mu.Unlock()
		return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
	}
	if exists && merge {
		onboarding.MergeObjects(doc.Data, fields)
		doc.UpdatedAt = now
	} else {
		coll[id] = &Document{Collection: collection, ID: id, Data: fields, UpdatedAt: now}
	}

	snapshot, listeners := s.notifyTargets(collection, id)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(snapshot)
	}
	return nil
}

// Delete removes a document.
func (s *MemoryStore) Delete(ctx context.Context, collection, id string) error {
	s.mu.Lock()
	if err := s.failure(); err != nil {
		s.mu.Unlock()
		return err
	}
	_, existed := s.docs[collection][id]
	delete(s.docs[collection], id)
	var listeners []func(*Document)
	if existed {
		_, listeners = s.notifyTargets(collection, id)
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return nil
}

// notifyTargets must be called with s.mu held.
func (s *MemoryStore) notifyTargets(collection, id string) (*Document, []func(*Document)) {
	subs := s.subs[subKey(collection, id)]
	if len(subs) == 0 {
		return nil, nil
	}
	fns := make([]func(*Document), 0, len(subs))
	for _, sub := range subs {
		fns = append(fns, sub.onChange)
	}
	return s.lookup(collection, id), fns
}

// Subscribe delivers the current document immediately, then every change.
func (s *MemoryStore) Subscribe(ctx context.Context, collection, id string, onChange func(*Document), onError func(error)) (Unsubscribe, error) {
	s.mu.Lock()
	if err := s.failure(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	key := subKey(collection, id)
	if s.subs[key] == nil {
		s.subs[key] = make(map[int]*memorySub)
	}
	s.nextSub++
	subID := s.nextSub
	s.subs[key][subID] = &memorySub{onChange: onChange}
	current := s.lookup(collection, id)
	s.mu.Unlock()

	onChange(current)

	var once sync.Once
	done := make(chan struct{})
	unsub := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs[key], subID)
			s.mu.Unlock()
			close(done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			unsub()
		case <-done:
		}
	}()
	return unsub, nil
}

// Ping reports the injected failure, if any.
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failure()
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
