// Package remote is the authoritative document store that onboarding progress
// replicates to. Documents are JSON objects addressed by collection and id,
// stamped with a server-assigned update time.
package remote

//go:generate mockgen -source=store.go -destination=mocks/mocks.go -package=mocks Store

import (
	"context"
	"errors"
	"time"
)

// Collections used by the onboarding engine.
const (
	ProgressCollection = "onboarding_progress"
	StatusCollection   = "onboarding_status"
)

// UpdatedAtField is stamped with server time on every write.
const UpdatedAtField = "updatedAt"

var (
	// ErrNotFound is returned by Update when the document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable marks connection and transport failures.
	ErrUnavailable = errors.New("remote store unavailable")
)

// Document is a stored JSON object.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	UpdatedAt  time.Time
}

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the remote document database.
type Store interface {
	// Get returns nil, nil when the document does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)
	// Set writes data, merging into an existing document unless WithMerge(false).
	Set(ctx context.Context, collection, id string, data map[string]any, opts ...SetOption) error
	// Update merges data into an existing document. Dotted keys address nested fields.
	Update(ctx context.Context, collection, id string, data map[string]any) error
	// Delete removes a document. Deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	// Subscribe calls onChange with the current document and on every change.
	// A deleted document is delivered as nil.
	Subscribe(ctx context.Context, collection, id string, onChange func(*Document), onError func(error)) (Unsubscribe, error)
	Ping(ctx context.Context) error
	Close() error
}

type setOptions struct {
	merge bool
}

// SetOption configures Set.
type SetOption func(*setOptions)

// WithMerge selects merge (default) or replace semantics for Set.
func WithMerge(merge bool) SetOption {
	return func(o *setOptions) { o.merge = merge }
}

func applySetOptions(opts []SetOption) setOptions {
	o := setOptions{merge: true}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock when written.
var ServerTimestamp any = serverTimestamp{}
