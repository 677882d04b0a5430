package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/johndauphine/onboard-sync/internal/logging"
	"github.com/johndauphine/onboard-sync/internal/stats"
	"github.com/lib/pq"
)

// notifyChannel carries "collection/id" payloads for every document change.
const notifyChannel = "documents_changed"

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id TEXT NOT NULL,
	data JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
);

CREATE OR REPLACE FUNCTION jsonb_deep_merge(a jsonb, b jsonb) RETURNS jsonb
LANGUAGE plpgsql IMMUTABLE AS $$
BEGIN
	IF a IS NULL OR jsonb_typeof(a) <> 'object' OR jsonb_typeof(b) <> 'object' THEN
		RETURN b;
	END IF;
	RETURN COALESCE((
		SELECT jsonb_object_agg(COALESCE(ka, kb),
			CASE WHEN va IS NULL THEN vb WHEN vb IS NULL THEN va ELSE jsonb_deep_merge(va, vb) END)
		FROM jsonb_each(a) AS x(ka, va)
		FULL OUTER JOIN jsonb_each(b) AS y(kb, vb) ON ka = kb
	), '{}'::jsonb);
END $$;

CREATE OR REPLACE FUNCTION documents_notify() RETURNS trigger
LANGUAGE plpgsql AS $$
BEGIN
	IF TG_OP = 'DELETE' THEN
		PERFORM pg_notify('documents_changed', OLD.collection || '/' || OLD.id);
	ELSE
		PERFORM pg_notify('documents_changed', NEW.collection || '/' || NEW.id);
	END IF;
	RETURN NULL;
END $$;

DROP TRIGGER IF EXISTS documents_changed ON documents;
CREATE TRIGGER documents_changed AFTER INSERT OR UPDATE OR DELETE ON documents
	FOR EACH ROW EXECUTE FUNCTION documents_notify();
`

// PostgresStore keeps documents as JSONB rows in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
	dsn  string

	mu        sync.Mutex
	listeners []*pq.Listener
}

// NewPostgresStore connects to dsn and ensures the documents schema exists.
func NewPostgresStore(ctx context.Context, dsn string, maxConns int) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing remote dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", classify(err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging remote: %w", classify(err))
	}

	s := &PostgresStore{pool: pool, dsn: dsn}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating documents schema: %w", classify(err))
	}
	return s, nil
}

// Get reads a document.
func (s *PostgresStore) Get(ctx context.Context, collection, id string) (*Document, error) {
	var (
		raw []byte
		doc = &Document{Collection: collection, ID: id}
	)
	err := s.pool.QueryRow(ctx,
		`SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&raw, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", collection, id, classify(err))
	}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return nil, fmt.Errorf("decoding %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

// serverNow reads the database clock so stamped times come from the server.
func (s *PostgresStore) serverNow(ctx context.Context, tx pgx.Tx) (time.Time, error) {
	var now time.Time
	if err := tx.QueryRow(ctx, `SELECT now()`).Scan(&now); err != nil {
		return time.Time{}, classify(err)
	}
	return now, nil
}

// Set writes a document.
func (s *PostgresStore) Set(ctx context.Context, collection, id string, data map[string]any, opts ...SetOption) error {
	o := applySetOptions(opts)
	query := `
		INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = jsonb_deep_merge(documents.data, excluded.data),
			updated_at = excluded.updated_at`
	if !o.merge {
		query = `
		INSERT INTO documents (collection, id, data, updated_at) VALUES ($1, $2, $3::jsonb, $4)
		ON CONFLICT (collection, id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		now, err := s.serverNow(ctx, tx)
		if err != nil {
			return err
		}
		payload, err := encodePayload(data, now, false)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, query, collection, id, payload, now); err != nil {
			return fmt.Errorf("set %s/%s: %w", collection, id, classify(err))
		}
		return nil
	})
}

// Update merges into an existing document.
func (s *PostgresStore) Update(ctx context.Context, collection, id string, data map[string]any) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		now, err := s.serverNow(ctx, tx)
		if err != nil {
			return err
		}
		payload, err := encodePayload(data, now, true)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE documents SET data = jsonb_deep_merge(data, $3::jsonb), updated_at = $4
			WHERE collection = $1 AND id = $2
		`, collection, id, payload, now)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", collection, id, classify(err))
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%s/%s: %w", collection, id, ErrNotFound)
		}
		return nil
	})
}

// Delete removes a document.
func (s *PostgresStore) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("delete %s/%s: %w", collection, id, classify(err))
	}
	return nil
}

// Subscribe listens for change notifications on the document. It uses a
// dedicated lib/pq listener that reconnects on its own.
func (s *PostgresStore) Subscribe(ctx context.Context, collection, id string, onChange func(*Document), onError func(error)) (Unsubscribe, error) {
	reportErr := func(err error) {
		if onError != nil {
			onError(err)
		} else {
			logging.Warn("Subscription %s/%s: %v", collection, id, err)
		}
	}

	listener := pq.NewListener(s.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			reportErr(fmt.Errorf("%w: %w", ErrUnavailable, err))
		}
	})
	if err := listener.Listen(notifyChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("listening for %s/%s: %w", collection, id, classify(err))
	}

	s.mu.Lock()
	s.listeners = append(s.listeners, listener)
	s.mu.Unlock()

	deliver := func() {
		doc, err := s.Get(ctx, collection, id)
		if err != nil {
			if ctx.Err() == nil {
				reportErr(err)
			}
			return
		}
		onChange(doc)
	}

	stop := make(chan struct{})
	var once sync.Once
	unsub := func() {
		once.Do(func() {
			close(stop)
			listener.Close()
			s.removeListener(listener)
		})
	}

	target := subKey(collection, id)
	go func() {
		deliver()
		for {
			select {
			case <-ctx.Done():
				unsub()
				return
			case <-stop:
				return
			case n, ok := <-listener.Notify:
				if !ok {
					return
				}
				// nil notifications follow a reconnect; re-read to catch missed changes.
				if n == nil || n.Extra == target {
					deliver()
				}
			case <-time.After(90 * time.Second):
				go listener.Ping()
			}
		}
	}()

	return unsub, nil
}

func (s *PostgresStore) removeListener(l *pq.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.listeners {
		if existing == l {
			s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
			return
		}
	}
}

// Ping checks connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// PoolStats returns connection pool statistics.
func (s *PostgresStore) PoolStats() stats.PoolStats {
	poolStats := s.pool.Stat()
	return stats.PoolStats{
		Store:       "postgres",
		MaxConns:    int(poolStats.MaxConns()),
		ActiveConns: int(poolStats.AcquiredConns()),
		IdleConns:   int(poolStats.IdleConns()),
		WaitCount:   poolStats.EmptyAcquireCount(),
		WaitTimeMs:  poolStats.AcquireDuration().Milliseconds(),
	}
}

// Close stops all listeners and closes the pool.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	var errs []error
	for _, l := range listeners {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.pool.Close()
	return errors.Join(errs...)
}

func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", classify(err))
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing: %w", classify(err))
	}
	return nil
}

func encodePayload(data map[string]any, now time.Time, expandPaths bool) (string, error) {
	fields, err := prepare(data, now, expandPaths)
	if err != nil {
		return "", err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(raw), nil
}

// classify marks connection-level failures with ErrUnavailable.
func classify(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var netErr net.Error
	var connErr *pgconn.ConnectError
	if errors.As(err, &netErr) || errors.As(err, &connErr) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

var _ Store = (*PostgresStore)(nil)
