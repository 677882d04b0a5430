package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"github.com/johndauphine/onboard-sync/internal/stats"
	_ "modernc.org/sqlite"
)

// State manages onboarding progress in SQLite
type State struct {
	db  *sql.DB
	now func() time.Time
}

// DBFile is the database file name inside the data directory.
const DBFile = "onboarding.db"

// New opens (or creates) the progress database in dataDir
func New(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFile)
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Read-modify-write in Write relies on a single writer connection.
	db.SetMaxOpenConns(1)

	s := &State{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return s, nil
}

// PoolStats returns connection pool statistics.
func (s *State) PoolStats() stats.PoolStats {
	dbStats := s.db.Stats()
	return stats.PoolStats{
		Store:       "sqlite",
		MaxConns:    dbStats.MaxOpenConnections,
		ActiveConns: dbStats.InUse,
		IdleConns:   dbStats.Idle,
		WaitCount:   dbStats.WaitCount,
		WaitTimeMs:  dbStats.WaitDuration.Milliseconds(),
	}
}

// migrations are applied in order; the index is the schema version minus one.
var migrations = []string{
	`
	CREATE TABLE IF NOT EXISTS progress (
		user_id TEXT PRIMARY KEY,
		current_step INTEGER NOT NULL DEFAULT 1,
		total_steps INTEGER NOT NULL DEFAULT 8,
		completed_steps TEXT NOT NULL DEFAULT '[]',
		progress INTEGER NOT NULL DEFAULT 0,
		personal TEXT,
		vehicle TEXT,
		documents TEXT,
		photos TEXT,
		misc TEXT,
		last_saved_at TEXT NOT NULL,
		sync_status TEXT NOT NULL DEFAULT 'pending',
		step_validation TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_progress_sync_status ON progress(sync_status);
	`,
	`
	ALTER TABLE progress ADD COLUMN step_completion_times TEXT;
	ALTER TABLE progress ADD COLUMN is_completed INTEGER NOT NULL DEFAULT 0;
	ALTER TABLE progress ADD COLUMN completed_at TEXT;
	ALTER TABLE progress ADD COLUMN submitted_at TEXT;
	`,
	`
	CREATE TABLE IF NOT EXISTS file_slots (
		user_id TEXT NOT NULL,
		slot_key TEXT NOT NULL,
		local_uri TEXT,
		remote_path TEXT,
		upload_url TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		progress INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (user_id, slot_key)
	);
	`,
}

func (s *State) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var current int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the applied schema version
func (s *State) SchemaVersion() (int, error) {
	var v int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v)
	return v, err
}

// Close closes the database connection
func (s *State) Close() error {
	return s.db.Close()
}

// Write upserts the record for userID with the non-nil patch fields
func (s *State) Write(ctx context.Context, userID string, patch onboarding.Patch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning write: %w", err)
	}
	defer tx.Rollback()

	exists := true
	total := onboarding.DefaultTotalSteps
	err = tx.QueryRowContext(ctx, `SELECT total_steps FROM progress WHERE user_id = ?`, userID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		exists = false
	} else if err != nil {
		return fmt.Errorf("reading record: %w", err)
	}

	if err := patch.Validate(total); err != nil {
		return err
	}

	now := s.now().UTC()
	if !exists {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO progress (user_id, current_step, total_steps, progress, sync_status, created_at, last_saved_at)
			VALUES (?, 1, ?, 0, 'pending', ?, ?)
		`, userID, onboarding.DefaultTotalSteps, formatTime(now), formatTime(now)); err != nil {
			return fmt.Errorf("creating record: %w", err)
		}
	}

	args, err := patchArgs(patch, now)
	if err != nil {
		return err
	}
	args = append(args, userID)
	if _, err := tx.ExecContext(ctx, `
		UPDATE progress SET
			current_step = COALESCE(?, current_step),
			total_steps = COALESCE(?, total_steps),
			completed_steps = COALESCE(?, completed_steps),
			personal = COALESCE(?, personal),
			vehicle = COALESCE(?, vehicle),
			documents = COALESCE(?, documents),
			photos = COALESCE(?, photos),
			misc = COALESCE(?, misc),
			last_saved_at = ?,
			sync_status = COALESCE(?, sync_status),
			step_validation = COALESCE(?, step_validation),
			step_completion_times = COALESCE(?, step_completion_times),
			is_completed = COALESCE(?, is_completed),
			completed_at = COALESCE(?, completed_at),
			submitted_at = COALESCE(?, submitted_at)
		WHERE user_id = ?
	`, args...); err != nil {
		return fmt.Errorf("updating record: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE progress SET progress = CAST(ROUND(current_step * 100.0 / total_steps) AS INTEGER)
		WHERE user_id = ?
	`, userID); err != nil {
		return fmt.Errorf("updating progress: %w", err)
	}

	return tx.Commit()
}

// patchArgs encodes patch fields in UPDATE column order. Nil fields become
// SQL NULL so COALESCE keeps the stored value.
func patchArgs(p onboarding.Patch, now time.Time) ([]any, error) {
	args := []any{nullInt(p.CurrentStep), nullInt(p.TotalSteps)}

	completed, err := nullJSON(p.CompletedSteps, p.CompletedSteps != nil)
	if err != nil {
		return nil, err
	}
	args = append(args, completed)

	for _, key := range onboarding.SectionKeys {
		var blob any
		if p.Sections != nil {
			b, err := p.Sections.MarshalSection(key)
			if err != nil {
				return nil, fmt.Errorf("encoding %s section: %w", key, err)
			}
			if b != nil {
				blob = string(b)
			}
		}
		args = append(args, blob)
	}

	savedAt := now
	if p.LastSavedAt != nil {
		savedAt = *p.LastSavedAt
	}
	args = append(args, formatTime(savedAt))

	var status any
	if p.SyncStatus != nil {
		status = string(*p.SyncStatus)
	}
	args = append(args, status)

	validation, err := nullJSON(p.StepValidation, p.StepValidation != nil)
	if err != nil {
		return nil, err
	}
	times, err := nullJSON(p.StepCompletionTimes, p.StepCompletionTimes != nil)
	if err != nil {
		return nil, err
	}
	args = append(args, validation, times)

	var completedFlag any
	if p.IsCompleted != nil {
		completedFlag = *p.IsCompleted
	}
	args = append(args, completedFlag, nullTime(p.CompletedAt), nullTime(p.SubmittedAt))
	return args, nil
}

const recordColumns = `user_id, current_step, total_steps, completed_steps, progress,
	personal, vehicle, documents, photos, misc, last_saved_at, sync_status,
	step_validation, step_completion_times, is_completed, completed_at, submitted_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*onboarding.ProgressRecord, error) {
	var (
		r                                   onboarding.ProgressRecord
		completed                           string
		blobs                               [5]sql.NullString
		savedAt, status, createdAt          string
		validation, times, completedAt, sub sql.NullString
	)
	err := row.Scan(&r.UserID, &r.CurrentStep, &r.TotalSteps, &completed, &r.Progress,
		&blobs[0], &blobs[1], &blobs[2], &blobs[3], &blobs[4],
		&savedAt, &status, &validation, &times, &r.IsCompleted, &completedAt, &sub, &createdAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(completed), &r.CompletedSteps); err != nil {
		return nil, fmt.Errorf("decoding completed steps: %w", err)
	}
	for i, key := range onboarding.SectionKeys {
		if blobs[i].Valid {
			if err := r.Sections.UnmarshalSection(key, []byte(blobs[i].String)); err != nil {
				return nil, fmt.Errorf("decoding %s section: %w", key, err)
			}
		}
	}
	if validation.Valid {
		if err := json.Unmarshal([]byte(validation.String), &r.StepValidation); err != nil {
			return nil, fmt.Errorf("decoding step validation: %w", err)
		}
	}
	if times.Valid {
		if err := json.Unmarshal([]byte(times.String), &r.StepCompletionTimes); err != nil {
			return nil, fmt.Errorf("decoding step times: %w", err)
		}
	}
	if r.SyncStatus, err = onboarding.ParseSyncStatus(status); err != nil {
		return nil, err
	}
	r.LastSavedAt = parseTime(savedAt)
	r.CreatedAt = parseTime(createdAt)
	r.CompletedAt = parseNullTime(completedAt)
	r.SubmittedAt = parseNullTime(sub)
	return &r, nil
}

// Read returns the record for userID, or nil when none exists
func (s *State) Read(ctx context.Context, userID string) (*onboarding.ProgressRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM progress WHERE user_id = ?`, userID)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading progress for %s: %w", userID, err)
	}
	return r, nil
}

// Delete removes the record and its file slots
func (s *State) Delete(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_slots WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting file slots: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM progress WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting progress: %w", err)
	}
	return tx.Commit()
}

// ListPending returns every record waiting for a remote write, oldest first
func (s *State) ListPending(ctx context.Context) ([]onboarding.ProgressRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+` FROM progress
		WHERE sync_status = 'pending'
		ORDER BY last_saved_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []onboarding.ProgressRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, rows.Err()
}

// MarkSynced flags the record as replicated unless it was saved again after
// savedAt
func (s *State) MarkSynced(ctx context.Context, userID string, savedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE progress SET sync_status = 'synced' WHERE user_id = ? AND last_saved_at = ?`,
		userID, formatTime(savedAt))
	return err
}

// SaveFileSlot upserts upload bookkeeping for one file slot
func (s *State) SaveFileSlot(ctx context.Context, slot FileSlot) error {
	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = s.now()
	}
	if slot.Status == "" {
		slot.Status = SlotPending
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO file_slots (user_id, slot_key, local_uri, remote_path, upload_url, status, progress, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, slot_key) DO UPDATE SET
			local_uri = excluded.local_uri,
			remote_path = excluded.remote_path,
			upload_url = excluded.upload_url,
			status = excluded.status,
			progress = excluded.progress,
			updated_at = excluded.updated_at
	`, slot.UserID, slot.Key.String(), slot.LocalURI, slot.RemotePath, slot.UploadURL,
		slot.Status, slot.Progress, formatTime(slot.UpdatedAt))
	return err
}

// ListFileSlots returns the file slots recorded for userID
func (s *State) ListFileSlots(ctx context.Context, userID string) ([]FileSlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slot_key, COALESCE(local_uri, ''), COALESCE(remote_path, ''), COALESCE(upload_url, ''),
			status, progress, updated_at
		FROM file_slots WHERE user_id = ? ORDER BY slot_key
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []FileSlot
	for rows.Next() {
		var (
			fs        FileSlot
			key       string
			updatedAt string
		)
		if err := rows.Scan(&key, &fs.LocalURI, &fs.RemotePath, &fs.UploadURL, &fs.Status, &fs.Progress, &updatedAt); err != nil {
			return nil, err
		}
		if fs.Key, err = onboarding.ParseFileKey(key); err != nil {
			return nil, err
		}
		fs.UserID = userID
		fs.UpdatedAt = parseTime(updatedAt)
		slots = append(slots, fs)
	}
	return slots, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}

func nullInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullJSON(v any, present bool) (any, error) {
	if !present {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding column: %w", err)
	}
	return string(b), nil
}
