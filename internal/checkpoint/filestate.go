package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/johndauphine/onboard-sync/internal/onboarding"
	"gopkg.in/yaml.v3"
)

// FileState implements Backend using a single YAML file.
// Designed for headless environments and CI where SQLite is impractical.
type FileState struct {
	path  string
	mu    sync.RWMutex
	state *fileStateData
	now   func() time.Time
}

// fileStateData is the YAML structure for the state file.
type fileStateData struct {
	Version int                      `yaml:"version"`
	Records map[string]fileRecord    `yaml:"records"`
	Slots   map[string][]fileSlotRow `yaml:"slots,omitempty"`
}

// fileRecord keeps sections as JSON strings, matching the SQLite blobs.
type fileRecord struct {
	CurrentStep         int               `yaml:"current_step"`
	TotalSteps          int               `yaml:"total_steps"`
	CompletedSteps      []int             `yaml:"completed_steps"`
	Progress            int               `yaml:"progress"`
	Sections            map[string]string `yaml:"sections,omitempty"`
	LastSavedAt         time.Time         `yaml:"last_saved_at"`
	SyncStatus          string            `yaml:"sync_status"`
	StepValidation      map[int]bool      `yaml:"step_validation,omitempty"`
	StepCompletionTimes map[int]time.Time `yaml:"step_completion_times,omitempty"`
	IsCompleted         bool              `yaml:"is_completed,omitempty"`
	CompletedAt         *time.Time        `yaml:"completed_at,omitempty"`
	SubmittedAt         *time.Time        `yaml:"submitted_at,omitempty"`
	CreatedAt           time.Time         `yaml:"created_at"`
}

type fileSlotRow struct {
	Key        string    `yaml:"key"`
	LocalURI   string    `yaml:"local_uri,omitempty"`
	RemotePath string    `yaml:"remote_path,omitempty"`
	UploadURL  string    `yaml:"upload_url,omitempty"`
	Status     string    `yaml:"status"`
	Progress   int       `yaml:"progress"`
	UpdatedAt  time.Time `yaml:"updated_at"`
}

const fileStateVersion = 1

// NewFileState creates a file-based store.
// If the file exists, it loads the existing records.
func NewFileState(path string) (*FileState, error) {
	fs := &FileState{
		path: path,
		state: &fileStateData{
			Version: fileStateVersion,
			Records: make(map[string]fileRecord),
		},
		now: time.Now,
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading state file: %w", err)
		}
		if err := yaml.Unmarshal(data, fs.state); err != nil {
			return nil, fmt.Errorf("parsing state file: %w", err)
		}
		if fs.state.Version > fileStateVersion {
			return nil, fmt.Errorf("state file version %d is newer than supported %d", fs.state.Version, fileStateVersion)
		}
		if fs.state.Records == nil {
			fs.state.Records = make(map[string]fileRecord)
		}
	}

	return fs, nil
}

// save writes the state atomically via a temp file and rename.
func (fs *FileState) save() error {
	fs.state.Version = fileStateVersion
	data, err := yaml.Marshal(fs.state)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if dir := filepath.Dir(fs.path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("creating state dir: %w", err)
		}
	}
	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing state file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("replacing state file: %w", err)
	}
	return nil
}

// Write upserts the record for userID.
func (fs *FileState) Write(ctx context.Context, userID string, patch onboarding.Patch) error {
	if userID == "" {
		return fmt.Errorf("user id is required")
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()

	now := fs.now().UTC()
	rec := onboarding.NewRecord(userID, now)
	if row, ok := fs.state.Records[userID]; ok {
		decoded, err := row.decode(userID)
		if err != nil {
			return err
		}
		rec = decoded
	}

	if err := patch.Validate(rec.TotalSteps); err != nil {
		return err
	}
	patch.Apply(rec, now)

	row, err := encodeFileRecord(rec)
	if err != nil {
		return err
	}
	prev, existed := fs.state.Records[userID]
	fs.state.Records[userID] = row
	if err := fs.save(); err != nil {
		if existed {
			fs.state.Records[userID] = prev
		} else {
			delete(fs.state.Records, userID)
		}
		return err
	}
	return nil
}

// Read returns the record for userID, or nil when none exists.
func (fs *FileState) Read(ctx context.Context, userID string) (*onboarding.ProgressRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	row, ok := fs.state.Records[userID]
	if !ok {
		return nil, nil
	}
	return row.decode(userID)
}

// Delete removes the record and its file slots.
func (fs *FileState) Delete(ctx context.Context, userID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.state.Records[userID]; !ok && fs.state.Slots[userID] == nil {
		return nil
	}
	delete(fs.state.Records, userID)
	delete(fs.state.Slots, userID)
	return fs.save()
}

// ListPending returns records waiting for a remote write, oldest first.
func (fs *FileState) ListPending(ctx context.Context) ([]onboarding.ProgressRecord, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []onboarding.ProgressRecord
	for id, row := range fs.state.Records {
		if row.SyncStatus != string(onboarding.SyncPending) {
			continue
		}
		rec, err := row.decode(id)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSavedAt.Equal(out[j].LastSavedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].LastSavedAt.Before(out[j].LastSavedAt)
	})
	return out, nil
}

// MarkSynced flags the record as replicated unless it was saved again after
// savedAt.
func (fs *FileState) MarkSynced(ctx context.Context, userID string, savedAt time.Time) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	row, ok := fs.state.Records[userID]
	if !ok || !row.LastSavedAt.Equal(savedAt) {
		return nil
	}
	row.SyncStatus = string(onboarding.SyncSynced)
	fs.state.Records[userID] = row
	return fs.save()
}

// SaveFileSlot upserts upload bookkeeping for one file slot.
func (fs *FileState) SaveFileSlot(ctx context.Context, slot FileSlot) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if slot.UpdatedAt.IsZero() {
		slot.UpdatedAt = fs.now().UTC()
	}
	if slot.Status == "" {
		slot.Status = SlotPending
	}
	row := fileSlotRow{
		Key:        slot.Key.String(),
		LocalURI:   slot.LocalURI,
		RemotePath: slot.RemotePath,
		UploadURL:  slot.UploadURL,
		Status:     slot.Status,
		Progress:   slot.Progress,
		UpdatedAt:  slot.UpdatedAt,
	}

	if fs.state.Slots == nil {
		fs.state.Slots = make(map[string][]fileSlotRow)
	}
	rows := fs.state.Slots[slot.UserID]
	replaced := false
	for i := range rows {
		if rows[i].Key == row.Key {
			rows[i] = row
			replaced = true
		}
	}
	if !replaced {
		rows = append(rows, row)
		sort.Slice(rows, func(i, j int) bool { return rows[i].Key < rows[j].Key })
	}
	fs.state.Slots[slot.UserID] = rows
	return fs.save()
}

// ListFileSlots returns the file slots recorded for userID.
func (fs *FileState) ListFileSlots(ctx context.Context, userID string) ([]FileSlot, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	var out []FileSlot
	for _, row := range fs.state.Slots[userID] {
		key, err := onboarding.ParseFileKey(row.Key)
		if err != nil {
			return nil, err
		}
		out = append(out, FileSlot{
			UserID:     userID,
			Key:        key,
			LocalURI:   row.LocalURI,
			RemotePath: row.RemotePath,
			UploadURL:  row.UploadURL,
			Status:     row.Status,
			Progress:   row.Progress,
			UpdatedAt:  row.UpdatedAt,
		})
	}
	return out, nil
}

// Close is a no-op for file state.
func (fs *FileState) Close() error {
	return nil
}

// Path returns the state file path.
func (fs *FileState) Path() string {
	return fs.path
}

func encodeFileRecord(r *onboarding.ProgressRecord) (fileRecord, error) {
	r = r.Clone()
	row := fileRecord{
		CurrentStep:         r.CurrentStep,
		TotalSteps:          r.TotalSteps,
		CompletedSteps:      r.CompletedSteps,
		Progress:            r.Progress,
		LastSavedAt:         r.LastSavedAt,
		SyncStatus:          string(r.SyncStatus),
		StepValidation:      r.StepValidation,
		StepCompletionTimes: r.StepCompletionTimes,
		IsCompleted:         r.IsCompleted,
		CompletedAt:         r.CompletedAt,
		SubmittedAt:         r.SubmittedAt,
		CreatedAt:           r.CreatedAt,
	}
	for _, key := range onboarding.SectionKeys {
		blob, err := r.Sections.MarshalSection(key)
		if err != nil {
			return fileRecord{}, fmt.Errorf("encoding %s section: %w", key, err)
		}
		if blob == nil {
			continue
		}
		if row.Sections == nil {
			row.Sections = make(map[string]string)
		}
		row.Sections[string(key)] = string(blob)
	}
	return row, nil
}

func (row fileRecord) decode(userID string) (*onboarding.ProgressRecord, error) {
	status, err := onboarding.ParseSyncStatus(row.SyncStatus)
	if err != nil {
		return nil, err
	}
	r := &onboarding.ProgressRecord{
		UserID:              userID,
		CurrentStep:         row.CurrentStep,
		TotalSteps:          row.TotalSteps,
		CompletedSteps:      row.CompletedSteps,
		Progress:            row.Progress,
		LastSavedAt:         row.LastSavedAt,
		SyncStatus:          status,
		StepValidation:      row.StepValidation,
		StepCompletionTimes: row.StepCompletionTimes,
		IsCompleted:         row.IsCompleted,
		CompletedAt:         row.CompletedAt,
		SubmittedAt:         row.SubmittedAt,
		CreatedAt:           row.CreatedAt,
	}
	for key, blob := range row.Sections {
		sk, err := onboarding.ParseSectionKey(key)
		if err != nil {
			return nil, err
		}
		if err := r.Sections.UnmarshalSection(sk, []byte(blob)); err != nil {
			return nil, fmt.Errorf("decoding %s section: %w", key, err)
		}
	}
	return r.Clone(), nil
}
