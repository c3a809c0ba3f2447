package capsule

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"codexkit/internal/logging"
)

// Config locates one capsule.
type Config struct {
	Path        string // sqlite file; parent directories are created
	WorkspaceID string
}

// EventTypePolicySnapshotRef is the event that binds a run to a stored
// policy blob.
const EventTypePolicySnapshotRef = "PolicySnapshotRef"

// timestampLayout is RFC3339 with a fixed-width 9-digit fraction.
// RFC3339Nano trims trailing zeros, which breaks the lexicographic
// ORDER BY on the timestamp column; this layout keeps string order
// equal to time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Event is one immutable log entry. Events are ordered by timestamp with
// insertion order breaking ties.
type Event struct {
	EventID   string          `json:"event_id"`
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	SpecID    string          `json:"spec_id"`
	RunID     string          `json:"run_id"`
	Stage     string          `json:"stage,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

// PolicySnapshotRefPayload is the payload shape of EventTypePolicySnapshotRef.
type PolicySnapshotRefPayload struct {
	PolicyURI  string `json:"policy_uri"`
	PolicyID   string `json:"policy_id"`
	PolicyHash string `json:"policy_hash"`
}

// PolicyInfo is the in-memory current-policy slot. It is not persisted;
// reopening a capsule starts with an empty slot.
type PolicyInfo struct {
	PolicyID string
	Hash     string
	URI      string
}

// Handle is an open capsule. Safe for concurrent use.
type Handle struct {
	db        *sql.DB
	workspace string

	mu            sync.Mutex
	currentPolicy *PolicyInfo
}

// Open creates or opens the capsule at cfg.Path. A fresh handle has no
// current policy regardless of what the log contains.
func Open(cfg Config) (*Handle, error) {
	if cfg.WorkspaceID == "" {
		return nil, fmt.Errorf("capsule: workspace id required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("creating capsule directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("opening capsule: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying capsule connection: %w", err)
	}

	h := &Handle{db: db, workspace: cfg.WorkspaceID}
	if err := h.initializeSchema(); err != nil {
		db.Close()
		return nil, err
	}
	logging.Capsule("opened capsule %s (workspace %s)", cfg.Path, cfg.WorkspaceID)
	return h, nil
}

func (h *Handle) initializeSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id TEXT NOT NULL UNIQUE,
		timestamp TEXT NOT NULL,
		event_type TEXT NOT NULL,
		spec_id TEXT NOT NULL,
		run_id TEXT NOT NULL,
		stage TEXT,
		payload TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_run ON events(spec_id, run_id);
	CREATE INDEX IF NOT EXISTS idx_events_type ON events(event_type);

	CREATE TABLE IF NOT EXISTS blobs (
		uri TEXT PRIMARY KEY,
		policy_id TEXT,
		hash TEXT NOT NULL,
		data BLOB NOT NULL,
		metadata TEXT,
		created_at TEXT NOT NULL
	);
	`
	if _, err := h.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing capsule schema: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (h *Handle) Close() error { return h.db.Close() }

// Workspace returns the workspace ID this handle addresses.
func (h *Handle) Workspace() string { return h.workspace }

// PutPolicy stores a policy blob under mv2://<ws>/policy/<policy_id>.
// Idempotent on (policy_id, hash): re-storing the same snapshot is a no-op,
// a new hash for the same policy_id replaces the blob.
func (h *Handle) PutPolicy(policyID, hash string, data []byte, metadata map[string]string) (URI, error) {
	uri := NewURI(h.workspace, KindPolicy, policyID)

	var existing string
	err := h.db.QueryRow(`SELECT hash FROM blobs WHERE uri = ?`, uri.String()).Scan(&existing)
	switch {
	case err == nil:
		if existing == hash {
			logging.CapsuleDebug("policy %s already stored at hash %s", policyID, hash)
			return uri, nil
		}
	case err != sql.ErrNoRows:
		return URI{}, fmt.Errorf("checking policy blob: %w", err)
	}

	meta, err := json.Marshal(metadata)
	if err != nil {
		return URI{}, fmt.Errorf("marshaling blob metadata: %w", err)
	}
	_, err = h.db.Exec(`
		INSERT INTO blobs (uri, policy_id, hash, data, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET hash = excluded.hash, data = excluded.data,
			metadata = excluded.metadata, created_at = excluded.created_at`,
		uri.String(), policyID, hash, data, string(meta), time.Now().UTC().Format(timestampLayout))
	if err != nil {
		return URI{}, fmt.Errorf("storing policy blob: %w", err)
	}
	logging.Capsule("stored policy %s (%s) at %s", policyID, hash, uri)
	return uri, nil
}

// GetBlob returns the stored bytes for a logical URI.
func (h *Handle) GetBlob(uri URI) ([]byte, error) {
	var data []byte
	err := h.db.QueryRow(`SELECT data FROM blobs WHERE uri = ?`, uri.String()).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no blob at %s", uri)
	}
	if err != nil {
		return nil, fmt.Errorf("reading blob %s: %w", uri, err)
	}
	return data, nil
}

// AppendEvent appends one immutable event and returns it.
func (h *Handle) AppendEvent(eventType, specID, runID, stage string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshaling event payload: %w", err)
	}
	evt := Event{
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		SpecID:    specID,
		RunID:     runID,
		Stage:     stage,
		Payload:   data,
	}
	_, err = h.db.Exec(`
		INSERT INTO events (event_id, timestamp, event_type, spec_id, run_id, stage, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.EventID, evt.Timestamp.Format(timestampLayout), evt.EventType,
		evt.SpecID, evt.RunID, evt.Stage, string(data))
	if err != nil {
		return Event{}, fmt.Errorf("appending event: %w", err)
	}
	logging.CapsuleDebug("event %s %s/%s %s", evt.EventType, specID, runID, evt.EventID)
	return evt, nil
}

// EmitPolicySnapshotRef appends the event binding a run to a stored policy.
func (h *Handle) EmitPolicySnapshotRef(specID, runID, stage string, uri URI, policyID, policyHash string) error {
	_, err := h.AppendEvent(EventTypePolicySnapshotRef, specID, runID, stage, PolicySnapshotRefPayload{
		PolicyURI:  uri.String(),
		PolicyID:   policyID,
		PolicyHash: policyHash,
	})
	return err
}

// ListEvents returns every event ordered by timestamp, write order breaking
// ties.
func (h *Handle) ListEvents() ([]Event, error) {
	return h.queryEvents(`SELECT event_id, timestamp, event_type, spec_id, run_id, stage, payload
		FROM events ORDER BY timestamp, seq`)
}

// EventsForRun returns one run's events in order.
func (h *Handle) EventsForRun(specID, runID string) ([]Event, error) {
	return h.queryEvents(`SELECT event_id, timestamp, event_type, spec_id, run_id, stage, payload
		FROM events WHERE spec_id = ? AND run_id = ? ORDER BY timestamp, seq`, specID, runID)
}

func (h *Handle) queryEvents(query string, args ...interface{}) ([]Event, error) {
	rows, err := h.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var evt Event
		var ts, payload string
		var stage sql.NullString
		if err := rows.Scan(&evt.EventID, &ts, &evt.EventType, &evt.SpecID, &evt.RunID, &stage, &payload); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		evt.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parsing event timestamp %q: %w", ts, err)
		}
		evt.Stage = stage.String
		evt.Payload = json.RawMessage(payload)
		out = append(out, evt)
	}
	return out, rows.Err()
}

// SetCurrentPolicy sets the in-memory policy slot.
func (h *Handle) SetCurrentPolicy(p *PolicyInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.currentPolicy = p
}

// CurrentPolicy returns the in-memory policy slot, nil on a fresh handle.
func (h *Handle) CurrentPolicy() *PolicyInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.currentPolicy
}
