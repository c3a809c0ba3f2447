// Package policy captures deterministic snapshots of the active
// configuration and detects drift across stages and process restarts. A
// snapshot is dual-stored: a JSON file under .speckit/policies/ and a
// capsule blob, bound to the run by a PolicySnapshotRef event.
package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"codexkit/internal/capsule"
	"codexkit/internal/logging"
)

// SchemaVersion identifies the snapshot file layout.
const SchemaVersion = "policy_snapshot@1.0"

// Snapshot is one captured policy. Two snapshots with equal Hash are the
// same policy regardless of PolicyID.
type Snapshot struct {
	PolicyID          string    `json:"policy_id"`
	SchemaVersion     string    `json:"schema_version"`
	CreatedAt         time.Time `json:"created_at"`
	Hash              string    `json:"hash"`
	ConfigFingerprint string    `json:"config_fingerprint"`
	Config            json.RawMessage `json:"config"`
}

// canonicalize produces byte-stable JSON for any configuration value by
// round-tripping through interface{}, which sorts all object keys.
func canonicalize(cfg interface{}) ([]byte, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshaling config: %w", err)
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, fmt.Errorf("normalizing config: %w", err)
	}
	return json.Marshal(generic)
}

// CaptureSnapshot canonicalises and hashes the active configuration. The
// hash is stable across process restarts for equivalent inputs.
func CaptureSnapshot(cfg interface{}) (Snapshot, error) {
	canonical, err := canonicalize(cfg)
	if err != nil {
		return Snapshot{}, err
	}
	sum := sha256.Sum256(canonical)
	hash := hex.EncodeToString(sum[:])
	return Snapshot{
		PolicyID:          "pol-" + uuid.NewString(),
		SchemaVersion:     SchemaVersion,
		CreatedAt:         time.Now().UTC(),
		Hash:              hash,
		ConfigFingerprint: hash[:12],
		Config:            canonical,
	}, nil
}

// Manager binds snapshot capture to one capsule and policies directory.
type Manager struct {
	handle      *capsule.Handle
	policiesDir string // .speckit/policies under the workspace root
}

// NewManager creates a policy manager writing file snapshots under
// <root>/.speckit/policies.
func NewManager(handle *capsule.Handle, root string) *Manager {
	return &Manager{
		handle:      handle,
		policiesDir: filepath.Join(root, ".speckit", "policies"),
	}
}

// CaptureAndStore captures the configuration, dual-stores the snapshot
// (file + capsule blob), emits the PolicySnapshotRef event, and sets the
// handle's current policy.
func (m *Manager) CaptureAndStore(cfg interface{}, specID, runID, stage string) (Snapshot, error) {
	snap, err := CaptureSnapshot(cfg)
	if err != nil {
		return Snapshot{}, err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshaling snapshot: %w", err)
	}
	if err := os.MkdirAll(m.policiesDir, 0o755); err != nil {
		return Snapshot{}, fmt.Errorf("creating policies dir: %w", err)
	}
	path := filepath.Join(m.policiesDir, "snapshot-"+snap.PolicyID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return Snapshot{}, fmt.Errorf("writing snapshot file: %w", err)
	}

	uri, err := m.handle.PutPolicy(snap.PolicyID, snap.Hash, data, map[string]string{
		"spec_id": specID,
		"run_id":  runID,
	})
	if err != nil {
		return Snapshot{}, err
	}
	if err := m.handle.EmitPolicySnapshotRef(specID, runID, stage, uri, snap.PolicyID, snap.Hash); err != nil {
		return Snapshot{}, err
	}

	m.handle.SetCurrentPolicy(&capsule.PolicyInfo{
		PolicyID: snap.PolicyID,
		Hash:     snap.Hash,
		URI:      uri.String(),
	})
	logging.Policy("captured policy %s (%s) for %s/%s", snap.PolicyID, snap.ConfigFingerprint, specID, runID)
	return snap, nil
}

// LatestPolicyRefForRun scans the run's events and returns the most recent
// PolicySnapshotRef, or nil when the run has none.
func (m *Manager) LatestPolicyRefForRun(specID, runID string) (*capsule.PolicyInfo, error) {
	events, err := m.handle.EventsForRun(specID, runID)
	if err != nil {
		return nil, err
	}
	var latest *capsule.PolicyInfo
	for _, evt := range events {
		if evt.EventType != capsule.EventTypePolicySnapshotRef {
			continue
		}
		var payload capsule.PolicySnapshotRefPayload
		if err := json.Unmarshal(evt.Payload, &payload); err != nil {
			return nil, fmt.Errorf("decoding PolicySnapshotRef payload: %w", err)
		}
		latest = &capsule.PolicyInfo{
			PolicyID: payload.PolicyID,
			Hash:     payload.PolicyHash,
			URI:      payload.PolicyURI,
		}
	}
	return latest, nil
}

// RestorePolicyFromEvents repopulates the handle's current-policy slot from
// the run's latest PolicySnapshotRef if the slot is empty. Returns whether
// a restore occurred.
func (m *Manager) RestorePolicyFromEvents(specID, runID string) (bool, error) {
	if m.handle.CurrentPolicy() != nil {
		return false, nil
	}
	latest, err := m.LatestPolicyRefForRun(specID, runID)
	if err != nil {
		return false, err
	}
	if latest == nil {
		return false, nil
	}
	m.handle.SetCurrentPolicy(latest)
	logging.PolicyDebug("restored policy %s from events for %s/%s", latest.PolicyID, specID, runID)
	return true, nil
}

// CheckAndRecaptureIfChanged is the drift-detection loop run before each
// stage:
//  1. restore the current policy from events (covers reopened handles),
//  2. with no prior policy, capture the initial snapshot,
//  3. with an unchanged config hash, do nothing,
//  4. on drift, capture and store a fresh snapshot.
//
// Returns the new snapshot when one was captured, nil otherwise.
func (m *Manager) CheckAndRecaptureIfChanged(cfg interface{}, specID, runID, stage string) (*Snapshot, error) {
	if _, err := m.RestorePolicyFromEvents(specID, runID); err != nil {
		return nil, err
	}

	current := m.handle.CurrentPolicy()
	if current == nil {
		snap, err := m.CaptureAndStore(cfg, specID, runID, stage)
		if err != nil {
			return nil, err
		}
		return &snap, nil
	}

	fresh, err := CaptureSnapshot(cfg)
	if err != nil {
		return nil, err
	}
	if fresh.Hash == current.Hash {
		logging.PolicyDebug("no drift for %s/%s (%s)", specID, runID, current.PolicyID)
		return nil, nil
	}

	logging.Policy("policy drift for %s/%s: %s -> %s", specID, runID, current.Hash[:12], fresh.Hash[:12])
	snap, err := m.CaptureAndStore(cfg, specID, runID, stage)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
