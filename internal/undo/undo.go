// Package undo captures git-backed workspace checkpoints (ghost snapshots)
// and restores them on user request. Snapshots are commits pinned in a
// disposable ref so they survive gc without touching HEAD, the index, or
// the working branch.
package undo

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"codexkit/internal/logging"
)

// MaxTracked bounds the snapshot ring; the oldest entry is evicted on
// overflow.
const MaxTracked = 20

const ghostRefPrefix = "refs/speckit/ghost/"

// preUndoSummary labels the checkpoint taken right before a file restore.
const preUndoSummary = "Pre-undo checkpoint"

// Snapshot is one ghost commit plus the conversation position at capture
// time, used to compute how far the chat must jump back.
type Snapshot struct {
	CommitID       string
	Ref            string
	Summary        string
	CreatedAt      time.Time
	UserTurns      int
	AssistantTurns int
}

// DisabledError explains why snapshots are off for the rest of the session.
type DisabledError struct {
	Reason string
	Hint   string
}

func (e *DisabledError) Error() string {
	return fmt.Sprintf("undo disabled: %s (%s)", e.Reason, e.Hint)
}

// JumpBack asks the conversation layer to rewind past nth user turns.
type JumpBack struct {
	Nth int
}

// RestoreRequest selects what to restore and carries the current
// conversation position for the jump-back computation.
type RestoreRequest struct {
	Index               int
	RestoreFiles        bool
	RestoreConversation bool
	UserTurns           int
	AssistantTurns      int
}

// RestoreOutcome reports a restore. Both halves may succeed or fail
// independently; errors are collected rather than aborting the other half.
type RestoreOutcome struct {
	FilesRestored bool
	PreRestore    *Snapshot
	JumpBack      *JumpBack
	Errors        []string
}

// gitRunner executes a git subcommand in the repo root; swapped in tests.
type gitRunner func(ctx context.Context, args ...string) (string, error)

type captureFunc func(ctx context.Context, summary string, userTurns, assistantTurns int) (*Snapshot, error)

// Manager owns the snapshot ring. The first git failure disables the
// feature permanently for the session.
type Manager struct {
	mu       sync.Mutex
	repoRoot string
	ring     []Snapshot
	disabled *DisabledError
	git      gitRunner
	capture  captureFunc
}

// NewManager creates a snapshot manager rooted at the workspace. No git
// call happens until the first capture.
func NewManager(repoRoot string) *Manager {
	m := &Manager{repoRoot: repoRoot}
	m.git = m.runGit
	m.capture = m.captureLocked
	return m
}

func (m *Manager) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = m.repoRoot
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// Disabled returns the standing disable reason, or nil.
func (m *Manager) Disabled() *DisabledError {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disabled
}

// Snapshots returns the ring oldest-first.
func (m *Manager) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, len(m.ring))
	copy(out, m.ring)
	return out
}

// CaptureGhostSnapshot commits the current working tree into a disposable
// ref and pushes the snapshot onto the ring. A git failure disables the
// feature for the rest of the session.
func (m *Manager) CaptureGhostSnapshot(ctx context.Context, summary string, userTurns, assistantTurns int) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disabled != nil {
		return nil, m.disabled
	}
	snap, err := m.capture(ctx, summary, userTurns, assistantTurns)
	if err != nil {
		m.disableLocked(err)
		return nil, m.disabled
	}
	m.appendLocked(*snap)
	logging.Undo("snapshot %s captured (%q, ring=%d)", snap.CommitID[:minInt(8, len(snap.CommitID))], summary, len(m.ring))
	return snap, nil
}

// captureLocked builds a commit without disturbing the real index: the
// tree is written through a temporary GIT_INDEX_FILE.
func (m *Manager) captureLocked(ctx context.Context, summary string, userTurns, assistantTurns int) (*Snapshot, error) {
	if _, err := m.git(ctx, "rev-parse", "--git-dir"); err != nil {
		return nil, fmt.Errorf("not a git repository: %w", err)
	}

	tmpIndex := filepath.Join(os.TempDir(), "speckit-ghost-index-"+uuid.NewString())
	defer os.Remove(tmpIndex)

	tree, err := m.stageAndWriteTree(ctx, tmpIndex)
	if err != nil {
		return nil, err
	}

	args := []string{"commit-tree", tree, "-m", summary}
	if head, err := m.git(ctx, "rev-parse", "--verify", "HEAD"); err == nil && head != "" {
		args = append(args, "-p", head)
	}
	commit, err := m.git(ctx, args...)
	if err != nil {
		return nil, err
	}

	ref := ghostRefPrefix + commit
	if _, err := m.git(ctx, "update-ref", ref, commit); err != nil {
		return nil, err
	}
	return &Snapshot{
		CommitID:       commit,
		Ref:            ref,
		Summary:        summary,
		CreatedAt:      time.Now(),
		UserTurns:      userTurns,
		AssistantTurns: assistantTurns,
	}, nil
}

// stageAndWriteTree stages the working tree into a temporary index and
// writes a tree object from it, leaving the real index untouched.
func (m *Manager) stageAndWriteTree(ctx context.Context, tmpIndex string) (string, error) {
	env := append(os.Environ(), "GIT_INDEX_FILE="+tmpIndex)
	for _, args := range [][]string{
		{"add", "-A", "--", "."},
		{"write-tree"},
	} {
		cmd := exec.CommandContext(ctx, "git", args...)
		cmd.Dir = m.repoRoot
		cmd.Env = env
		out, err := cmd.CombinedOutput()
		if err != nil {
			return "", fmt.Errorf("git %s: %v: %s", args[0], err, strings.TrimSpace(string(out)))
		}
		if args[0] == "write-tree" {
			return strings.TrimSpace(string(out)), nil
		}
	}
	return "", fmt.Errorf("write-tree produced no output")
}

func (m *Manager) appendLocked(snap Snapshot) {
	m.ring = append(m.ring, snap)
	if len(m.ring) > MaxTracked {
		evicted := m.ring[0]
		m.ring = append(m.ring[:0], m.ring[1:]...)
		logging.Undo("ring full, evicting snapshot %s", evicted.CommitID)
	}
}

func (m *Manager) disableLocked(cause error) {
	m.disabled = &DisabledError{
		Reason: cause.Error(),
		Hint:   "run inside a git repository to re-enable undo snapshots",
	}
	m.ring = nil
	logging.UndoError("snapshots disabled: %v", cause)
}

// PerformUndoRestore restores the snapshot at req.Index. File restore
// first captures a pre-restore checkpoint, then checks the snapshot's
// tree out over the working copy, truncates the ring above the index,
// and re-appends the checkpoint as the new tip. Conversation restore
// yields a JumpBack of the user-turn delta. Partial success is allowed.
func (m *Manager) PerformUndoRestore(ctx context.Context, req RestoreRequest) (RestoreOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out RestoreOutcome
	if m.disabled != nil {
		return out, m.disabled
	}
	if req.Index < 0 || req.Index >= len(m.ring) {
		return out, fmt.Errorf("snapshot index %d out of range (have %d)", req.Index, len(m.ring))
	}
	target := m.ring[req.Index]

	if req.RestoreFiles {
		pre, err := m.capture(ctx, preUndoSummary, req.UserTurns, req.AssistantTurns)
		if err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("pre-undo checkpoint: %v", err))
		} else if _, err := m.git(ctx, "checkout", target.CommitID, "--", "."); err != nil {
			out.Errors = append(out.Errors, fmt.Sprintf("restoring files: %v", err))
			out.PreRestore = pre
			m.appendLocked(*pre)
		} else {
			out.FilesRestored = true
			out.PreRestore = pre
			m.ring = m.ring[:req.Index+1]
			m.appendLocked(*pre)
			logging.Undo("restored files to %s, ring truncated to %d", target.CommitID, len(m.ring))
		}
	}

	if req.RestoreConversation {
		delta := req.UserTurns - target.UserTurns
		if delta < 0 {
			delta = 0
		}
		out.JumpBack = &JumpBack{Nth: delta}
	}
	return out, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
