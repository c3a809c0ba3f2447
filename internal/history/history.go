// Package history keeps the flat ordered conversation and performs
// auto-compaction when a provider rejects the context as too large.
// Compaction fires only on a detected error condition; token-threshold
// triggering is deliberately not implemented (callers that want it should
// add the check in front of CompactOnError rather than inside the manager).
package history

import (
	"context"
	"errors"
	"strings"
	"sync"

	"codexkit/internal/logging"
)

// Message is one conversation turn. Tokens is a best-effort count filled in
// from provider usage reports when available.
type Message struct {
	Role    string
	Content string
	Tokens  int64
}

// Summarizer condenses a message prefix into one assistant summary. It is
// wired to a streaming client at the call site.
type Summarizer func(ctx context.Context, msgs []Message) (string, error)

// ErrLimitExceeded means compaction itself was rejected for length; the run
// stops rather than retrying.
var ErrLimitExceeded = errors.New("context limit exceeded even after compaction")

// summarizePrompt is the canonical compaction request submitted as a
// synthetic user turn.
const summarizePrompt = "Summarize the conversation so far into a concise brief that preserves " +
	"all decisions, file paths, code identifiers, constraints, and open tasks. " +
	"Write it so the conversation can continue from the summary alone."

// contextErrorMarkers are the provider phrasings that identify a
// context-window rejection.
var contextErrorMarkers = []string{
	"context_length_exceeded",
	"context window",
	"prompt is too long",
	"input length exceeds",
	"maximum context length",
	"too many tokens",
}

// IsContextError reports whether a provider error message indicates the
// conversation no longer fits.
func IsContextError(errMsg string) bool {
	m := strings.ToLower(errMsg)
	for _, marker := range contextErrorMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}

// Manager owns the ordered conversation for one session.
type Manager struct {
	mu     sync.Mutex
	system string
	msgs   []Message
}

// NewManager creates a conversation with an optional system turn kept
// outside the compactable sequence.
func NewManager(system string) *Manager {
	return &Manager{system: system}
}

// System returns the pinned system prompt.
func (m *Manager) System() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.system
}

// Append adds a turn to the end of the conversation.
func (m *Manager) Append(msg Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

// Messages returns a copy of the conversation.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.msgs))
	copy(out, m.msgs)
	return out
}

// Len returns the number of turns.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.msgs)
}

// Counts returns the user and assistant turn totals.
func (m *Manager) Counts() (users, assistants int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range m.msgs {
		switch msg.Role {
		case "user":
			users++
		case "assistant":
			assistants++
		}
	}
	return
}

// TruncateLastN removes the trailing n turns; used by undo's conversation
// jump-back.
func (m *Manager) TruncateLastN(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n <= 0 {
		return
	}
	if n >= len(m.msgs) {
		m.msgs = nil
		return
	}
	m.msgs = m.msgs[:len(m.msgs)-n]
}

// CompactOnError compacts the conversation if errMsg is a context-window
// rejection. The prefix before the latest user turn is summarised and
// replaced by a single assistant summary; the latest user turn is retained
// so it can be resubmitted. Returns whether compaction ran.
//
// If the summarisation call itself hits the same condition, the run fails
// with ErrLimitExceeded; there is no retry loop.
func (m *Manager) CompactOnError(ctx context.Context, errMsg string, summarize Summarizer) (bool, error) {
	if !IsContextError(errMsg) {
		return false, nil
	}

	m.mu.Lock()
	prefix, tail := m.splitAtLastUserLocked()
	m.mu.Unlock()

	if len(prefix) == 0 {
		// Nothing to compact away; the single pending turn is itself too big.
		return false, ErrLimitExceeded
	}

	logging.History("compacting %d turns after context rejection", len(prefix))

	request := append(append([]Message{}, prefix...), Message{Role: "user", Content: summarizePrompt})
	summary, err := summarize(ctx, request)
	if err != nil {
		if IsContextError(err.Error()) {
			return false, ErrLimitExceeded
		}
		return false, err
	}

	m.mu.Lock()
	compacted := []Message{{Role: "assistant", Content: summary}}
	m.msgs = append(compacted, tail...)
	m.mu.Unlock()

	logging.History("compaction done: history now %d turns", len(tail)+1)
	return true, nil
}

// splitAtLastUserLocked divides the conversation into the compactable
// prefix and the tail beginning at the latest user turn.
func (m *Manager) splitAtLastUserLocked() (prefix, tail []Message) {
	last := -1
	for i := len(m.msgs) - 1; i >= 0; i-- {
		if m.msgs[i].Role == "user" {
			last = i
			break
		}
	}
	if last < 0 {
		prefix = append(prefix, m.msgs...)
		return prefix, nil
	}
	prefix = append(prefix, m.msgs[:last]...)
	tail = append(tail, m.msgs[last:]...)
	return prefix, tail
}
