package capsule

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Exercises a reopened capsule file end to end: events and policy blobs
// written by one handle must be readable by the next.
func TestCapsule_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capsule.db")

	h, err := Open(Config{Path: path, WorkspaceID: "ws-reopen"})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := h.AppendEvent("StageCompleted", "SPEC-KIT-009", "run-1", fmt.Sprintf("stage-%d", i), map[string]int{"seq": i})
		require.NoError(t, err)
	}
	uri, err := h.PutPolicy("pol-9", "hash-9", []byte(`{"budget":2}`), map[string]string{"source": "speckit.toml"})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	h2, err := Open(Config{Path: path, WorkspaceID: "ws-reopen"})
	require.NoError(t, err)
	defer h2.Close()

	events, err := h2.EventsForRun("SPEC-KIT-009", "run-1")
	require.NoError(t, err)
	assert.Len(t, events, 5)
	for i, ev := range events {
		assert.Equal(t, "StageCompleted", ev.EventType)
		assert.Equal(t, fmt.Sprintf("stage-%d", i), ev.Stage)
	}

	blob, err := h2.GetBlob(uri)
	require.NoError(t, err)
	assert.JSONEq(t, `{"budget":2}`, string(blob))
}
