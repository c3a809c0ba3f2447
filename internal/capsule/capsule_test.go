package capsule

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func TestURI_RoundTrip(t *testing.T) {
	cases := []string{
		"mv2://ws-1/policy/pol-123",
		"mv2://ws-1/stage/SPEC-KIT-001/plan",
		"mv2://main/evidence/SPEC-KIT-002/run-7/log.txt",
		"mv2://main/artifact/a/b/c",
	}
	for _, s := range cases {
		u, err := ParseURI(s)
		if err != nil {
			t.Fatalf("ParseURI(%q): %v", s, err)
		}
		if got := u.String(); got != s {
			t.Errorf("round trip: %q -> %q", s, got)
		}
	}
}

func TestURI_Invalid(t *testing.T) {
	cases := []string{
		"http://ws/policy/x",
		"mv2://ws/policy",
		"mv2://ws/frobnicate/x",
		"mv2://ws//x",
		"mv2:///policy/x",
	}
	for _, s := range cases {
		if _, err := ParseURI(s); err == nil {
			t.Errorf("ParseURI(%q) should fail", s)
		}
	}
}

func openTest(t *testing.T) *Handle {
	t.Helper()
	h, err := Open(Config{
		Path:        filepath.Join(t.TempDir(), "capsule.db"),
		WorkspaceID: "ws-test",
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestPutPolicy_Idempotent(t *testing.T) {
	h := openTest(t)

	uri1, err := h.PutPolicy("pol-1", "hash-a", []byte(`{"cfg":1}`), map[string]string{"spec": "SPEC-KIT-001"})
	if err != nil {
		t.Fatal(err)
	}
	if uri1.String() != "mv2://ws-test/policy/pol-1" {
		t.Errorf("policy uri: %s", uri1)
	}

	// Same (policy_id, hash) is a no-op.
	uri2, err := h.PutPolicy("pol-1", "hash-a", []byte(`{"cfg":1}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if uri2.String() != uri1.String() {
		t.Errorf("idempotent put returned a different uri: %s", uri2)
	}

	// A new hash for the same id replaces the blob.
	if _, err := h.PutPolicy("pol-1", "hash-b", []byte(`{"cfg":2}`), nil); err != nil {
		t.Fatal(err)
	}
	data, err := h.GetBlob(uri1)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"cfg":2}` {
		t.Errorf("blob not replaced: %s", data)
	}
}

func TestGetBlob_Missing(t *testing.T) {
	h := openTest(t)
	if _, err := h.GetBlob(NewURI("ws-test", KindPolicy, "nope")); err == nil {
		t.Error("expected error for missing blob")
	}
}

func TestAppendAndListEvents(t *testing.T) {
	h := openTest(t)

	for i, stage := range []string{"specify", "plan", "tasks"} {
		if _, err := h.AppendEvent("StageComplete", "SPEC-KIT-001", "run-1", stage, map[string]int{"n": i}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.AppendEvent("StageComplete", "SPEC-KIT-002", "run-9", "plan", nil); err != nil {
		t.Fatal(err)
	}

	all, err := h.ListEvents()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 events, got %d", len(all))
	}
	// Total order by timestamp with write order breaking ties.
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp.Before(all[i-1].Timestamp) {
			t.Error("events out of order")
		}
	}

	run, err := h.EventsForRun("SPEC-KIT-001", "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(run) != 3 {
		t.Fatalf("expected 3 events for run-1, got %d", len(run))
	}
	if run[0].Stage != "specify" || run[2].Stage != "tasks" {
		t.Errorf("run events out of write order: %v, %v", run[0].Stage, run[2].Stage)
	}
}

// Sub-second timestamps must sort as times, not as trimmed strings:
// ".2Z" vs ".25Z" sorts backwards under RFC3339Nano, so the stored
// column carries a fixed-width fraction.
func TestListEvents_SubsecondTimestampOrder(t *testing.T) {
	h := openTest(t)

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rows := []struct {
		id string
		ts time.Time
	}{
		// Later event written first so insertion order cannot mask a bad sort.
		{"evt-later", base.Add(250 * time.Millisecond)},
		{"evt-earlier", base.Add(200 * time.Millisecond)},
	}
	for _, row := range rows {
		_, err := h.db.Exec(`
			INSERT INTO events (event_id, timestamp, event_type, spec_id, run_id, stage, payload)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			row.id, row.ts.Format(timestampLayout), "StageComplete", "SPEC-KIT-001", "run-1", "plan", "{}")
		if err != nil {
			t.Fatal(err)
		}
	}

	all, err := h.ListEvents()
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 events, got %d", len(all))
	}
	if all[0].EventID != "evt-earlier" || all[1].EventID != "evt-later" {
		t.Errorf("timestamp order violated: got %s before %s", all[0].EventID, all[1].EventID)
	}

	if got := base.Add(200 * time.Millisecond).Format(timestampLayout); got != "2026-03-01T10:00:00.200000000Z" {
		t.Errorf("timestamp layout not fixed width: %s", got)
	}
}

func TestEmitPolicySnapshotRef(t *testing.T) {
	h := openTest(t)

	uri, err := h.PutPolicy("pol-7", "hash-7", []byte(`{}`), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.EmitPolicySnapshotRef("SPEC-KIT-003", "run-2", "plan", uri, "pol-7", "hash-7"); err != nil {
		t.Fatal(err)
	}

	events, err := h.EventsForRun("SPEC-KIT-003", "run-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].EventType != EventTypePolicySnapshotRef {
		t.Fatalf("expected one PolicySnapshotRef, got %#v", events)
	}

	var payload PolicySnapshotRefPayload
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.PolicyID != "pol-7" || payload.PolicyHash != "hash-7" || payload.PolicyURI != uri.String() {
		t.Errorf("payload: %+v", payload)
	}
}

func TestCurrentPolicy_TransientAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capsule.db")

	h, err := Open(Config{Path: path, WorkspaceID: "ws-test"})
	if err != nil {
		t.Fatal(err)
	}
	if h.CurrentPolicy() != nil {
		t.Error("fresh handle must have no current policy")
	}
	h.SetCurrentPolicy(&PolicyInfo{PolicyID: "pol-1", Hash: "h", URI: "mv2://ws-test/policy/pol-1"})
	if h.CurrentPolicy() == nil {
		t.Error("slot should hold the set policy")
	}
	h.Close()

	reopened, err := Open(Config{Path: path, WorkspaceID: "ws-test"})
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()
	if reopened.CurrentPolicy() != nil {
		t.Error("current policy is in-memory only and must not survive reopen")
	}
}
