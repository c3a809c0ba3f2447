package ace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func cleanRun() ExecutionFeedback {
	return ExecutionFeedback{CompileOK: true, TestsPassed: true}
}

func TestShouldReflect(t *testing.T) {
	cases := []struct {
		name string
		fb   ExecutionFeedback
		want bool
	}{
		{"clean run", cleanRun(), false},
		{"compile failure", ExecutionFeedback{CompileOK: false, TestsPassed: true}, true},
		{"test failure", ExecutionFeedback{CompileOK: true, TestsPassed: false}, true},
		{"lint issue", ExecutionFeedback{CompileOK: true, TestsPassed: true, LintIssues: 1}, true},
		{"failing test names", ExecutionFeedback{CompileOK: true, TestsPassed: true, FailingTests: []string{"TestX"}}, true},
		{"small diff", func() ExecutionFeedback {
			fb := cleanRun()
			fb.DiffStat = &DiffStat{FilesChanged: 5, Insertions: 200}
			return fb
		}(), false},
		{"many files", func() ExecutionFeedback {
			fb := cleanRun()
			fb.DiffStat = &DiffStat{FilesChanged: 6, Insertions: 10}
			return fb
		}(), true},
		{"many insertions", func() ExecutionFeedback {
			fb := cleanRun()
			fb.DiffStat = &DiffStat{FilesChanged: 2, Insertions: 201}
			return fb
		}(), true},
	}
	for _, c := range cases {
		if got := ShouldReflect(c.fb); got != c.want {
			t.Errorf("%s: ShouldReflect = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestBuildReflectionPrompt_Deterministic(t *testing.T) {
	fb := ExecutionFeedback{
		CompileOK:    true,
		TestsPassed:  false,
		LintIssues:   2,
		FailingTests: []string{"TestZebra", "TestAlpha"},
		DiffStat:     &DiffStat{FilesChanged: 3, Insertions: 40, Deletions: 12},
	}
	a := BuildReflectionPrompt("SPEC-KIT-042", fb)
	b := BuildReflectionPrompt("SPEC-KIT-042", fb)
	if a != b {
		t.Fatal("prompt not deterministic for identical input")
	}
	if !strings.Contains(a, "SPEC-KIT-042") {
		t.Error("prompt missing spec id")
	}
	// Failing tests are normalised to sorted order.
	if strings.Index(a, "TestAlpha") > strings.Index(a, "TestZebra") {
		t.Error("failing tests not sorted")
	}
	if !strings.Contains(a, SchemaVersion) {
		t.Error("prompt missing response schema version")
	}
}

func TestParseReflectionResult_VersionDefaulting(t *testing.T) {
	res, err := ParseReflectionResult([]byte(`{"summary":"ok"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if res.SchemaVersion != SchemaVersion {
		t.Errorf("version = %q, want defaulted %q", res.SchemaVersion, SchemaVersion)
	}

	if _, err := ParseReflectionResult([]byte(`{"schema_version":"ace_frame@9.9","summary":"x"}`)); err == nil {
		t.Error("foreign schema version accepted")
	}
	if _, err := ParseReflectionResult([]byte(`not json`)); err == nil {
		t.Error("malformed input accepted")
	}
}

func TestPersistACEFrame(t *testing.T) {
	orig := timeNow
	timeNow = func() time.Time { return time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC) }
	defer func() { timeNow = orig }()

	dir := t.TempDir()
	result := &ReflectionResult{
		Summary:  "tests regressed",
		Failures: []string{"suite not run before large merge"},
		Patterns: []ReflectedPattern{{
			Text:       "Run the full suite before merging large diffs",
			Rationale:  "Regressions surfaced only after merge",
			Kind:       PatternHarmful,
			Confidence: 0.8,
			Scope:      "test",
		}},
	}

	path, err := PersistACEFrame("SPEC-KIT-007", result, CapturePromptsOnly, dir)
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	want := filepath.Join(dir, "SPEC-KIT-007", "ace_milestone_20260314_092653.json")
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var back ReflectionResult
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.SchemaVersion != SchemaVersion {
		t.Errorf("persisted version = %q", back.SchemaVersion)
	}
	if back.Summary != "tests regressed" {
		t.Errorf("summary = %q", back.Summary)
	}
	if len(back.Patterns) != 1 || back.Patterns[0].Kind != PatternHarmful {
		t.Errorf("patterns = %+v", back.Patterns)
	}
}

// Frames always carry the full field set, empty arrays included.
func TestPersistACEFrame_AllArraysPresent(t *testing.T) {
	dir := t.TempDir()
	path, err := PersistACEFrame("SPEC-KIT-009", &ReflectionResult{Summary: "s"}, CapturePromptsOnly, dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"schema_version", "patterns", "successes", "failures", "recommendations", "summary"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("frame missing %q", key)
		}
	}
	for _, key := range []string{"patterns", "successes", "failures", "recommendations"} {
		if string(raw[key]) == "null" {
			t.Errorf("%s is null, want empty array", key)
		}
	}
}

func TestPersistACEFrame_NoneStaysInMemory(t *testing.T) {
	dir := t.TempDir()
	path, err := PersistACEFrame("SPEC-KIT-008", &ReflectionResult{Summary: "x"}, CaptureNone, dir)
	if err != nil {
		t.Fatal(err)
	}
	if path != "" {
		t.Errorf("path = %q, want empty for CaptureNone", path)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("evidence dir written in CaptureNone mode: %v", entries)
	}
}
