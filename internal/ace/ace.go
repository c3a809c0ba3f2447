// Package ace decides when a run deserves a reflection pass, builds the
// reflection prompt, and persists the resulting frame as a versioned
// milestone artifact.
package ace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"codexkit/internal/logging"
)

// SchemaVersion tags persisted frames; inputs without a version are
// treated as current.
const SchemaVersion = "ace_frame@1.0"

// Large-diff thresholds; either one alone triggers reflection.
const (
	largeDiffFiles      = 5
	largeDiffInsertions = 200
)

// CaptureMode controls how much of a run is persisted.
type CaptureMode int

const (
	CaptureNone CaptureMode = iota
	CapturePromptsOnly
	CaptureFullIO
)

func (m CaptureMode) String() string {
	switch m {
	case CaptureNone:
		return "none"
	case CapturePromptsOnly:
		return "prompts_only"
	case CaptureFullIO:
		return "full_io"
	default:
		return fmt.Sprintf("capture(%d)", int(m))
	}
}

// DiffStat summarises the change a run produced.
type DiffStat struct {
	FilesChanged int `json:"files_changed"`
	Insertions   int `json:"insertions"`
	Deletions    int `json:"deletions"`
}

// ExecutionFeedback is the raw signal a finished run reports.
type ExecutionFeedback struct {
	CompileOK    bool      `json:"compile_ok"`
	TestsPassed  bool      `json:"tests_passed"`
	LintIssues   int       `json:"lint_issues"`
	FailingTests []string  `json:"failing_tests,omitempty"`
	StackTraces  []string  `json:"stack_traces,omitempty"`
	DiffStat     *DiffStat `json:"diff_stat,omitempty"`
}

// PatternKind classifies a reflected pattern.
type PatternKind string

const (
	PatternHelpful PatternKind = "helpful"
	PatternHarmful PatternKind = "harmful"
	PatternNeutral PatternKind = "neutral"
)

// ReflectedPattern is one reusable lesson extracted from a run.
type ReflectedPattern struct {
	Text       string      `json:"text"`
	Rationale  string      `json:"rationale"`
	Kind       PatternKind `json:"kind"`
	Confidence float64     `json:"confidence"` // 0.0-1.0
	Scope      string      `json:"scope"`      // global, specify, tasks, implement, test
}

// ReflectionResult is the structured answer the reflection prompt asks
// the model to produce. The arrays are always present in persisted
// frames, empty rather than absent.
type ReflectionResult struct {
	SchemaVersion   string             `json:"schema_version"`
	Patterns        []ReflectedPattern `json:"patterns"`
	Successes       []string           `json:"successes"`
	Failures        []string           `json:"failures"`
	Recommendations []string           `json:"recommendations"`
	Summary         string             `json:"summary"`
}

// ShouldReflect reports whether the feedback warrants a reflection pass:
// any failure, any lint issue, or a large diff.
func ShouldReflect(fb ExecutionFeedback) bool {
	if !fb.CompileOK || !fb.TestsPassed {
		return true
	}
	if fb.LintIssues > 0 {
		return true
	}
	if len(fb.FailingTests) > 0 || len(fb.StackTraces) > 0 {
		return true
	}
	if ds := fb.DiffStat; ds != nil {
		if ds.FilesChanged > largeDiffFiles || ds.Insertions > largeDiffInsertions {
			return true
		}
	}
	return false
}

// BuildReflectionPrompt renders a deterministic prompt for the feedback:
// identical input produces byte-identical output.
func BuildReflectionPrompt(specID string, fb ExecutionFeedback) string {
	var b strings.Builder
	b.WriteString("Reflect on the execution outcome for " + specID + ".\n\n")
	fmt.Fprintf(&b, "compile_ok: %v\n", fb.CompileOK)
	fmt.Fprintf(&b, "tests_passed: %v\n", fb.TestsPassed)
	fmt.Fprintf(&b, "lint_issues: %d\n", fb.LintIssues)

	if len(fb.FailingTests) > 0 {
		names := append([]string(nil), fb.FailingTests...)
		sort.Strings(names)
		b.WriteString("failing_tests:\n")
		for _, n := range names {
			b.WriteString("  - " + n + "\n")
		}
	}
	if len(fb.StackTraces) > 0 {
		b.WriteString("stack_traces:\n")
		for _, tr := range fb.StackTraces {
			b.WriteString("  ---\n  " + strings.ReplaceAll(strings.TrimSpace(tr), "\n", "\n  ") + "\n")
		}
	}
	if ds := fb.DiffStat; ds != nil {
		fmt.Fprintf(&b, "diff: %d files, +%d/-%d\n", ds.FilesChanged, ds.Insertions, ds.Deletions)
	}

	b.WriteString("\nExtract 1-5 reusable patterns. Respond with JSON only, matching this shape:\n")
	b.WriteString(`{"schema_version":"` + SchemaVersion + `",` +
		`"patterns":[{"text":"...","rationale":"...","kind":"helpful|harmful|neutral","confidence":0.9,"scope":"global|specify|tasks|implement|test"}],` +
		`"successes":[],"failures":[],"recommendations":[],"summary":"..."}` + "\n")
	return b.String()
}

// ParseReflectionResult decodes a model answer. An absent schema_version
// defaults to the current version; a different version is rejected.
func ParseReflectionResult(data []byte) (*ReflectionResult, error) {
	var res ReflectionResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decoding reflection result: %w", err)
	}
	if res.SchemaVersion == "" {
		res.SchemaVersion = SchemaVersion
	}
	if res.SchemaVersion != SchemaVersion {
		return nil, fmt.Errorf("unsupported reflection schema %q", res.SchemaVersion)
	}
	return &res, nil
}

// timeNow is swapped in tests for stable milestone names.
var timeNow = time.Now

// PersistACEFrame writes the result as ace_milestone_<ts>.json under the
// evidence directory for the SPEC. CaptureNone keeps the frame in memory
// only and returns an empty path.
func PersistACEFrame(specID string, result *ReflectionResult, mode CaptureMode, evidenceDir string) (string, error) {
	if mode == CaptureNone {
		return "", nil
	}
	if result.SchemaVersion == "" {
		result.SchemaVersion = SchemaVersion
	}
	// Frames carry every array, even when empty.
	if result.Patterns == nil {
		result.Patterns = []ReflectedPattern{}
	}
	if result.Successes == nil {
		result.Successes = []string{}
	}
	if result.Failures == nil {
		result.Failures = []string{}
	}
	if result.Recommendations == nil {
		result.Recommendations = []string{}
	}

	dir := filepath.Join(evidenceDir, specID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating evidence dir: %w", err)
	}
	name := fmt.Sprintf("ace_milestone_%s.json", timeNow().UTC().Format("20060102_150405"))
	path := filepath.Join(dir, name)

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing ace frame: %w", err)
	}
	logging.Reflect("persisted ace frame %s (mode=%s)", path, mode)
	return path, nil
}
