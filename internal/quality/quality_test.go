package quality

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestExtractRequirementIDs(t *testing.T) {
	doc := "FR-001 must hold. See also NFR-002, AC-101 and R-003. FR-001 repeats. FR-12 is not an ID."
	got := ExtractRequirementIDs(doc)
	want := []string{"AC-101", "FR-001", "NFR-002", "R-003"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected %v, got %v", want, got)
			break
		}
	}
}

func issuesOfType(issues []Issue, typ string) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Type == typ {
			out = append(out, i)
		}
	}
	return out
}

func TestConsistency_MissingCoverage(t *testing.T) {
	issues := CheckConsistency(ConsistencyInput{
		PRD:  "FR-001: login must work.\nFR-002: sessions must persist.",
		Plan: "Implement FR-001 with cookie auth.",
	})

	missing := issuesOfType(issues, "missing_coverage")
	if len(missing) != 1 {
		t.Fatalf("expected exactly one missing_coverage issue, got %d: %#v", len(missing), issues)
	}
	if missing[0].Severity != SeverityCritical {
		t.Errorf("missing coverage must be critical, got %s", missing[0].Severity)
	}
	if len(missing[0].IDs) != 1 || missing[0].IDs[0] != "FR-002" {
		t.Errorf("expected FR-002 flagged, got %v", missing[0].IDs)
	}
}

func TestConsistency_IDMismatch(t *testing.T) {
	issues := CheckConsistency(ConsistencyInput{
		PRD:  "FR-001: login must work.\nFR-002: sessions must persist.",
		Plan: "Implement FR-001 and FR-002, plus FR-003 for SSO.",
	})

	mismatches := issuesOfType(issues, "id_mismatch")
	if len(mismatches) != 1 {
		t.Fatalf("expected exactly one id_mismatch, got %d: %#v", len(mismatches), issues)
	}
	if mismatches[0].Severity != SeverityImportant {
		t.Errorf("id mismatch must be important, got %s", mismatches[0].Severity)
	}
	if mismatches[0].IDs[0] != "FR-003" {
		t.Errorf("expected FR-003, got %v", mismatches[0].IDs)
	}
}

func TestConsistency_Contradiction(t *testing.T) {
	issues := CheckConsistency(ConsistencyInput{
		PRD:  "FR-001: export must be real-time.",
		Plan: "FR-001 will be handled by a nightly batch job.",
	})
	if len(issuesOfType(issues, "contradiction")) != 1 {
		t.Errorf("expected a real-time/batch contradiction: %#v", issues)
	}
}

func TestConsistency_ScopeCreep(t *testing.T) {
	issues := CheckConsistency(ConsistencyInput{
		PRD:  "FR-001: the one requirement.",
		Plan: "Covers FR-001 but also FR-010, FR-011 and FR-012.",
	})
	creep := issuesOfType(issues, "scope_creep")
	if len(creep) != 1 {
		t.Fatalf("expected scope creep with 3 of 4 plan IDs unknown: %#v", issues)
	}
	if len(creep[0].IDs) != 3 {
		t.Errorf("expected 3 unknown IDs, got %v", creep[0].IDs)
	}
}

func TestConsistency_VersionDrift(t *testing.T) {
	plan := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	issues := CheckConsistency(ConsistencyInput{
		PRD:         "FR-001",
		Plan:        "FR-001",
		PRDModTime:  plan.Add(2 * time.Minute),
		PlanModTime: plan,
	})
	if len(issuesOfType(issues, "version_drift")) != 1 {
		t.Errorf("PRD modified 2m after plan should drift: %#v", issues)
	}

	issues = CheckConsistency(ConsistencyInput{
		PRD:         "FR-001",
		Plan:        "FR-001",
		PRDModTime:  plan.Add(30 * time.Second),
		PlanModTime: plan,
	})
	if len(issuesOfType(issues, "version_drift")) != 0 {
		t.Errorf("30s delta is inside the window: %#v", issues)
	}
}

func TestConsistency_SortedBySeverity(t *testing.T) {
	issues := CheckConsistency(ConsistencyInput{
		PRD:  "FR-001: a.\nFR-002: b.",
		Plan: "FR-001 only, plus FR-009.",
	})
	for i := 1; i < len(issues); i++ {
		if severityRank(issues[i-1].Severity) > severityRank(issues[i].Severity) {
			t.Fatalf("issues not sorted by severity: %#v", issues)
		}
	}
}

const goodPRD = `# Overview
A complete feature with defined scope and risks.

## Requirements
FR-001: API responds within 200 ms for 95% of requests.
FR-002: store up to 10 GB per user.

## Acceptance Criteria
AC-001: load test shows 200 ms p95.
AC-002: upload of 10 GB succeeds.

## Scope
Only the storage path.

## Risks
Quota abuse.

## Glossary
PRD: product requirements document.
`

func TestGrade_WellFormedDocument(t *testing.T) {
	report := GradeDocument(goodPRD, nil)
	if report.Letter != "A" && report.Letter != "B" {
		t.Errorf("well-formed PRD should grade A or B, got %s (%.1f): %+v", report.Letter, report.Score, report)
	}
	if report.Completeness != 100 {
		t.Errorf("all sections present, completeness=%f", report.Completeness)
	}
}

func TestGrade_VagueDocumentScoresLower(t *testing.T) {
	vague := "# Overview\nIt should probably be fast enough, user-friendly, etc. Maybe TBD."
	good := GradeDocument(goodPRD, nil)
	bad := GradeDocument(vague, nil)
	if bad.Score >= good.Score {
		t.Errorf("vague doc (%.1f) must score below complete doc (%.1f)", bad.Score, good.Score)
	}
	if bad.Clarity >= good.Clarity {
		t.Errorf("vague language must cost clarity: %f vs %f", bad.Clarity, good.Clarity)
	}
}

func TestGrade_WeightsSumToScore(t *testing.T) {
	r := GradeDocument(goodPRD, nil)
	want := 0.3*r.Completeness + 0.2*r.Clarity + 0.3*r.Testability + 0.2*r.Consistency
	if diff := r.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("score %f != weighted sum %f", r.Score, want)
	}
}

func TestGrade_ConsistencyIssuesLowerScore(t *testing.T) {
	clean := GradeDocument(goodPRD, nil)
	dirty := GradeDocument(goodPRD, []Issue{
		{Type: "missing_coverage", Severity: SeverityCritical},
		{Type: "id_mismatch", Severity: SeverityImportant},
	})
	if dirty.Score >= clean.Score {
		t.Error("consistency issues must reduce the weighted score")
	}
}

func TestBuildChecklist(t *testing.T) {
	report := BuildChecklist(ConsistencyInput{
		PRD:  "FR-001: a.\nFR-002: b.",
		Plan: "FR-001 only, plus FR-009.",
	})
	if len(report.Items) == 0 {
		t.Fatal("expected checklist items")
	}
	for i, item := range report.Items {
		want := fmt.Sprintf("CHK-%03d", i+1)
		if item.ID != want {
			t.Errorf("item %d: expected id %s, got %s", i, want, item.ID)
		}
		if i > 0 && severityRank(report.Items[i-1].Severity) > severityRank(item.Severity) {
			t.Error("checklist must be sorted most severe first")
		}
	}
}

func TestCheckConsistency_Deterministic(t *testing.T) {
	in := ConsistencyInput{
		PRD:   "FR-001 must stream in real-time.\nFR-002: retention.\nFR-003: budgets.",
		Plan:  "FR-001 is batch. FR-004 and FR-005 are new here.",
		Tasks: "FR-001",
	}
	first := CheckConsistency(in)
	second := CheckConsistency(in)
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("same input produced different issues (-first +second):\n%s", diff)
	}
}
