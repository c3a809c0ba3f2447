// Package quality implements the deterministic document scorers that run on
// stage artifacts instead of an LLM: cross-document consistency, a weighted
// quality grade, and a checklist wrapper.
package quality

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Severity ranks an issue.
type Severity string

const (
	SeverityCritical  Severity = "critical"
	SeverityImportant Severity = "important"
	SeverityMinor     Severity = "minor"
)

// severityRank orders severities for sorting, most severe first.
func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityImportant:
		return 1
	default:
		return 2
	}
}

// Issue is one structured finding.
type Issue struct {
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	IDs      []string `json:"ids,omitempty"`
}

// requirementID matches FR-001, NFR-012, R-003, AC-101 style identifiers.
var requirementID = regexp.MustCompile(`\b(FR|NFR|R|AC)-\d{3}\b`)

// ExtractRequirementIDs returns the sorted unique requirement IDs in a
// document.
func ExtractRequirementIDs(doc string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, id := range requirementID.FindAllString(doc, -1) {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// ConsistencyInput carries the three stage documents and their mtimes.
type ConsistencyInput struct {
	PRD   string
	Plan  string
	Tasks string

	PRDModTime  time.Time
	PlanModTime time.Time
}

// contradictionPairs are modality conflicts between how the PRD and the
// plan talk about the same requirement.
var contradictionPairs = [][2]string{
	{"must", "optional"},
	{"real-time", "batch"},
}

const scopeCreepFraction = 0.20

// versionDriftWindow is the mtime delta past which the PRD is considered
// newer than the plan derived from it.
const versionDriftWindow = 60 * time.Second

// CheckConsistency cross-references PRD, plan and tasks and returns
// structured issues sorted by severity.
func CheckConsistency(in ConsistencyInput) []Issue {
	var issues []Issue

	prdIDs := ExtractRequirementIDs(in.PRD)
	planIDs := ExtractRequirementIDs(in.Plan)
	taskIDs := ExtractRequirementIDs(in.Tasks)

	prdSet := toSet(prdIDs)
	planSet := toSet(planIDs)

	// PRD requirements with no trace in the plan.
	for _, id := range prdIDs {
		if !planSet[id] {
			issues = append(issues, Issue{
				Type:     "missing_coverage",
				Severity: SeverityCritical,
				Message:  fmt.Sprintf("%s is defined in PRD.md but never addressed in plan.md", id),
				IDs:      []string{id},
			})
		}
	}

	// Plan references to requirements the PRD never defined.
	var unknownInPlan []string
	for _, id := range planIDs {
		if !prdSet[id] {
			unknownInPlan = append(unknownInPlan, id)
			issues = append(issues, Issue{
				Type:     "id_mismatch",
				Severity: SeverityImportant,
				Message:  fmt.Sprintf("%s is referenced in plan.md but not defined in PRD.md", id),
				IDs:      []string{id},
			})
		}
	}

	// Tasks referencing requirements nobody defined.
	for _, id := range taskIDs {
		if !prdSet[id] && !planSet[id] {
			issues = append(issues, Issue{
				Type:     "orphan_task",
				Severity: SeverityImportant,
				Message:  fmt.Sprintf("%s appears in tasks.md but in neither PRD.md nor plan.md", id),
				IDs:      []string{id},
			})
		}
	}

	// Modality contradictions on shared requirements.
	prdLines := linesByID(in.PRD)
	planLines := linesByID(in.Plan)
	for _, id := range prdIDs {
		p, ok1 := prdLines[id]
		q, ok2 := planLines[id]
		if !ok1 || !ok2 {
			continue
		}
		for _, pair := range contradictionPairs {
			if (strings.Contains(p, pair[0]) && strings.Contains(q, pair[1])) ||
				(strings.Contains(p, pair[1]) && strings.Contains(q, pair[0])) {
				issues = append(issues, Issue{
					Type:     "contradiction",
					Severity: SeverityCritical,
					Message:  fmt.Sprintf("%s: PRD.md and plan.md disagree (%s vs %s)", id, pair[0], pair[1]),
					IDs:      []string{id},
				})
			}
		}
	}

	// More than a fifth of the plan tracing to nothing is scope creep, not
	// a stray typo.
	if len(planIDs) > 0 && float64(len(unknownInPlan))/float64(len(planIDs)) > scopeCreepFraction {
		issues = append(issues, Issue{
			Type:     "scope_creep",
			Severity: SeverityImportant,
			Message: fmt.Sprintf("%d of %d plan requirements have no PRD counterpart",
				len(unknownInPlan), len(planIDs)),
			IDs: unknownInPlan,
		})
	}

	// The PRD moving well after the plan means the plan is stale.
	if !in.PRDModTime.IsZero() && !in.PlanModTime.IsZero() &&
		in.PRDModTime.Sub(in.PlanModTime) > versionDriftWindow {
		issues = append(issues, Issue{
			Type:     "version_drift",
			Severity: SeverityMinor,
			Message:  "PRD.md was modified after plan.md; the plan may be stale",
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return severityRank(issues[i].Severity) < severityRank(issues[j].Severity)
	})
	return issues
}

func toSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

// linesByID maps each requirement ID to the lowercased line it first
// appears on.
func linesByID(doc string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(doc, "\n") {
		for _, id := range requirementID.FindAllString(line, -1) {
			if _, ok := out[id]; !ok {
				out[id] = strings.ToLower(line)
			}
		}
	}
	return out
}
