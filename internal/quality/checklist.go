package quality

import (
	"fmt"
	"sort"
)

// ChecklistItem is one gated finding with a stable CHK-NNN identifier.
type ChecklistItem struct {
	ID       string   `json:"id"`
	Severity Severity `json:"severity"`
	Type     string   `json:"type"`
	Message  string   `json:"message"`
}

// ChecklistReport wraps the grade and consistency results into the
// reviewer-facing checklist.
type ChecklistReport struct {
	Grade GradeReport     `json:"grade"`
	Items []ChecklistItem `json:"items"`
}

// BuildChecklist runs the consistency checker and grader over a document
// set and numbers the findings, most severe first.
func BuildChecklist(in ConsistencyInput) ChecklistReport {
	issues := CheckConsistency(in)
	grade := GradeDocument(in.PRD, issues)

	all := append([]Issue(nil), issues...)
	if grade.Letter == "D" || grade.Letter == "F" {
		all = append(all, Issue{
			Type:     "low_quality_grade",
			Severity: SeverityImportant,
			Message:  fmt.Sprintf("document grade %s (%.0f/100) is below the acceptance bar", grade.Letter, grade.Score),
		})
	}

	sort.SliceStable(all, func(i, j int) bool {
		return severityRank(all[i].Severity) < severityRank(all[j].Severity)
	})

	items := make([]ChecklistItem, len(all))
	for i, issue := range all {
		items[i] = ChecklistItem{
			ID:       fmt.Sprintf("CHK-%03d", i+1),
			Severity: issue.Severity,
			Type:     issue.Type,
			Message:  issue.Message,
		}
	}
	return ChecklistReport{Grade: grade, Items: items}
}
