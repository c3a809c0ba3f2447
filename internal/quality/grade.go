package quality

import (
	"regexp"
	"strings"
)

// Grade weights: completeness and testability carry the most.
const (
	weightCompleteness = 0.3
	weightClarity      = 0.2
	weightTestability  = 0.3
	weightConsistency  = 0.2
)

// GradeReport is the weighted quality score for one spec document set.
type GradeReport struct {
	Score        float64 `json:"score"` // 0..100
	Letter       string  `json:"letter"`
	Completeness float64 `json:"completeness"`
	Clarity      float64 `json:"clarity"`
	Testability  float64 `json:"testability"`
	Consistency  float64 `json:"consistency"`
	Issues       []Issue `json:"issues,omitempty"`
}

// requiredSections contribute completeness points when present as
// headings.
var requiredSections = []string{
	"overview",
	"requirements",
	"acceptance criteria",
	"scope",
	"risks",
}

// vagueTerms cost clarity points per distinct occurrence.
var vagueTerms = []string{
	"should probably",
	"as appropriate",
	"etc",
	"and so on",
	"somehow",
	"might",
	"maybe",
	"tbd",
	"fast enough",
	"user-friendly",
}

var measurablePattern = regexp.MustCompile(`\d+\s*(ms|s|sec|seconds|minutes|%|percent|mb|gb|kb|rps|qps|users?)`)

// GradeDocument scores a PRD-style document. consistencyIssues come from
// CheckConsistency over the document set; they feed the consistency
// component.
func GradeDocument(doc string, consistencyIssues []Issue) GradeReport {
	completeness := scoreCompleteness(doc)
	clarity := scoreClarity(doc)
	testability := scoreTestability(doc)
	consistency := scoreConsistency(consistencyIssues)

	score := weightCompleteness*completeness +
		weightClarity*clarity +
		weightTestability*testability +
		weightConsistency*consistency

	return GradeReport{
		Score:        score,
		Letter:       letterFor(score),
		Completeness: completeness,
		Clarity:      clarity,
		Testability:  testability,
		Consistency:  consistency,
		Issues:       consistencyIssues,
	}
}

func letterFor(score float64) string {
	switch {
	case score >= 90:
		return "A"
	case score >= 80:
		return "B"
	case score >= 70:
		return "C"
	case score >= 60:
		return "D"
	default:
		return "F"
	}
}

// scoreCompleteness awards points per required section present, on a
// 0..100 scale.
func scoreCompleteness(doc string) float64 {
	lower := strings.ToLower(doc)
	per := 100.0 / float64(len(requiredSections))
	var score float64
	for _, section := range requiredSections {
		if strings.Contains(lower, section) {
			score += per
		}
	}
	return score
}

// scoreClarity starts from 100 and charges for vague language and
// undefined shorthand.
func scoreClarity(doc string) float64 {
	lower := strings.ToLower(doc)
	score := 100.0
	for _, term := range vagueTerms {
		if strings.Contains(lower, term) {
			score -= 10
		}
	}

	// Uppercase acronyms used without a definition or glossary cost a
	// smaller penalty.
	if hasUndefinedTerms(doc) {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

var acronymPattern = regexp.MustCompile(`\b[A-Z]{3,}\b`)

func hasUndefinedTerms(doc string) bool {
	if strings.Contains(strings.ToLower(doc), "glossary") {
		return false
	}
	ignored := map[string]bool{"PRD": true, "API": true, "TBD": true}
	for _, acronym := range acronymPattern.FindAllString(doc, -1) {
		if !ignored[acronym] && !strings.Contains(doc, acronym+" (") {
			return true
		}
	}
	return false
}

// scoreTestability rewards acceptance-criteria coverage and measurable
// statements.
func scoreTestability(doc string) float64 {
	frCount := 0
	acCount := 0
	for _, id := range ExtractRequirementIDs(doc) {
		switch {
		case strings.HasPrefix(id, "AC-"):
			acCount++
		case strings.HasPrefix(id, "FR-"), strings.HasPrefix(id, "NFR-"), strings.HasPrefix(id, "R-"):
			frCount++
		}
	}

	var score float64
	if frCount == 0 {
		// Nothing to test against.
		return 0
	}

	// Up to 60 points for acceptance-criteria coverage.
	coverage := float64(acCount) / float64(frCount)
	if coverage > 1 {
		coverage = 1
	}
	score += 60 * coverage

	// Up to 40 points for measurable statements.
	measurable := len(measurablePattern.FindAllString(strings.ToLower(doc), -1))
	if measurable > 4 {
		measurable = 4
	}
	score += float64(measurable) * 10
	return score
}

// scoreConsistency converts the issue list into a 0..100 component.
func scoreConsistency(issues []Issue) float64 {
	score := 100.0
	for _, issue := range issues {
		switch issue.Severity {
		case SeverityCritical:
			score -= 25
		case SeverityImportant:
			score -= 10
		default:
			score -= 5
		}
	}
	if score < 0 {
		score = 0
	}
	return score
}
