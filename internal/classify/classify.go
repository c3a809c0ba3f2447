// Package classify decides which review gates a change needs. The
// classifier is a pure function over change metadata: identical input gives
// identical output, including signal ordering.
package classify

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

// Class is the review tier a change falls into.
type Class string

const (
	ClassRoutine     Class = "routine"
	ClassSignificant Class = "significant"
	ClassMajor       Class = "major"
	ClassEmergency   Class = "emergency"
)

// Metadata describes one change under classification.
type Metadata struct {
	AffectedFiles     []string
	NewDependencies   []string
	SecurityScore     float64 // CVSS; 0 means not scored
	Description       string
	ModifiesPublicAPI bool
}

// Result is the classification outcome.
type Result struct {
	Class          Class
	Confidence     float64
	MatchedSignals []string
}

// InvalidMetadataError means there was nothing to classify.
type InvalidMetadataError struct {
	Reason string
}

func (e *InvalidMetadataError) Error() string { return "invalid change metadata: " + e.Reason }

const (
	majorThreshold       = 1.8
	significantThreshold = 0.8
	cvssEmergencyScore   = 7.0
	dependencyBonus      = 2.0
	publicAPIBonus       = 1.5
)

// exactFileScores match full file names. Dependency manifests and CI
// definitions score highest.
var exactFileScores = map[string]float64{
	"go.mod":           2.0,
	"go.sum":           2.0,
	"package.json":     2.0,
	"package-lock.json": 2.0,
	"cargo.toml":       2.0,
	"cargo.lock":       2.0,
	"requirements.txt": 2.0,
	"dockerfile":       1.8,
	"makefile":         1.2,
}

// suffixScores match file extensions; docs lowest, tests slightly below
// source.
var suffixScores = []struct {
	suffix string
	score  float64
}{
	{"_test.go", 0.9},
	{".test.ts", 0.9},
	{".spec.ts", 0.9},
	{".go", 1.0},
	{".rs", 1.0},
	{".py", 1.0},
	{".ts", 1.0},
	{".js", 1.0},
	{".java", 1.0},
	{".c", 1.0},
	{".cpp", 1.0},
	{".h", 1.0},
	{".sql", 1.5},
	{".yaml", 1.2},
	{".yml", 1.2},
	{".toml", 1.2},
	{".json", 1.0},
	{".sh", 1.2},
	{".md", 0.1},
	{".txt", 0.1},
	{".rst", 0.1},
	{".png", 0.0},
	{".svg", 0.0},
}

// keywordDeltas adjust the score from the change description.
var keywordDeltas = []struct {
	keyword string
	delta   float64
}{
	{"vulnerability", 2.0},
	{"security", 1.5},
	{"breaking", 1.5},
	{"migration", 1.0},
	{"hotfix", 1.0},
	{"refactor", 0.5},
	{"documentation", -0.3},
	{"comment", -0.3},
	{"typo", -0.5},
}

// scoreFile returns the base risk score for one path.
func scoreFile(path string) float64 {
	name := strings.ToLower(filepath.Base(path))
	if score, ok := exactFileScores[name]; ok {
		return score
	}
	if strings.Contains(strings.ToLower(path), ".github/workflows") {
		return 1.8
	}
	for _, entry := range suffixScores {
		if strings.HasSuffix(name, entry.suffix) {
			return entry.score
		}
	}
	return 0.5
}

// Classify maps change metadata to a class deterministically. A CVSS score
// above 7.0 short-circuits to Emergency with full confidence.
func Classify(meta Metadata) (Result, error) {
	if len(meta.AffectedFiles) == 0 && strings.TrimSpace(meta.Description) == "" {
		return Result{}, &InvalidMetadataError{Reason: "no affected files and no description"}
	}

	if meta.SecurityScore > cvssEmergencyScore {
		return Result{
			Class:          ClassEmergency,
			Confidence:     1.0,
			MatchedSignals: []string{fmt.Sprintf("cvss:%.1f", meta.SecurityScore)},
		}, nil
	}

	var signals []string
	var total float64

	// Sort a copy so signal order never depends on caller ordering.
	files := append([]string(nil), meta.AffectedFiles...)
	sort.Strings(files)
	for _, f := range files {
		score := scoreFile(f)
		total += score
		signals = append(signals, fmt.Sprintf("file:%s=%.1f", f, score))
	}

	if len(meta.NewDependencies) > 0 {
		total += dependencyBonus
		signals = append(signals, fmt.Sprintf("deps:+%d", len(meta.NewDependencies)))
	}
	if meta.ModifiesPublicAPI {
		total += publicAPIBonus
		signals = append(signals, "public_api")
	}

	desc := strings.ToLower(meta.Description)
	for _, entry := range keywordDeltas {
		if strings.Contains(desc, entry.keyword) {
			total += entry.delta
			signals = append(signals, "keyword:"+entry.keyword)
		}
	}

	divisor := float64(len(files))
	if divisor == 0 {
		divisor = 1
	}
	avg := total / divisor

	var class Class
	switch {
	case avg >= majorThreshold:
		class = ClassMajor
	case avg >= significantThreshold:
		class = ClassSignificant
	default:
		class = ClassRoutine
	}

	return Result{
		Class:          class,
		Confidence:     confidence(avg, len(signals)),
		MatchedSignals: signals,
	}, nil
}

// confidence scores how far the average sits from the nearest class
// boundary, clamped to [0.3, 0.95], plus a small bonus for signal count.
func confidence(avg float64, signalCount int) float64 {
	distMajor := avg - majorThreshold
	if distMajor < 0 {
		distMajor = -distMajor
	}
	distSignificant := avg - significantThreshold
	if distSignificant < 0 {
		distSignificant = -distSignificant
	}
	dist := distMajor
	if distSignificant < dist {
		dist = distSignificant
	}

	conf := dist
	if conf < 0.3 {
		conf = 0.3
	}
	if conf > 0.95 {
		conf = 0.95
	}

	bonus := 0.05 * float64(signalCount)
	if bonus > 0.2 {
		bonus = 0.2
	}
	conf += bonus
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
