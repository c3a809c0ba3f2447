// Package cost tracks per-SPEC spend against budgets, fires tiered alerts,
// and writes cost summaries into the evidence tree.
package cost

import "strings"

// ModelPricing is the per-million-token rate pair for one model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// conservativeDefault is used for unknown models so a typo never
// under-counts spend.
var conservativeDefault = ModelPricing{InputPerMillion: 15.0, OutputPerMillion: 75.0}

// pricingTable maps model-name substrings to rates. First match wins, so
// more specific entries come first.
var pricingTable = []struct {
	match   string
	pricing ModelPricing
}{
	{"opus", ModelPricing{15.0, 75.0}},
	{"sonnet", ModelPricing{3.0, 15.0}},
	{"haiku", ModelPricing{1.0, 5.0}},
	{"gpt-5-mini", ModelPricing{0.25, 2.0}},
	{"gpt-5-nano", ModelPricing{0.05, 0.4}},
	{"gpt-5", ModelPricing{1.25, 10.0}},
	{"gpt-4o", ModelPricing{2.5, 10.0}},
	{"o3", ModelPricing{2.0, 8.0}},
	{"o4-mini", ModelPricing{1.1, 4.4}},
	{"codex", ModelPricing{1.5, 6.0}},
	{"gemini-2.5-pro", ModelPricing{1.25, 10.0}},
	{"gemini-2.5-flash", ModelPricing{0.3, 2.5}},
	{"gemini", ModelPricing{1.25, 10.0}},
}

// PricingForModel returns the rates for a model name, falling back to the
// conservative expensive default for unknown models.
func PricingForModel(model string) ModelPricing {
	m := strings.ToLower(model)
	for _, entry := range pricingTable {
		if strings.Contains(m, entry.match) {
			return entry.pricing
		}
	}
	return conservativeDefault
}

// Calculate returns the dollar cost of a call at these rates.
func (p ModelPricing) Calculate(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*p.InputPerMillion +
		float64(outputTokens)/1e6*p.OutputPerMillion
}

// Complexity classifies a command by how much model work it implies; it
// drives the default budget multiplier.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityMedium   Complexity = "medium"
	ComplexityComplex  Complexity = "complex"
	ComplexityCritical Complexity = "critical"
)

// BudgetMultiplier scales the base budget for a command of this complexity.
func (c Complexity) BudgetMultiplier() float64 {
	switch c {
	case ComplexitySimple:
		return 0.1
	case ComplexityMedium:
		return 0.2
	case ComplexityComplex:
		return 0.5
	case ComplexityCritical:
		return 1.5
	}
	return 0.2
}

// commandComplexity maps spec-kit verbs to their complexity class.
var commandComplexity = map[string]Complexity{
	"status":    ComplexitySimple,
	"clarify":   ComplexitySimple,
	"checklist": ComplexitySimple,
	"new":       ComplexityMedium,
	"specify":   ComplexityMedium,
	"plan":      ComplexityMedium,
	"tasks":     ComplexityMedium,
	"analyze":   ComplexityMedium,
	"implement": ComplexityComplex,
	"validate":  ComplexityComplex,
	"audit":     ComplexityComplex,
	"auto":      ComplexityCritical,
	"unlock":    ComplexityCritical,
}

// ClassifyCommand returns the complexity of a spec-kit command name,
// defaulting to medium.
func ClassifyCommand(name string) Complexity {
	name = strings.TrimPrefix(strings.ToLower(name), "speckit.")
	if c, ok := commandComplexity[name]; ok {
		return c
	}
	return ComplexityMedium
}
