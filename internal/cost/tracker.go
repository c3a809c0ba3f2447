package cost

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"codexkit/internal/logging"
)

// AlertLevel is a budget-threshold crossing.
type AlertLevel string

const (
	AlertWarning  AlertLevel = "warning"  // 80% of budget
	AlertCritical AlertLevel = "critical" // 90% of budget
	AlertExceeded AlertLevel = "exceeded" // 100% of budget
)

// Alert is emitted when a SPEC's spend crosses a threshold. Alerts are
// events for the UI, not errors; each level fires once per tracker.
type Alert struct {
	SpecID string
	Level  AlertLevel
	Spent  float64
	Budget float64
}

// CostSummary is the reader-facing clone of one SPEC's tracker.
type CostSummary struct {
	SpecID      string             `json:"spec_id"`
	Budget      float64            `json:"budget"`
	Spent       float64            `json:"spent"`
	PerStage    map[string]float64 `json:"per_stage"`
	PerModel    map[string]float64 `json:"per_model"`
	CallCount   int                `json:"call_count"`
	StartedAt   time.Time          `json:"started_at"`
	LastUpdated time.Time          `json:"last_updated"`
	StageNotes  map[string]string  `json:"stage_notes,omitempty"`
}

// specTracker is the mutable per-SPEC state. spent always equals the sum of
// perStage and the sum of perModel.
type specTracker struct {
	budget      float64
	spent       float64
	perStage    map[string]float64
	perModel    map[string]float64
	callCount   int
	startedAt   time.Time
	lastUpdated time.Time
	stageNotes  map[string]string
	fired       map[AlertLevel]bool
}

// Tracker accumulates spend per SPEC. All entries live behind one mutex;
// readers get cloned summaries.
type Tracker struct {
	mu    sync.Mutex
	specs map[string]*specTracker
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{specs: make(map[string]*specTracker)}
}

func (t *Tracker) specLocked(specID string) *specTracker {
	st, ok := t.specs[specID]
	if !ok {
		st = &specTracker{
			perStage:   make(map[string]float64),
			perModel:   make(map[string]float64),
			stageNotes: make(map[string]string),
			fired:      make(map[AlertLevel]bool),
			startedAt:  time.Now().UTC(),
		}
		t.specs[specID] = st
	}
	return st
}

// SetBudget sets (or replaces) the budget for a SPEC.
func (t *Tracker) SetBudget(specID string, budget float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specLocked(specID).budget = budget
}

// Reset drops a SPEC's tracker entirely, clearing sticky alerts.
func (t *Tracker) Reset(specID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.specs, specID)
}

// RecordCall charges one model call to a SPEC and stage. It returns the
// call's cost and, when the new spend crosses an unfired threshold, the
// highest newly-reached alert.
func (t *Tracker) RecordCall(specID, stage, model string, inputTokens, outputTokens int64) (float64, *Alert) {
	callCost := PricingForModel(model).Calculate(inputTokens, outputTokens)

	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.specLocked(specID)
	st.spent += callCost
	st.perStage[stage] += callCost
	st.perModel[model] += callCost
	st.callCount++
	st.lastUpdated = time.Now().UTC()

	logging.CostDebug("%s/%s %s: in=%d out=%d cost=%.4f spent=%.4f",
		specID, stage, model, inputTokens, outputTokens, callCost, st.spent)

	if st.budget <= 0 {
		return callCost, nil
	}

	ratio := st.spent / st.budget
	var level AlertLevel
	switch {
	case ratio >= 1.0 && !st.fired[AlertExceeded]:
		level = AlertExceeded
	case ratio >= 0.9 && !st.fired[AlertCritical] && !st.fired[AlertExceeded]:
		level = AlertCritical
	case ratio >= 0.8 && !st.fired[AlertWarning] && !st.fired[AlertCritical] && !st.fired[AlertExceeded]:
		level = AlertWarning
	default:
		return callCost, nil
	}
	st.fired[level] = true

	logging.Cost("%s budget alert %s: spent %.4f of %.4f", specID, level, st.spent, st.budget)
	return callCost, &Alert{SpecID: specID, Level: level, Spent: st.spent, Budget: st.budget}
}

// Exceeded reports whether the SPEC has ever crossed its full budget.
// Sticky for the life of the tracker.
func (t *Tracker) Exceeded(specID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.specs[specID]
	return ok && st.fired[AlertExceeded]
}

// AddStageNote attaches a routing note for a stage, carried into the
// written summary.
func (t *Tracker) AddStageNote(specID, stage, note string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.specLocked(specID).stageNotes[stage] = note
}

// Summary returns a cloned snapshot of one SPEC's spend.
func (t *Tracker) Summary(specID string) CostSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.specLocked(specID)
	out := CostSummary{
		SpecID:      specID,
		Budget:      st.budget,
		Spent:       st.spent,
		PerStage:    make(map[string]float64, len(st.perStage)),
		PerModel:    make(map[string]float64, len(st.perModel)),
		CallCount:   st.callCount,
		StartedAt:   st.startedAt,
		LastUpdated: st.lastUpdated,
		StageNotes:  make(map[string]string, len(st.stageNotes)),
	}
	for k, v := range st.perStage {
		out.PerStage[k] = v
	}
	for k, v := range st.perModel {
		out.PerModel[k] = v
	}
	for k, v := range st.stageNotes {
		out.StageNotes[k] = v
	}
	return out
}

// WriteSummary writes `<spec_id>_cost_summary.json` under the evidence
// directory and returns the path.
func (t *Tracker) WriteSummary(specID, evidenceDir string) (string, error) {
	summary := t.Summary(specID)

	if err := os.MkdirAll(evidenceDir, 0o755); err != nil {
		return "", fmt.Errorf("creating evidence dir: %w", err)
	}
	path := filepath.Join(evidenceDir, specID+"_cost_summary.json")

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshaling cost summary: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing cost summary: %w", err)
	}
	logging.Cost("wrote cost summary for %s: %s", specID, path)
	return path, nil
}
