package pipeline

import (
	"context"
	"fmt"

	"codexkit/internal/app"
	"codexkit/internal/capsule"
	"codexkit/internal/cost"
	"codexkit/internal/logging"
	"codexkit/internal/policy"
	"codexkit/internal/router"
	"codexkit/internal/stream"
)

// StageClient produces one model turn for a stage; the streaming clients
// and the PTY provider both satisfy it through thin adapters.
type StageClient interface {
	Stream(ctx context.Context, model string, msgs []stream.Message) (*stream.Stream, error)
}

// Runner executes pipeline stages for one SPEC, wiring drift detection,
// routing, cost tracking, and provenance around each model call.
type Runner struct {
	cfg       *Config
	runID     string
	handle    *capsule.Handle
	policies  *policy.Manager
	tracker   *cost.Tracker
	router    *router.Router
	clients   map[router.Provider]StageClient
	sink      app.EventSink
	policyCfg interface{}
}

// RunnerOptions collects the collaborators; all are required except the
// event sink, which defaults to a no-op.
type RunnerOptions struct {
	Config    *Config
	RunID     string
	Handle    *capsule.Handle
	Policies  *policy.Manager
	Tracker   *cost.Tracker
	Router    *router.Router
	Clients   map[router.Provider]StageClient
	Sink      app.EventSink
	PolicyCfg interface{}
}

func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("runner needs a pipeline config")
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	sink := opts.Sink
	if sink == nil {
		sink = app.SinkFunc(func(app.Event) {})
	}
	return &Runner{
		cfg:       opts.Config,
		runID:     opts.RunID,
		handle:    opts.Handle,
		policies:  opts.Policies,
		tracker:   opts.Tracker,
		router:    opts.Router,
		clients:   opts.Clients,
		sink:      sink,
		policyCfg: opts.PolicyCfg,
	}, nil
}

// StageResult is the outcome of one stage invocation.
type StageResult struct {
	Stage  Stage
	Model  string
	Output string
	Usage  stream.Usage
	Cost   float64
}

// RunStage executes one stage turn: recapture policy on drift, route the
// stage's first slot, stream the response, record cost, and append stage
// events to the capsule.
func (r *Runner) RunStage(ctx context.Context, stage Stage, msgs []stream.Message) (*StageResult, error) {
	if !r.cfg.Enabled[stage] {
		return nil, fmt.Errorf("stage %s is disabled", stage)
	}
	if r.tracker.Exceeded(r.cfg.SpecID) {
		return nil, fmt.Errorf("budget exceeded for %s; reset before running more stages", r.cfg.SpecID)
	}

	if r.policies != nil && r.policyCfg != nil {
		if _, err := r.policies.CheckAndRecaptureIfChanged(r.policyCfg, r.cfg.SpecID, r.runID, string(stage)); err != nil {
			return nil, fmt.Errorf("policy drift check: %w", err)
		}
	}

	slot := r.cfg.Assignments[stage][0]
	decision, err := r.router.Route(slot.Model)
	if err != nil {
		return nil, err
	}
	client, ok := r.clients[decision.Provider]
	if !ok {
		return nil, fmt.Errorf("no client wired for provider %s", decision.Provider)
	}
	logging.Pipeline("stage %s: model %s via %s/%s", stage, slot.Model, decision.Provider, decision.Path)

	r.appendStageEvent("StageStarted", stage, map[string]interface{}{
		"model": slot.Model, "path": string(decision.Path),
	})

	s, err := client.Stream(ctx, slot.Model, msgs)
	if err != nil {
		r.appendStageEvent("StageFailed", stage, map[string]interface{}{"error": err.Error()})
		return nil, err
	}
	output, usage, err := stream.Collect(ctx, s)
	if err != nil {
		r.appendStageEvent("StageFailed", stage, map[string]interface{}{"error": err.Error()})
		return nil, err
	}

	result := &StageResult{Stage: stage, Model: slot.Model, Output: output}
	if usage != nil {
		result.Usage = *usage
		spent, alert := r.tracker.RecordCall(r.cfg.SpecID, string(stage), slot.Model, usage.InputTokens, usage.OutputTokens)
		result.Cost = spent
		if alert != nil {
			r.sink.Emit(app.BudgetAlertRaised{
				SpecID: alert.SpecID,
				Level:  string(alert.Level),
				Spent:  alert.Spent,
				Budget: alert.Budget,
			})
		}
	}

	r.appendStageEvent("StageCompleted", stage, map[string]interface{}{
		"model": slot.Model, "cost": result.Cost,
	})
	return result, nil
}

func (r *Runner) appendStageEvent(eventType string, stage Stage, payload map[string]interface{}) {
	if r.handle == nil {
		return
	}
	if _, err := r.handle.AppendEvent(eventType, r.cfg.SpecID, r.runID, string(stage), payload); err != nil {
		logging.PipelineError("appending %s event: %v", eventType, err)
	}
}
