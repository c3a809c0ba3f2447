// Package app defines the event boundary between the core and the UI.
// The core never draws; it sends events through an EventSink and the UI
// decides how to render them.
package app

// Event is a marker for everything the core can send to the UI.
type Event interface {
	isAppEvent()
}

// EventSink receives core events. The terminal UI implements this; tests
// use a recording sink.
type EventSink interface {
	Emit(Event)
}

// CellKind distinguishes history cells visually.
type CellKind int

const (
	CellSuccess CellKind = iota
	CellError
	CellNotice
)

// InsertHistoryCell appends one cell to the conversation transcript.
type InsertHistoryCell struct {
	Kind CellKind
	Text string
}

// CodexOp forwards an operation to the session backend.
type CodexOp struct {
	Op      string
	Payload interface{}
}

// RunReviewCommand asks the UI to start a review flow for the given spec.
type RunReviewCommand struct {
	SpecID string
}

// JumpBack rewinds the conversation past Nth user turns.
type JumpBack struct {
	Nth int
}

// DeviceCodeLoginStart tells the UI to display a device-code login.
type DeviceCodeLoginStart struct {
	Provider        string
	VerificationURL string
	UserCode        string
}

// PipelineConfigurationSaved reports a successful configurator save.
type PipelineConfigurationSaved struct {
	SpecID string
	Path   string
}

// PipelineConfigurationCancelled reports an abandoned configurator.
type PipelineConfigurationCancelled struct {
	SpecID string
}

// PipelineConfigurationError keeps the configurator modal open with a
// user-facing save failure.
type PipelineConfigurationError struct {
	SpecID string
	Err    error
}

// ShowUndoOptions opens the snapshot picker, or the disabled-reason
// popup when snapshots are off.
type ShowUndoOptions struct {
	DisabledReason string
	DisabledHint   string
}

// BudgetAlertRaised surfaces a cost-tracker alert; alerts are events,
// not errors.
type BudgetAlertRaised struct {
	SpecID string
	Level  string
	Spent  float64
	Budget float64
}

func (InsertHistoryCell) isAppEvent()              {}
func (CodexOp) isAppEvent()                        {}
func (RunReviewCommand) isAppEvent()               {}
func (JumpBack) isAppEvent()                       {}
func (DeviceCodeLoginStart) isAppEvent()           {}
func (PipelineConfigurationSaved) isAppEvent()     {}
func (PipelineConfigurationCancelled) isAppEvent() {}
func (PipelineConfigurationError) isAppEvent()     {}
func (ShowUndoOptions) isAppEvent()                {}
func (BudgetAlertRaised) isAppEvent()              {}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }
