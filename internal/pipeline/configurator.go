package pipeline

import (
	"fmt"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"codexkit/internal/app"
)

// ModelOption is one selectable model and its reasoning levels, if any.
type ModelOption struct {
	Name      string
	Reasoning []string
}

// DefaultCatalog lists the models the picker offers.
var DefaultCatalog = []ModelOption{
	{Name: "claude-opus-4", Reasoning: []string{"standard", "extended"}},
	{Name: "claude-sonnet-4"},
	{Name: "claude-haiku-4"},
	{Name: "gpt-5", Reasoning: []string{"low", "medium", "high"}},
	{Name: "gpt-5-mini", Reasoning: []string{"low", "medium", "high"}},
	{Name: "o3", Reasoning: []string{"medium", "high"}},
	{Name: "gemini-2.5-pro"},
	{Name: "gemini-2.5-flash"},
}

// mode is one screen of the configurator; the stack pops on Esc.
type mode int

const (
	modeStageList mode = iota
	modeStageDetails
	modeModelSelection
	modeModelPicker
	modeReasoningPicker
)

type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Enter  key.Binding
	Toggle key.Binding
	Models key.Binding
	Save   key.Binding
	Back   key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Enter:  key.NewBinding(key.WithKeys("enter")),
	Toggle: key.NewBinding(key.WithKeys(" ", "e")),
	Models: key.NewBinding(key.WithKeys("m")),
	Save:   key.NewBinding(key.WithKeys("q")),
	Back:   key.NewBinding(key.WithKeys("esc")),
}

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212"))
	disabledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	helpStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Configurator is the interactive pipeline editor. It never draws
// outside its View; results reach the host through the event sink.
type Configurator struct {
	cfg     *Config
	root    string
	catalog []ModelOption
	sink    app.EventSink

	stack   []mode
	cursor  map[mode]int
	stage   Stage // selected in StageList
	slotIdx int   // selected in ModelSelection
	picked  ModelOption
	saveErr string
	done    bool
}

// NewConfigurator edits cfg in place and reports the outcome to sink.
func NewConfigurator(cfg *Config, root string, sink app.EventSink) *Configurator {
	return &Configurator{
		cfg:     cfg,
		root:    root,
		catalog: DefaultCatalog,
		sink:    sink,
		stack:   []mode{modeStageList},
		cursor:  make(map[mode]int),
	}
}

func (c *Configurator) Init() tea.Cmd { return nil }

func (c *Configurator) current() mode { return c.stack[len(c.stack)-1] }

func (c *Configurator) push(m mode) {
	c.stack = append(c.stack, m)
	c.cursor[m] = 0
}

func (c *Configurator) pop() { c.stack = c.stack[:len(c.stack)-1] }

// Update implements tea.Model.
func (c *Configurator) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	km, ok := msg.(tea.KeyMsg)
	if !ok {
		return c, nil
	}

	switch {
	case key.Matches(km, keys.Back):
		if c.current() == modeStageList {
			c.done = true
			c.sink.Emit(app.PipelineConfigurationCancelled{SpecID: c.cfg.SpecID})
			return c, tea.Quit
		}
		c.pop()
		return c, nil

	case key.Matches(km, keys.Save):
		path, err := c.cfg.Save(c.root)
		if err != nil {
			// Keep the modal open with the failure visible.
			c.saveErr = err.Error()
			c.sink.Emit(app.PipelineConfigurationError{SpecID: c.cfg.SpecID, Err: err})
			return c, nil
		}
		c.done = true
		c.sink.Emit(app.PipelineConfigurationSaved{SpecID: c.cfg.SpecID, Path: path})
		return c, tea.Quit

	case key.Matches(km, keys.Up):
		if c.cursor[c.current()] > 0 {
			c.cursor[c.current()]--
		}
		return c, nil

	case key.Matches(km, keys.Down):
		if c.cursor[c.current()] < c.itemCount()-1 {
			c.cursor[c.current()]++
		}
		return c, nil
	}

	switch c.current() {
	case modeStageList:
		if key.Matches(km, keys.Enter) {
			c.stage = AllStages[c.cursor[modeStageList]]
			c.push(modeStageDetails)
		}
	case modeStageDetails:
		switch {
		case key.Matches(km, keys.Toggle):
			c.cfg.Enabled[c.stage] = !c.cfg.Enabled[c.stage]
		case key.Matches(km, keys.Models), key.Matches(km, keys.Enter):
			c.push(modeModelSelection)
		}
	case modeModelSelection:
		if key.Matches(km, keys.Enter) {
			c.slotIdx = c.cursor[modeModelSelection]
			c.push(modeModelPicker)
		}
	case modeModelPicker:
		if key.Matches(km, keys.Enter) {
			c.picked = c.catalog[c.cursor[modeModelPicker]]
			if len(c.picked.Reasoning) > 0 {
				c.push(modeReasoningPicker)
			} else {
				c.commitSlot(Slot{Model: c.picked.Name})
				c.pop() // back to ModelSelection
			}
		}
	case modeReasoningPicker:
		if key.Matches(km, keys.Enter) {
			level := c.picked.Reasoning[c.cursor[modeReasoningPicker]]
			c.commitSlot(Slot{Model: c.picked.Name, Reasoning: level})
			c.pop() // reasoning picker
			c.pop() // model picker, back to ModelSelection
		}
	}
	return c, nil
}

// commitSlot writes the chosen model into the selected slot, appending
// when the cursor sits on the "add slot" row.
func (c *Configurator) commitSlot(slot Slot) {
	slots := c.cfg.Assignments[c.stage]
	if c.slotIdx < len(slots) {
		slots[c.slotIdx] = slot
	} else if len(slots) < MaxSlotsPerStage {
		slots = append(slots, slot)
	}
	c.cfg.Assignments[c.stage] = slots
	c.saveErr = ""
}

func (c *Configurator) itemCount() int {
	switch c.current() {
	case modeStageList:
		return len(AllStages)
	case modeStageDetails:
		return 1
	case modeModelSelection:
		n := len(c.cfg.Assignments[c.stage])
		if n < MaxSlotsPerStage {
			n++ // trailing "add slot" row
		}
		return n
	case modeModelPicker:
		return len(c.catalog)
	case modeReasoningPicker:
		return len(c.picked.Reasoning)
	}
	return 0
}

// View implements tea.Model.
func (c *Configurator) View() string {
	if c.done {
		return ""
	}
	var body string
	switch c.current() {
	case modeStageList:
		body = titleStyle.Render("Pipeline stages: "+c.cfg.SpecID) + "\n\n"
		for i, st := range AllStages {
			marker := "  "
			if i == c.cursor[modeStageList] {
				marker = cursorStyle.Render("> ")
			}
			line := fmt.Sprintf("%s%-10s %s", marker, st, slotSummary(c.cfg.Assignments[st]))
			if !c.cfg.Enabled[st] {
				line = disabledStyle.Render(line + "  (disabled)")
			}
			body += line + "\n"
		}
		body += "\n" + helpStyle.Render("enter: details · q: save · esc: cancel")
	case modeStageDetails:
		state := "enabled"
		if !c.cfg.Enabled[c.stage] {
			state = "disabled"
		}
		body = titleStyle.Render(fmt.Sprintf("Stage %s (%s)", c.stage, state)) + "\n\n"
		body += "  models: " + slotSummary(c.cfg.Assignments[c.stage]) + "\n"
		body += "\n" + helpStyle.Render("space: toggle · m/enter: models · esc: back")
	case modeModelSelection:
		body = titleStyle.Render("Model slots: "+string(c.stage)) + "\n\n"
		slots := c.cfg.Assignments[c.stage]
		for i := 0; i < c.itemCount(); i++ {
			marker := "  "
			if i == c.cursor[modeModelSelection] {
				marker = cursorStyle.Render("> ")
			}
			if i < len(slots) {
				body += fmt.Sprintf("%sslot %d: %s\n", marker, i+1, slots[i])
			} else {
				body += marker + disabledStyle.Render("add slot…") + "\n"
			}
		}
		body += "\n" + helpStyle.Render("enter: pick model · esc: back")
	case modeModelPicker:
		body = titleStyle.Render("Pick a model") + "\n\n"
		for i, opt := range c.catalog {
			marker := "  "
			if i == c.cursor[modeModelPicker] {
				marker = cursorStyle.Render("> ")
			}
			body += marker + opt.Name + "\n"
		}
	case modeReasoningPicker:
		body = titleStyle.Render("Reasoning level: "+c.picked.Name) + "\n\n"
		for i, lvl := range c.picked.Reasoning {
			marker := "  "
			if i == c.cursor[modeReasoningPicker] {
				marker = cursorStyle.Render("> ")
			}
			body += marker + lvl + "\n"
		}
	}
	if c.saveErr != "" {
		body += "\n" + errorStyle.Render("save failed: "+c.saveErr)
	}
	return body
}

func slotSummary(slots []Slot) string {
	if len(slots) == 0 {
		return "(none)"
	}
	out := ""
	for i, s := range slots {
		if i > 0 {
			out += ", "
		}
		out += s.String()
	}
	return out
}
