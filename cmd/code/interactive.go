package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"

	"codexkit/internal/ace"
	"codexkit/internal/app"
	"codexkit/internal/auth"
	"codexkit/internal/capsule"
	"codexkit/internal/commands"
	"codexkit/internal/config"
	"codexkit/internal/cost"
	"codexkit/internal/history"
	"codexkit/internal/logging"
	"codexkit/internal/pipeline"
	"codexkit/internal/policy"
	"codexkit/internal/pty"
	"codexkit/internal/quality"
	"codexkit/internal/router"
	"codexkit/internal/spec"
	"codexkit/internal/stream"
	"codexkit/internal/undo"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
)

const systemPrompt = "You are a spec-kit coding assistant. Work from the active SPEC's documents and keep answers grounded in the repository."

// session wires the assistant's components for one interactive run.
type session struct {
	cfg      *config.Config
	root     string
	auth     *auth.Manager
	router   *router.Router
	tracker  *cost.Tracker
	capsule  *capsule.Handle
	policies *policy.Manager
	undo     *undo.Manager
	history  *history.Manager
	registry *commands.Registry
	clients  map[router.Provider]pipeline.StageClient
	ptySess  *pty.Session

	activeSpec string
	userTurns  int
	asstTurns  int
}

func runInteractive() error {
	ws := resolveWorkspace()
	if err := logging.Initialize(ws); err != nil {
		fmt.Fprintf(os.Stderr, "warning: logging disabled: %v\n", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openAuthStore()
	if err != nil {
		return err
	}

	s := &session{
		cfg:     cfg,
		root:    ws,
		auth:    auth.NewManager(store),
		router:  router.New(router.DefaultCLIRoutingSettings()),
		tracker: cost.NewTracker(),
		undo:    undo.NewManager(ws),
		history: history.NewManager(systemPrompt),
	}

	handle, err := capsule.Open(capsule.Config{
		Path:        filepath.Join(ws, ".codex", "capsule.db"),
		WorkspaceID: ws,
	})
	if err != nil {
		return fmt.Errorf("opening capsule: %w", err)
	}
	defer handle.Close()
	s.capsule = handle
	s.policies = policy.NewManager(handle, ws)

	ptyCfg := pty.DefaultConfig()
	ptyCfg.Binary = cfg.PTY.Binary
	ptyCfg.InitTimeout = time.Duration(cfg.PTY.InitTimeoutSecs) * time.Second
	ptyCfg.MaxResponseTime = time.Duration(cfg.PTY.TurnTimeoutSecs) * time.Second
	s.ptySess = pty.NewSession(ptyCfg)
	defer s.ptySess.Shutdown()

	s.clients = map[router.Provider]pipeline.StageClient{
		router.ProviderClaude:  stream.NewAnthropicClient(s.auth),
		router.ProviderGemini:  stream.NewGeminiClient(s.auth),
		router.ProviderChatGPT: pty.NewStreamAdapter(s.ptySess),
	}

	s.registry = commands.NewRegistry()
	if err := commands.RegisterBuiltins(s.registry, commands.Deps{
		CreateSpec: s.createSpec,
		RunStage:   s.runStage,
		Status:     s.status,
		Configure:  s.configure,
		Undo:       s.showUndo,
	}); err != nil {
		return err
	}
	if path := filepath.Join(ws, ".codex", "guardrails.yaml"); fileExists(path) {
		if err := commands.LoadGuardrails(s.registry, path); err != nil {
			fmt.Fprintf(os.Stderr, "warning: guardrails not loaded: %v\n", err)
		}
	}

	fmt.Println("code - spec-kit assistant. /help lists commands, /quit exits.")
	return s.loop(context.Background())
}

func (s *session) loop(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)
	for {
		fmt.Print(promptStyle.Render("> ") + " ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			for _, name := range s.registry.Names() {
				cmd, _ := s.registry.Find(name)
				fmt.Printf("  /%-20s %s\n", name, cmd.Description)
			}
			continue
		case strings.HasPrefix(line, "/"):
			fields := strings.Fields(line[1:])
			err := s.registry.Run(ctx, s.sink(), fields[0], fields[1:])
			if err != nil {
				fmt.Println(errorStyle.Render(err.Error()))
			}
			continue
		}
		s.chatTurn(ctx, line)
	}
}

// sink renders app events inline. The interactive session is the only
// consumer of the event boundary here; a full TUI would subscribe instead.
func (s *session) sink() app.EventSink {
	return app.SinkFunc(func(ev app.Event) {
		switch e := ev.(type) {
		case app.InsertHistoryCell:
			switch e.Kind {
			case app.CellSuccess:
				fmt.Println(successStyle.Render(e.Text))
			case app.CellError:
				fmt.Println(errorStyle.Render(e.Text))
			default:
				fmt.Println(noticeStyle.Render(e.Text))
			}
		case app.BudgetAlertRaised:
			fmt.Println(errorStyle.Render(fmt.Sprintf(
				"budget %s for %s: $%.2f of $%.2f", e.Level, e.SpecID, e.Spent, e.Budget)))
		case app.DeviceCodeLoginStart:
			fmt.Printf("Visit %s and enter code %s\n", e.VerificationURL, e.UserCode)
		case app.JumpBack:
			s.history.TruncateLastN(e.Nth * 2)
			s.userTurns -= e.Nth
			s.asstTurns -= e.Nth
			fmt.Println(noticeStyle.Render(fmt.Sprintf("Rewound %d turn(s)", e.Nth)))
		case app.PipelineConfigurationSaved:
			fmt.Println(successStyle.Render("Pipeline configuration saved: " + e.Path))
		case app.PipelineConfigurationCancelled:
			fmt.Println(noticeStyle.Render("Pipeline configuration cancelled"))
		case app.ShowUndoOptions:
			if e.DisabledReason != "" {
				fmt.Println(errorStyle.Render("undo disabled: " + e.DisabledReason))
				if e.DisabledHint != "" {
					fmt.Println(noticeStyle.Render(e.DisabledHint))
				}
			}
		}
	})
}

// chatTurn sends free text to the default model and streams the reply.
func (s *session) chatTurn(ctx context.Context, input string) {
	if _, err := s.undo.CaptureGhostSnapshot(ctx, truncate(input, 60), s.userTurns, s.asstTurns); err != nil {
		logging.Undo("snapshot skipped: %v", err)
	}

	model := defaultModel(s.cfg)
	route, err := s.router.Route(model)
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}
	client, ok := s.clients[route.Provider]
	if !ok {
		fmt.Println(errorStyle.Render(fmt.Sprintf("no client for provider %s", route.Provider)))
		return
	}

	s.history.Append(history.Message{Role: "user", Content: input})
	s.userTurns++

	turnCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, err := client.Stream(turnCtx, model, s.streamMessages())
	if err != nil {
		fmt.Println(errorStyle.Render(err.Error()))
		return
	}

	var reply strings.Builder
	var usage stream.Usage
	for res := range st.Events() {
		if res.Err != nil {
			fmt.Println()
			fmt.Println(errorStyle.Render(res.Err.Error()))
			return
		}
		switch ev := res.Event.(type) {
		case stream.TextDelta:
			fmt.Print(ev.Text)
			reply.WriteString(ev.Text)
		case stream.MessageDelta:
			if ev.Usage != nil {
				usage = *ev.Usage
			}
		}
	}
	fmt.Println()

	s.history.Append(history.Message{Role: "assistant", Content: reply.String()})
	s.asstTurns++

	if s.activeSpec != "" {
		_, alert := s.tracker.RecordCall(s.activeSpec, "chat", model, usage.InputTokens, usage.OutputTokens)
		if alert != nil {
			s.sink().Emit(app.BudgetAlertRaised{
				SpecID: alert.SpecID,
				Level:  string(alert.Level),
				Spent:  alert.Spent,
				Budget: alert.Budget,
			})
		}
	}
}

// createSpec backs the speckit.new command.
func (s *session) createSpec(ctx context.Context, description string) (string, string, error) {
	created, err := spec.Create(description, s.root)
	if err != nil {
		return "", "", err
	}
	s.activeSpec = created.SpecID
	s.tracker.SetBudget(created.SpecID, s.cfg.Budget.DefaultBudget)

	// Seed a default pipeline so stage commands work immediately.
	cfg := pipeline.DefaultConfig(created.SpecID, defaultModel(s.cfg))
	if _, err := cfg.Save(s.root); err != nil {
		logging.Pipeline("default pipeline not saved for %s: %v", created.SpecID, err)
	}
	return created.SpecID, created.Slug, nil
}

// runStage backs the speckit.<stage> commands. analyze and checklist run
// the native engines; everything else goes through the model pipeline.
func (s *session) runStage(ctx context.Context, stage string, args []string) error {
	if s.activeSpec == "" {
		return fmt.Errorf("no active SPEC; run /speckit.new first")
	}
	switch stage {
	case "analyze":
		return s.runAnalyze(false)
	case "checklist":
		return s.runAnalyze(true)
	}

	cfg, err := pipeline.LoadConfig(s.root, s.activeSpec)
	if err != nil {
		return err
	}
	runner, err := pipeline.NewRunner(pipeline.RunnerOptions{
		Config:    cfg,
		RunID:     uuid.NewString(),
		Handle:    s.capsule,
		Policies:  s.policies,
		Tracker:   s.tracker,
		Router:    s.router,
		Clients:   s.clients,
		Sink:      s.sink(),
		PolicyCfg: s.cfg,
	})
	if err != nil {
		return err
	}

	prompt := strings.Join(args, " ")
	if prompt == "" {
		prompt = fmt.Sprintf("Run the %s stage for %s.", stage, s.activeSpec)
	}
	msgs := append(s.streamMessages(), stream.Message{Role: "user", Content: prompt})

	result, err := runner.RunStage(ctx, pipeline.Stage(stage), msgs)
	if err != nil {
		s.reflectOnFailure(stage, err)
		return err
	}
	fmt.Println(result.Output)
	fmt.Println(noticeStyle.Render(fmt.Sprintf("[%s] %s  $%.4f", result.Stage, result.Model, result.Cost)))
	return nil
}

// reflectOnFailure persists an execution milestone when a stage fails, so
// the next session starts with the lesson on disk.
func (s *session) reflectOnFailure(stage string, cause error) {
	feedback := ace.ExecutionFeedback{
		CompileOK:   false,
		StackTraces: []string{cause.Error()},
	}
	if !ace.ShouldReflect(feedback) {
		return
	}
	result := &ace.ReflectionResult{
		Summary:  fmt.Sprintf("stage %s failed for %s", stage, s.activeSpec),
		Failures: []string{cause.Error()},
	}
	dir := filepath.Join(s.root, ".codex", "evidence")
	if _, err := ace.PersistACEFrame(s.activeSpec, result, ace.CapturePromptsOnly, dir); err != nil {
		logging.Reflect("milestone not persisted: %v", err)
	}
}

// runAnalyze runs the native consistency and grading engines over the
// active SPEC's documents.
func (s *session) runAnalyze(checklist bool) error {
	dir, err := s.specDocsDir()
	if err != nil {
		return err
	}
	in := quality.ConsistencyInput{
		PRD:         readDoc(filepath.Join(dir, "PRD.md")),
		Plan:        readDoc(filepath.Join(dir, "plan.md")),
		Tasks:       readDoc(filepath.Join(dir, "tasks.md")),
		PRDModTime:  mtime(filepath.Join(dir, "PRD.md")),
		PlanModTime: mtime(filepath.Join(dir, "plan.md")),
	}

	if checklist {
		report := quality.BuildChecklist(in)
		fmt.Printf("Grade: %s (%.0f)\n", report.Grade.Letter, report.Grade.Score)
		for _, item := range report.Items {
			fmt.Printf("  %-8s [%s] %s\n", item.ID, item.Severity, item.Message)
		}
		return nil
	}

	issues := quality.CheckConsistency(in)
	if len(issues) == 0 {
		fmt.Println(successStyle.Render("No consistency issues found"))
		return nil
	}
	for _, issue := range issues {
		fmt.Printf("  [%s] %s: %s\n", issue.Severity, issue.Type, issue.Message)
	}
	return nil
}

// status backs speckit.status.
func (s *session) status(ctx context.Context) (string, error) {
	if s.activeSpec == "" {
		return "No active SPEC", nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Active SPEC: %s\n", s.activeSpec)

	summary := s.tracker.Summary(s.activeSpec)
	fmt.Fprintf(&b, "Budget: $%.2f spent of $%.2f (%d calls)\n",
		summary.Spent, summary.Budget, summary.CallCount)

	if cfg, err := pipeline.LoadConfig(s.root, s.activeSpec); err == nil {
		var enabled []string
		for _, st := range pipeline.AllStages {
			if cfg.Enabled[st] {
				enabled = append(enabled, string(st))
			}
		}
		fmt.Fprintf(&b, "Stages: %s\n", strings.Join(enabled, ", "))
	}
	if snaps := s.undo.Snapshots(); len(snaps) > 0 {
		fmt.Fprintf(&b, "Undo snapshots: %d\n", len(snaps))
	}
	return b.String(), nil
}

// configure backs speckit.configure: it hands the terminal to the
// pipeline configurator modal.
func (s *session) configure(ctx context.Context, specID string) error {
	if specID == "" {
		specID = s.activeSpec
	}
	if specID == "" {
		return fmt.Errorf("no SPEC given and none active")
	}
	var cfg *pipeline.Config
	if fileExists(pipeline.ConfigPath(s.root, specID)) {
		loaded, err := pipeline.LoadConfig(s.root, specID)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = pipeline.DefaultConfig(specID, defaultModel(s.cfg))
	}
	conf := pipeline.NewConfigurator(cfg, s.root, s.sink())
	_, err := tea.NewProgram(conf).Run()
	return err
}

// showUndo backs speckit.undo: list snapshots, pick one, restore.
func (s *session) showUndo(ctx context.Context) error {
	if d := s.undo.Disabled(); d != nil {
		s.sink().Emit(app.ShowUndoOptions{DisabledReason: d.Reason, DisabledHint: d.Hint})
		return nil
	}
	snaps := s.undo.Snapshots()
	if len(snaps) == 0 {
		fmt.Println(noticeStyle.Render("No snapshots yet"))
		return nil
	}
	for i, snap := range snaps {
		fmt.Printf("  %2d. %s (%s)\n", i, snap.Summary, snap.CreatedAt.Local().Format("15:04:05"))
	}
	fmt.Print("Restore which snapshot? [index or blank to cancel] ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	idx, err := strconv.Atoi(line)
	if err != nil {
		return fmt.Errorf("not an index: %q", line)
	}

	outcome, err := s.undo.PerformUndoRestore(ctx, undo.RestoreRequest{
		Index:               idx,
		RestoreFiles:        true,
		RestoreConversation: true,
		UserTurns:           s.userTurns,
		AssistantTurns:      s.asstTurns,
	})
	if err != nil {
		return err
	}
	if outcome.FilesRestored {
		fmt.Println(successStyle.Render("Files restored"))
	}
	for _, msg := range outcome.Errors {
		fmt.Println(errorStyle.Render(msg))
	}
	if jb := outcome.JumpBack; jb != nil && jb.Nth > 0 {
		s.sink().Emit(app.JumpBack{Nth: jb.Nth})
	}
	return nil
}

func (s *session) specDocsDir() (string, error) {
	matches, err := filepath.Glob(filepath.Join(s.root, "docs", s.activeSpec+"-*"))
	if err != nil || len(matches) == 0 {
		return "", fmt.Errorf("no docs directory for %s", s.activeSpec)
	}
	return matches[0], nil
}

// streamMessages converts the conversation, system prompt first, into
// the wire shape the streaming clients take.
func (s *session) streamMessages() []stream.Message {
	hist := s.history.Messages()
	out := make([]stream.Message, 0, len(hist)+1)
	out = append(out, stream.Message{Role: "system", Content: s.history.System()})
	for _, m := range hist {
		out = append(out, stream.Message{Role: m.Role, Content: m.Content})
	}
	return out
}

func readDoc(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func mtime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
