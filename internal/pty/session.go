package pty

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"

	"codexkit/internal/logging"
)

// State is the session lifecycle phase.
type State int

const (
	StateUninit State = iota
	StateStarting
	StateWaitingForInit
	StateReady
	StateSending
	StateStreaming
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "uninit"
	case StateStarting:
		return "starting"
	case StateWaitingForInit:
		return "waiting_for_init"
	case StateReady:
		return "ready"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	case StateShutdown:
		return "shutdown"
	}
	return "unknown"
}

// Config controls the child CLI and the turn-framing timeouts.
type Config struct {
	Binary          string
	Args            []string
	InstallHint     string
	InitTimeout     time.Duration // wait for the first prompt
	MaxResponseTime time.Duration // per-turn wall clock
	ChunkTimeout    time.Duration // per-read deadline
	IdleThreshold   time.Duration // quiet window that counts as "at prompt"
	DrainTimeout    time.Duration // after cancel
	CheckpointEvery int           // turns between /chat save
}

// DefaultConfig returns the settings for the Gemini CLI.
func DefaultConfig() Config {
	return Config{
		Binary:          "gemini",
		InstallHint:     "npm install -g @google/gemini-cli",
		InitTimeout:     10 * time.Second,
		MaxResponseTime: 120 * time.Second,
		ChunkTimeout:    100 * time.Millisecond,
		IdleThreshold:   500 * time.Millisecond,
		DrainTimeout:    5 * time.Second,
		CheckpointEvery: 5,
	}
}

// Session owns one child CLI in a pseudo-terminal. All turns are serialised
// on the session; the child and its tty are never shared.
type Session struct {
	mu  sync.Mutex
	cfg Config

	cmd      *exec.Cmd
	tty      *os.File
	detector *promptDetector
	exited   chan struct{}

	state          State
	turnCount      int
	lastCheckpoint string
	checkpointSeq  int
	conversationID string
}

// NewSession creates an unstarted session.
func NewSession(cfg Config) *Session {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 5
	}
	return &Session{cfg: cfg, state: StateUninit}
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastCheckpoint returns the most recent saved conversation tag, if any.
func (s *Session) LastCheckpoint() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCheckpoint
}

// Start spawns the child and waits for its initial prompt.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Session) startLocked(ctx context.Context) error {
	if s.state != StateUninit && s.state != StateShutdown {
		return &InternalError{Message: fmt.Sprintf("start from state %s", s.state)}
	}
	s.state = StateStarting

	path, err := exec.LookPath(s.cfg.Binary)
	if err != nil {
		s.state = StateUninit
		return &BinaryNotFoundError{Binary: s.cfg.Binary, InstallHint: s.cfg.InstallHint}
	}

	cmd := exec.Command(path, s.cfg.Args...)
	tty, err := pty.Start(cmd)
	if err != nil {
		s.state = StateUninit
		return &InternalError{Message: fmt.Sprintf("spawning %s: %v", s.cfg.Binary, err)}
	}
	s.cmd = cmd
	s.tty = tty
	s.detector = newPromptDetector(s.cfg.IdleThreshold)
	s.exited = make(chan struct{})

	exited := s.exited
	go func() {
		cmd.Wait()
		close(exited)
	}()

	logging.PTY("started %s (pid %d)", s.cfg.Binary, cmd.Process.Pid)

	s.state = StateWaitingForInit
	if _, err := s.readUntilPromptLocked(ctx, s.cfg.InitTimeout); err != nil {
		s.killLocked()
		s.tty.Close()
		s.tty = nil
		s.state = StateUninit
		return fmt.Errorf("waiting for initial prompt: %w", err)
	}
	s.state = StateReady
	return nil
}

// alive reports whether the child process is still running.
func (s *Session) aliveLocked() bool {
	if s.exited == nil {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// EnsureAlive respawns the child if it died, replaying the last checkpoint
// so the conversation survives the crash. Without a checkpoint the
// conversation is lost and that is logged.
func (s *Session) EnsureAlive(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateShutdown {
		return &InternalError{Message: "session is shut down"}
	}
	if s.aliveLocked() {
		return nil
	}

	logging.PTYWarn("%s exited, respawning", s.cfg.Binary)
	s.state = StateUninit
	if err := s.startLocked(ctx); err != nil {
		return err
	}

	if s.lastCheckpoint == "" {
		logging.PTYWarn("no checkpoint recorded, conversation state lost")
		return nil
	}
	if _, err := s.sendLocked(ctx, "/chat resume "+s.lastCheckpoint, nil); err != nil {
		return fmt.Errorf("resuming checkpoint %s: %w", s.lastCheckpoint, err)
	}
	logging.PTY("resumed checkpoint %s", s.lastCheckpoint)
	return nil
}

// SendMessage writes one message, streams the cleaned output chunks to
// onChunk when non-nil, and returns the full response. A checkpoint is
// saved every CheckpointEvery turns.
func (s *Session) SendMessage(ctx context.Context, message string, onChunk func(string)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return "", &InternalError{Message: fmt.Sprintf("send from state %s", s.state)}
	}

	out, err := s.sendLocked(ctx, message, onChunk)
	if err != nil {
		return "", err
	}

	s.turnCount++
	if s.turnCount%s.cfg.CheckpointEvery == 0 {
		s.checkpointSeq++
		tag := fmt.Sprintf("auto_%d", s.checkpointSeq)
		if _, err := s.sendLocked(ctx, "/chat save "+tag, nil); err != nil {
			logging.PTYError("checkpoint %s failed: %v", tag, err)
		} else {
			s.lastCheckpoint = tag
			logging.PTYDebug("checkpoint saved: %s", tag)
		}
	}
	return out, nil
}

// SendCommand writes a slash command and returns its output without
// advancing the turn counter.
func (s *Session) SendCommand(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return "", &InternalError{Message: fmt.Sprintf("send from state %s", s.state)}
	}
	return s.sendLocked(ctx, command, nil)
}

func (s *Session) sendLocked(ctx context.Context, input string, onChunk func(string)) (string, error) {
	s.state = StateSending
	defer func() { s.state = StateReady }()

	if _, err := s.tty.WriteString(input + "\n"); err != nil {
		return "", &InternalError{Message: fmt.Sprintf("writing to pty: %v", err)}
	}

	s.state = StateStreaming
	raw, err := s.readTurnLocked(ctx, s.cfg.MaxResponseTime, onChunk)
	if err != nil {
		return "", err
	}
	return cleanTurnOutput(raw, input), nil
}

// readTurnLocked reads chunks under the per-read deadline until the prompt
// detector confirms idle, bounded by the turn deadline.
func (s *Session) readTurnLocked(ctx context.Context, limit time.Duration, onChunk func(string)) (string, error) {
	s.detector.Reset()
	deadline := time.Now().Add(limit)
	buf := make([]byte, 4096)
	var out []byte

	for {
		if err := ctx.Err(); err != nil {
			return string(out), err
		}
		now := time.Now()
		if now.After(deadline) {
			return string(out), &TimeoutError{Elapsed: limit}
		}
		if !s.aliveLocked() && len(out) > 0 {
			// Child exited after producing output; take what we have.
			return string(out), nil
		}

		s.tty.SetReadDeadline(now.Add(s.cfg.ChunkTimeout))
		n, err := s.tty.Read(buf)
		if n > 0 {
			out = append(out, buf[:n]...)
			s.detector.ObserveData()
			if onChunk != nil {
				if text := StripANSI(string(buf[:n])); text != "" {
					onChunk(text)
				}
			}
			continue
		}
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				if len(out) > 0 && s.detector.ObserveIdle(time.Now()) {
					return string(out), nil
				}
				continue
			}
			if !s.aliveLocked() {
				if len(out) > 0 {
					return string(out), nil
				}
				return "", &InternalError{Message: s.cfg.Binary + " exited during turn"}
			}
			return string(out), &InternalError{Message: fmt.Sprintf("reading from pty: %v", err)}
		}
	}
}

func (s *Session) readUntilPromptLocked(ctx context.Context, limit time.Duration) (string, error) {
	return s.readTurnLocked(ctx, limit, nil)
}

// Cancel interrupts the current generation with Ctrl-C and drains output
// until the prompt returns.
func (s *Session) Cancel(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tty == nil || !s.aliveLocked() {
		return nil
	}
	if _, err := s.tty.Write([]byte{0x03}); err != nil {
		return &InternalError{Message: fmt.Sprintf("sending interrupt: %v", err)}
	}
	if _, err := s.readUntilPromptLocked(ctx, s.cfg.DrainTimeout); err != nil {
		logging.PTYWarn("drain after cancel: %v", err)
	}
	s.detector.Reset()
	s.state = StateReady
	return nil
}

// Shutdown asks the child to quit, waits briefly, then kills it. The child
// is always reached, graceful or not.
func (s *Session) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateShutdown {
		return nil
	}
	s.state = StateShutdown

	if s.tty == nil {
		return nil
	}
	if s.aliveLocked() {
		s.tty.WriteString("/quit\n")
		select {
		case <-s.exited:
		case <-time.After(500 * time.Millisecond):
			logging.PTYWarn("%s ignored /quit, killing", s.cfg.Binary)
			s.killLocked()
		}
	}
	s.tty.Close()
	s.tty = nil
	return nil
}

func (s *Session) killLocked() {
	if s.cmd != nil && s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	if s.exited != nil {
		<-s.exited
	}
}
