package pty

import (
	"context"
	"strings"

	"codexkit/internal/stream"
)

// StreamAdapter exposes a PTY session through the streaming client
// interface. Chunks read from the child become TextDelta events; CLI
// providers report no token usage.
type StreamAdapter struct {
	session *Session
}

// NewStreamAdapter wraps a session. The adapter does not own the child;
// call Session.Shutdown separately.
func NewStreamAdapter(session *Session) *StreamAdapter {
	return &StreamAdapter{session: session}
}

// Stream sends the last user message as one turn and emits the response
// incrementally. The model argument is ignored; a PTY session is bound
// to whatever CLI it spawned.
func (a *StreamAdapter) Stream(ctx context.Context, model string, msgs []stream.Message) (*stream.Stream, error) {
	if err := a.session.EnsureAlive(ctx); err != nil {
		return nil, err
	}

	prompt := lastUserMessage(msgs)
	turnCtx, cancel := context.WithCancel(ctx)
	events := make(chan stream.Result, 100)

	go func() {
		defer close(events)
		events <- stream.Result{Event: stream.MessageStart{Model: model}}
		_, err := a.session.SendMessage(turnCtx, prompt, func(chunk string) {
			select {
			case events <- stream.Result{Event: stream.TextDelta{Text: chunk}}:
			case <-turnCtx.Done():
			}
		})
		if err != nil {
			select {
			case events <- stream.Result{Err: err}:
			case <-turnCtx.Done():
			}
			return
		}
		events <- stream.Result{Event: stream.MessageStop{}}
	}()

	return stream.NewStream(events, cancel), nil
}

func lastUserMessage(msgs []stream.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Content
		}
	}
	var parts []string
	for _, m := range msgs {
		parts = append(parts, m.Content)
	}
	return strings.Join(parts, "\n")
}
