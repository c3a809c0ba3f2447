// Package stream decodes provider SSE responses into a uniform event
// sequence and runs the authenticated streaming clients for Anthropic and
// Gemini. Each request owns one decoder goroutine and one bounded channel;
// consumers cancel by abandoning the receiver.
package stream

import "fmt"

// StreamEvent is the provider-agnostic event emitted for one streamed
// response. Within a request, ContentBlockStart for an index precedes all
// TextDelta for that index, which precede ContentBlockStop; MessageStop is
// terminal and appears at most once.
type StreamEvent interface {
	isStreamEvent()
}

// Usage carries the token counts a provider reports mid-stream.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// MessageStart opens a streamed message.
type MessageStart struct {
	ID    string
	Model string
}

// ContentBlockStart opens a content block at a given index.
type ContentBlockStart struct {
	Index     int
	BlockType string
}

// TextDelta is a partial chunk of block text. Partial tool-call JSON is
// delivered on the same channel as plain text.
type TextDelta struct {
	Index int
	Text  string
}

// ContentBlockStop closes a content block.
type ContentBlockStop struct {
	Index int
}

// MessageDelta carries stop reason and usage updates.
type MessageDelta struct {
	StopReason string
	Usage      *Usage
}

// MessageStop terminates the stream.
type MessageStop struct{}

// Ping is a provider keepalive.
type Ping struct{}

func (MessageStart) isStreamEvent()      {}
func (ContentBlockStart) isStreamEvent() {}
func (TextDelta) isStreamEvent()         {}
func (ContentBlockStop) isStreamEvent()  {}
func (MessageDelta) isStreamEvent()      {}
func (MessageStop) isStreamEvent()       {}
func (Ping) isStreamEvent()              {}

// Result pairs an event with a terminal error. Exactly one field is set.
type Result struct {
	Event StreamEvent
	Err   error
}

// streamChannelCap bounds the per-request event channel.
const streamChannelCap = 100

// Stream is the consumer side of one streaming request. Abandoning the
// stream cancels the producer via its context.
type Stream struct {
	events <-chan Result
	cancel func()
}

// NewStream wraps a result channel and a cancel hook. Providers that
// synthesize events outside the SSE path use this to expose the same
// consumer surface.
func NewStream(events <-chan Result, cancel func()) *Stream {
	return &Stream{events: events, cancel: cancel}
}

// Events returns the bounded result channel. It is closed after the
// terminal event or error.
func (s *Stream) Events() <-chan Result { return s.events }

// Close cancels the producer task. Safe to call more than once.
func (s *Stream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// APIError is a provider-reported failure, parsed through the provider's
// error envelope when possible.
type APIError struct {
	Status    int
	Message   string
	ErrorType string
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("api error %d (%s): %s", e.Status, e.ErrorType, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// ParseError reports an SSE payload that could not be decoded. The stream
// terminates when one is produced.
type ParseError struct {
	Msg string
	Err error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sse parse: %s: %v", e.Msg, e.Err)
	}
	return "sse parse: " + e.Msg
}

func (e *ParseError) Unwrap() error { return e.Err }

// Message is one turn of conversation handed to a streaming client.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
