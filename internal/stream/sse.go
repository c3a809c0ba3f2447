package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"codexkit/internal/logging"
)

// ssePayload is the superset of fields the providers put in one SSE data
// payload. Unused fields decode to their zero values.
type ssePayload struct {
	Type    string `json:"type"`
	Index   int    `json:"index"`
	Message *struct {
		ID    string `json:"id"`
		Model string `json:"model"`
	} `json:"message,omitempty"`
	ContentBlock *struct {
		Type string `json:"type"`
	} `json:"content_block,omitempty"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text,omitempty"`
		PartialJSON string `json:"partial_json,omitempty"`
		StopReason  string `json:"stop_reason,omitempty"`
	} `json:"delta,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// decodeSSE reads a text/event-stream body and calls emit for every mapped
// event. Events are delimited by a blank line; within one event only
// "event:" and "data:" fields are honored. Unknown event types and empty
// data payloads are skipped. A provider "error" event terminates the stream
// with an APIError; undecodable payloads terminate it with a ParseError.
// emit returning false stops the scan (consumer gone).
func decodeSSE(body io.Reader, emit func(StreamEvent) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType string
	var data strings.Builder

	flush := func() (bool, error) {
		defer func() {
			eventType = ""
			data.Reset()
		}()
		payload := data.String()
		if payload == "" || payload == "[DONE]" {
			return true, nil
		}
		evt, err := mapPayload(eventType, payload)
		if err != nil {
			return false, err
		}
		if evt == nil {
			return true, nil
		}
		if !emit(evt) {
			return false, nil
		}
		if _, done := evt.(MessageStop); done {
			return false, nil
		}
		return true, nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			ok, err := flush()
			if err != nil || !ok {
				return err
			}
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		default:
			// Comments and other SSE fields are ignored.
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	// Connection closed mid-event; flush whatever is buffered.
	_, err := flush()
	return err
}

// mapPayload turns one decoded SSE payload into a StreamEvent. A nil event
// with nil error means "skip".
func mapPayload(eventType, payload string) (StreamEvent, error) {
	var p ssePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, &ParseError{Msg: "decoding event payload", Err: err}
	}

	// The payload's own type field wins over the event: line; Gemini omits
	// the latter entirely.
	typ := p.Type
	if typ == "" {
		typ = eventType
	}

	switch typ {
	case "message_start":
		ms := MessageStart{}
		if p.Message != nil {
			ms.ID = p.Message.ID
			ms.Model = p.Message.Model
		}
		return ms, nil
	case "content_block_start":
		cbs := ContentBlockStart{Index: p.Index}
		if p.ContentBlock != nil {
			cbs.BlockType = p.ContentBlock.Type
		}
		return cbs, nil
	case "content_block_delta":
		if p.Delta == nil {
			return nil, &ParseError{Msg: "content_block_delta without delta"}
		}
		switch p.Delta.Type {
		case "input_json_delta":
			// Tool-call arguments share the text channel.
			return TextDelta{Index: p.Index, Text: p.Delta.PartialJSON}, nil
		default:
			return TextDelta{Index: p.Index, Text: p.Delta.Text}, nil
		}
	case "content_block_stop":
		return ContentBlockStop{Index: p.Index}, nil
	case "message_delta":
		md := MessageDelta{Usage: p.Usage}
		if p.Delta != nil {
			md.StopReason = p.Delta.StopReason
		}
		return md, nil
	case "message_stop":
		return MessageStop{}, nil
	case "ping":
		return Ping{}, nil
	case "error":
		msg, errType := "unknown provider error", ""
		if p.Error != nil {
			msg, errType = p.Error.Message, p.Error.Type
		}
		return nil, &APIError{Status: 500, Message: msg, ErrorType: errType}
	default:
		logging.StreamDebug("skipping unknown sse event type %q", typ)
		return nil, nil
	}
}
