package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"codexkit/internal/auth"
	"codexkit/internal/logging"
)

const (
	anthropicBaseURL      = "https://api.anthropic.com/v1"
	anthropicVersion      = "2023-06-01"
	anthropicOAuthBeta    = "oauth-2025-04-20"
	claudeCLIUserAgent    = "claude-cli/1.0.119 (external, cli)"
	defaultRequestTimeout = 10 * time.Minute
)

// AnthropicClient streams completions from the Anthropic Messages API using
// OAuth credentials from the auth manager.
type AnthropicClient struct {
	auth       *auth.Manager
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicClient creates a streaming client over the given auth manager.
func NewAnthropicClient(mgr *auth.Manager) *AnthropicClient {
	return &AnthropicClient{
		auth:    mgr,
		baseURL: anthropicBaseURL,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// adaptMessages splits system turns out of the conversation; the Messages
// API wants them in a dedicated field.
func adaptMessages(msgs []Message) ([]anthropicMessage, string) {
	var out []anthropicMessage
	var system string
	for _, m := range msgs {
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: m.Role, Content: m.Content})
	}
	return out, system
}

// Stream sends the conversation and returns a live event stream. The
// request is issued synchronously so authentication and HTTP-level failures
// surface as errors; only the SSE body is consumed on a background task.
func (c *AnthropicClient) Stream(ctx context.Context, model string, msgs []Message) (*Stream, error) {
	token, creds, err := c.auth.AccessToken(ctx, auth.ProviderAnthropic)
	if err != nil {
		return nil, err
	}

	messages, system := adaptMessages(msgs)
	body, err := json.Marshal(anthropicRequest{
		Model:     model,
		MaxTokens: 8192,
		System:    system,
		Messages:  messages,
		Stream:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("anthropic-beta", anthropicOAuthBeta)
	if isCLICredentials(creds) {
		// Tokens minted by the provider's own CLI are only accepted when
		// the request looks like that CLI.
		req.Header.Set("User-Agent", claudeCLIUserAgent)
	}

	logging.StreamDebug("anthropic stream: model=%s messages=%d", model, len(messages))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr := parseErrorEnvelope(resp)
		cancel()
		return nil, apiErr
	}

	events := make(chan Result, streamChannelCap)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		runDecoder(ctx, resp.Body, events)
	}()

	return &Stream{events: events, cancel: cancel}, nil
}

func isCLICredentials(creds *auth.Credentials) bool {
	if creds == nil || creds.Metadata == nil {
		return false
	}
	v, _ := creds.Metadata["cli_credentials"].(bool)
	return v
}

// runDecoder drives decodeSSE over the response body, pushing results until
// the consumer goes away or the stream terminates.
func runDecoder(ctx context.Context, body io.Reader, events chan<- Result) {
	err := decodeSSE(body, func(evt StreamEvent) bool {
		select {
		case events <- Result{Event: evt}:
			return true
		case <-ctx.Done():
			return false
		}
	})
	if err != nil && ctx.Err() == nil {
		select {
		case events <- Result{Err: err}:
		case <-ctx.Done():
		}
	}
}

// parseErrorEnvelope maps a non-2xx provider response to an APIError,
// preferring the structured error body when one decodes.
func parseErrorEnvelope(resp *http.Response) *APIError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	var envelope struct {
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		return &APIError{
			Status:    resp.StatusCode,
			Message:   envelope.Error.Message,
			ErrorType: envelope.Error.Type,
		}
	}
	return &APIError{Status: resp.StatusCode, Message: string(body)}
}
