package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"codexkit/internal/auth"
	"codexkit/internal/logging"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient streams completions from the Gemini API with OAuth bearer
// credentials from the auth manager.
type GeminiClient struct {
	auth       *auth.Manager
	baseURL    string
	httpClient *http.Client
}

// NewGeminiClient creates a streaming client over the given auth manager.
func NewGeminiClient(mgr *auth.Manager) *GeminiClient {
	return &GeminiClient{
		auth:    mgr,
		baseURL: geminiBaseURL,
		httpClient: &http.Client{
			Timeout: defaultRequestTimeout,
		},
	}
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
}

// geminiChunk is one streamed GenerateContentResponse.
type geminiChunk struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int64 `json:"promptTokenCount"`
		CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

// adaptGeminiMessages maps the uniform conversation onto Gemini's
// contents/systemInstruction shape. Assistant turns become "model".
func adaptGeminiMessages(msgs []Message) ([]geminiContent, *geminiContent) {
	var contents []geminiContent
	var system *geminiContent
	for _, m := range msgs {
		switch m.Role {
		case "system":
			if system == nil {
				system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			} else {
				system.Parts = append(system.Parts, geminiPart{Text: m.Content})
			}
		case "assistant":
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return contents, system
}

// Stream sends the conversation via streamGenerateContent and adapts the
// chunked responses onto the uniform event sequence.
func (c *GeminiClient) Stream(ctx context.Context, model string, msgs []Message) (*Stream, error) {
	token, _, err := c.auth.AccessToken(ctx, auth.ProviderGoogle)
	if err != nil {
		return nil, err
	}

	contents, system := adaptGeminiMessages(msgs)
	body, err := json.Marshal(geminiRequest{Contents: contents, SystemInstruction: system})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	logging.StreamDebug("gemini stream: model=%s contents=%d", model, len(contents))

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
		decodeGeminiStream(ctx, resp.Body, model, events)
	}()

	return &Stream{events: events, cancel: cancel}, nil
}

// decodeGeminiStream reads Gemini's data:-only SSE framing and synthesizes
// the uniform event envelope around the text chunks.
func decodeGeminiStream(ctx context.Context, body io.Reader, model string, events chan<- Result) {
	push := func(r Result) bool {
		select {
		case events <- r:
			return true
		case <-ctx.Done():
			return false
		}
	}

	started := false
	var usage *Usage
	stopReason := ""

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}

		var chunk geminiChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			push(Result{Err: &ParseError{Msg: "decoding gemini chunk", Err: err}})
			return
		}

		if !started {
			started = true
			if !push(Result{Event: MessageStart{Model: chunk.ModelVersion}}) {
				return
			}
			if !push(Result{Event: ContentBlockStart{Index: 0, BlockType: "text"}}) {
				return
			}
		}
		for _, cand := range chunk.Candidates {
			for _, part := range cand.Content.Parts {
				if part.Text == "" {
					continue
				}
				if !push(Result{Event: TextDelta{Index: 0, Text: part.Text}}) {
					return
				}
			}
			if cand.FinishReason != "" {
				stopReason = strings.ToLower(cand.FinishReason)
			}
		}
		if chunk.UsageMetadata != nil {
			usage = &Usage{
				InputTokens:  chunk.UsageMetadata.PromptTokenCount,
				OutputTokens: chunk.UsageMetadata.CandidatesTokenCount,
			}
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		push(Result{Err: err})
		return
	}

	if started {
		if !push(Result{Event: ContentBlockStop{Index: 0}}) {
			return
		}
		if !push(Result{Event: MessageDelta{StopReason: stopReason, Usage: usage}}) {
			return
		}
		push(Result{Event: MessageStop{}})
	}
}

// GeminiAPIClient is the API-key path through the official SDK, used when
// no OAuth account is configured.
type GeminiAPIClient struct {
	client *genai.Client
	model  string
}

// NewGeminiAPIClient creates an SDK-backed client for the given model.
func NewGeminiAPIClient(ctx context.Context, apiKey, model string) (*GeminiAPIClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return &GeminiAPIClient{client: client, model: model}, nil
}

// Stream adapts the SDK's chunk iterator onto the uniform event sequence.
func (c *GeminiAPIClient) Stream(ctx context.Context, msgs []Message) (*Stream, error) {
	var contents []*genai.Content
	var config genai.GenerateContentConfig
	for _, m := range msgs {
		switch m.Role {
		case "system":
			config.SystemInstruction = genai.NewContentFromText(m.Content, genai.RoleUser)
		case "assistant":
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan Result, streamChannelCap)

	go func() {
		defer close(events)
		push := func(r Result) bool {
			select {
			case events <- r:
				return true
			case <-ctx.Done():
				return false
			}
		}

		started := false
		var usage *Usage
		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents, &config) {
			if err != nil {
				if ctx.Err() == nil {
					push(Result{Err: err})
				}
				return
			}
			if !started {
				started = true
				if !push(Result{Event: MessageStart{Model: c.model}}) {
					return
				}
				if !push(Result{Event: ContentBlockStart{Index: 0, BlockType: "text"}}) {
					return
				}
			}
			if text := resp.Text(); text != "" {
				if !push(Result{Event: TextDelta{Index: 0, Text: text}}) {
					return
				}
			}
			if resp.UsageMetadata != nil {
				usage = &Usage{
					InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
				}
			}
		}
		if started {
			if !push(Result{Event: ContentBlockStop{Index: 0}}) {
				return
			}
			if !push(Result{Event: MessageDelta{Usage: usage}}) {
				return
			}
			push(Result{Event: MessageStop{}})
		}
	}()

	return &Stream{events: events, cancel: cancel}, nil
}
