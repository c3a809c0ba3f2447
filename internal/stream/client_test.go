package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"codexkit/internal/auth"
)

func managerWithToken(t *testing.T, provider auth.ProviderID, metadata map[string]interface{}) *auth.Manager {
	t.Helper()
	store, err := auth.LoadStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	exp := time.Now().Add(time.Hour)
	if _, err := store.StoreCredentials(provider, &auth.Credentials{
		AccessToken: "test-token",
		ExpiresAt:   &exp,
		Metadata:    metadata,
	}, "test@example.com"); err != nil {
		t.Fatal(err)
	}
	return auth.NewManager(store)
}

func TestAnthropicClient_Stream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("authorization header: %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("missing anthropic-version header")
		}

		var req anthropicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if !req.Stream {
			t.Error("expected stream=true")
		}
		if req.System != "be terse" {
			t.Errorf("system turn not lifted out: %q", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != "user" {
			t.Errorf("unexpected messages: %#v", req.Messages)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(anthropicWire))
	}))
	defer srv.Close()

	c := NewAnthropicClient(managerWithToken(t, auth.ProviderAnthropic, nil))
	c.baseURL = srv.URL

	s, err := c.Stream(context.Background(), "claude-sonnet-4-5", []Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hi"},
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	text, usage, err := Collect(context.Background(), s)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if text != "Hello world" {
		t.Errorf("expected %q, got %q", "Hello world", text)
	}
	if usage == nil || usage.InputTokens != 10 || usage.OutputTokens != 4 {
		t.Errorf("usage: %+v", usage)
	}
}

func TestAnthropicClient_CLIUserAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != claudeCLIUserAgent {
			t.Errorf("expected CLI user agent, got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(anthropicWire))
	}))
	defer srv.Close()

	mgr := managerWithToken(t, auth.ProviderAnthropic, map[string]interface{}{"cli_credentials": true})
	c := NewAnthropicClient(mgr)
	c.baseURL = srv.URL

	s, err := c.Stream(context.Background(), "claude-sonnet-4-5", []Message{{Role: "user", Content: "hi"}})
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := Collect(context.Background(), s); err != nil {
		t.Fatal(err)
	}
}

func TestAnthropicClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"type":"rate_limit_error","message":"slow down"}}`))
	}))
	defer srv.Close()

	c := NewAnthropicClient(managerWithToken(t, auth.ProviderAnthropic, nil))
	c.baseURL = srv.URL

	_, err := c.Stream(context.Background(), "claude-sonnet-4-5", []Message{{Role: "user", Content: "hi"}})
	if err == nil {
		t.Fatal("expected error")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Status != http.StatusTooManyRequests || apiErr.ErrorType != "rate_limit_error" || apiErr.Message != "slow down" {
		t.Errorf("envelope not parsed: %#v", apiErr)
	}
}

func TestAnthropicClient_NotAuthenticated(t *testing.T) {
	store, err := auth.LoadStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := NewAnthropicClient(auth.NewManager(store))

	_, err = c.Stream(context.Background(), "claude-sonnet-4-5", []Message{{Role: "user", Content: "hi"}})
	if err != auth.ErrNotAuthenticated {
		t.Errorf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestGeminiClient_Stream(t *testing.T) {
	wire := `data: {"candidates":[{"content":{"parts":[{"text":"Bon"}]}}],"modelVersion":"gemini-2.5-pro"}` + "\n\n" +
		`data: {"candidates":[{"content":{"parts":[{"text":"jour"}]},"finishReason":"STOP"}],"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":2}}` + "\n\n"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("alt"); got != "sse" {
			t.Errorf("expected alt=sse, got %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(wire))
	}))
	defer srv.Close()

	c := NewGeminiClient(managerWithToken(t, auth.ProviderGoogle, nil))
	c.baseURL = srv.URL

	s, err := c.Stream(context.Background(), "gemini-2.5-pro", []Message{{Role: "user", Content: "salut"}})
	if err != nil {
		t.Fatal(err)
	}

	text, usage, err := Collect(context.Background(), s)
	if err != nil {
		t.Fatal(err)
	}
	if text != "Bonjour" {
		t.Errorf("expected Bonjour, got %q", text)
	}
	if usage == nil || usage.InputTokens != 7 || usage.OutputTokens != 2 {
		t.Errorf("usage: %+v", usage)
	}
}

func TestGeminiClient_RoleMapping(t *testing.T) {
	contents, system := adaptGeminiMessages([]Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "a"},
	})
	if system == nil || system.Parts[0].Text != "sys" {
		t.Errorf("system instruction: %+v", system)
	}
	if len(contents) != 2 || contents[0].Role != "user" || contents[1].Role != "model" {
		t.Errorf("role mapping: %+v", contents)
	}
}

func TestStream_ConsumerCancel(t *testing.T) {
	// A consumer that walks away must unblock the producer even though the
	// channel is full.
	ctx, cancel := context.WithCancel(context.Background())
	events := make(chan Result, 1)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer close(events)
		for {
			select {
			case events <- Result{Event: TextDelta{Text: "x"}}:
			case <-ctx.Done():
				return
			}
		}
	}()

	s := &Stream{events: events, cancel: cancel}
	<-s.Events()
	s.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer did not observe cancellation")
	}
}
