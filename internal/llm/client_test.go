package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/lazypower/stage0/internal/config"
)

func TestNewClientClaudeCLI(t *testing.T) {
	cfg := config.LLMConfig{Provider: "claude-cli", Model: "haiku"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*ClaudeCLI); !ok {
		t.Errorf("expected *ClaudeCLI, got %T", client)
	}
}

func TestNewClientAnthropic(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic", AnthropicKey: "test-key", Model: "claude-haiku-4-5-20251001"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	a, ok := client.(*Anthropic)
	if !ok {
		t.Fatalf("expected *Anthropic, got %T", client)
	}
	if a.maxTokens != 2048 {
		t.Errorf("maxTokens = %d, want default 2048", a.maxTokens)
	}
}

func TestNewClientAnthropicMissingKey(t *testing.T) {
	cfg := config.LLMConfig{Provider: "anthropic"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClientOpenAI(t *testing.T) {
	client, err := NewClient(config.LLMConfig{Provider: "openai", OpenAIKey: "k", MaxTokens: 512})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	o, ok := client.(*OpenAI)
	if !ok {
		t.Fatalf("expected *OpenAI, got %T", client)
	}
	if o.model != "gpt-4o-mini" || o.maxTokens != 512 {
		t.Errorf("model = %q, maxTokens = %d", o.model, o.maxTokens)
	}

	if _, err := NewClient(config.LLMConfig{Provider: "openai"}); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestNewClientOllama(t *testing.T) {
	cfg := config.LLMConfig{Provider: "ollama", OllamaModel: "llama3.2"}
	client, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, ok := client.(*Ollama); !ok {
		t.Errorf("expected *Ollama, got %T", client)
	}
}

func TestNewClientUnknown(t *testing.T) {
	cfg := config.LLMConfig{Provider: "gpt"}
	_, err := NewClient(cfg)
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}

func TestOllamaComplete(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"response":"hello","prompt_eval_count":3,"eval_count":4}`))
	}))
	defer srv.Close()

	resp, err := NewOllama(srv.URL, "llama3.2", 100).Complete(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "hello" || resp.TokensUsed != 7 {
		t.Errorf("resp = %+v", resp)
	}
	opts := got["options"].(map[string]any)
	if opts["num_predict"].(float64) != 100 {
		t.Errorf("num_predict = %v, want 100", opts["num_predict"])
	}
}

func TestOllamaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllama(srv.URL, "x", 0).Complete(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want status 404", err)
	}
}

func TestFilterEnv(t *testing.T) {
	env := []string{
		"HOME=/home/user",
		"CLAUDE_SESSION_ID=abc123",
		"STAGE0_CONFIG=/tmp/stage0.toml",
		"PATH=/usr/bin",
	}
	got := filterEnv(env)
	want := []string{"HOME=/home/user", "PATH=/usr/bin"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("filterEnv = %v, want %v", got, want)
	}
}

func TestClaudeCLIArgs(t *testing.T) {
	c := NewClaudeCLI("haiku")
	if got := strings.Join(c.args(), " "); got != "-p --max-turns 1 --model haiku" {
		t.Errorf("args = %q", got)
	}
	if got := strings.Join((&ClaudeCLI{Bin: "claude"}).args(), " "); got != "-p --max-turns 1" {
		t.Errorf("args without model = %q", got)
	}
}

func TestClaudeCLIMissingBinary(t *testing.T) {
	c := &ClaudeCLI{Bin: "stage0-no-such-binary", Model: "haiku"}
	if _, err := c.Complete(context.Background(), "hi"); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestIntentPrompt(t *testing.T) {
	p := IntentPrompt("Add retry to uploads", "feat/retry", []string{"upload.go"})
	for _, want := range []string{"Add retry to uploads", `branch="feat/retry"`, "upload.go", `"max_candidates"`} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if !strings.Contains(IntentPrompt("x", "", nil), "ENVIRONMENT: none") {
		t.Error("empty env should render as none")
	}
}

func TestMockClient(t *testing.T) {
	mock := &MockClient{
		Response: &Response{Content: "test response", Provider: "mock"},
	}

	resp, err := mock.Complete(context.Background(), "test prompt")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "test response" {
		t.Errorf("content = %q, want %q", resp.Content, "test response")
	}
	if mock.CallCount() != 1 {
		t.Errorf("expected 1 call, got %d", mock.CallCount())
	}
	if mock.Calls[0] != "test prompt" {
		t.Errorf("call[0] = %q, want %q", mock.Calls[0], "test prompt")
	}
}

func TestMockClientDelayHonorsContext(t *testing.T) {
	mock := &MockClient{Response: &Response{Content: "late"}, Delay: time.Second}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.Complete(ctx, "p")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
