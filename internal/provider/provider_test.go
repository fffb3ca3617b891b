package provider

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"dmdesk/internal/config"
	"dmdesk/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestOpenAI_Chat(t *testing.T) {
	var got completionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Open 9 to 5!"},"finish_reason":"stop"}],"usage":{"total_tokens":12}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIKey: "sk-test", APIBase: srv.URL, Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:  []domain.Message{{Role: "system", Content: "prompt"}},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Open 9 to 5!" || resp.Usage.TotalTokens != 12 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 100 || len(got.Messages) != 1 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestOpenAI_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "" {
		t.Fatalf("expected empty content, got %q", resp.Content)
	}
}

func TestOpenAI_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{APIBase: srv.URL, Logger: testLogger()})
	_, err := p.Chat(context.Background(), domain.ChatRequest{})
	if err == nil || !strings.Contains(err.Error(), "429") {
		t.Fatalf("expected 429 error, got %v", err)
	}
}

func TestOllama_ChatOptions(t *testing.T) {
	var got ollamaRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"message":{"role":"assistant","content":"hi"},"done":true,"done_reason":"stop","eval_count":3}`))
	}))
	defer srv.Close()

	p := NewOllama(OllamaConfig{APIBase: srv.URL, Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages:  []domain.Message{{Role: "system", Content: "p"}},
		MaxTokens: 100,
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "hi" || resp.Usage.CompletionTokens != 3 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got.Stream || got.Options["num_predict"] != float64(100) {
		t.Fatalf("unexpected request %+v", got)
	}
}

func TestClaude_SystemOnlyBecomesUserTurn(t *testing.T) {
	var got claudeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("anthropic-version") == "" {
			t.Error("missing anthropic-version header")
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.Write([]byte(`{"content":[{"type":"text","text":"Hello"}],"stop_reason":"end_turn"}`))
	}))
	defer srv.Close()

	p := NewClaude(ClaudeConfig{APIKey: "k", APIBase: srv.URL, Logger: testLogger()})
	resp, err := p.Chat(context.Background(), domain.ChatRequest{
		Messages: []domain.Message{{Role: "system", Content: "draft a reply"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Hello" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if got.System != "" || len(got.Messages) != 1 || got.Messages[0].Role != "user" || got.Messages[0].Content != "draft a reply" {
		t.Fatalf("unexpected request %+v", got)
	}
}

type fakeProvider struct {
	req  domain.ChatRequest
	resp *domain.ChatResponse
	err  error
}

func (f *fakeProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	f.req = req
	return f.resp, f.err
}
func (f *fakeProvider) Name() string                      { return "fake" }
func (f *fakeProvider) Healthy(ctx context.Context) error { return nil }

func TestDrafter_Prompt(t *testing.T) {
	fp := &fakeProvider{resp: &domain.ChatResponse{Content: "We open at 9."}}
	d := NewDrafter(DrafterConfig{
		Provider:  fp,
		Template:  config.DefaultPromptTemplate,
		MaxTokens: 100,
		Logger:    testLogger(),
	})

	out, err := d.Draft(context.Background(), "What are your hours?", "Instagram")
	if err != nil {
		t.Fatal(err)
	}
	if out != "We open at 9." {
		t.Fatalf("unexpected draft %q", out)
	}
	want := `You are the social media manager for a restaurant brand. The user asked on Instagram: "What are your hours?". Reply on-brand, relevant, informative, timely.`
	if len(fp.req.Messages) != 1 || fp.req.Messages[0].Role != "system" || fp.req.Messages[0].Content != want {
		t.Fatalf("unexpected prompt %+v", fp.req.Messages)
	}
	if fp.req.MaxTokens != 100 {
		t.Fatalf("expected max tokens 100, got %d", fp.req.MaxTokens)
	}
}

func TestDrafter_ProviderError(t *testing.T) {
	boom := errors.New("boom")
	d := NewDrafter(DrafterConfig{Provider: &fakeProvider{err: boom}, Template: "{message}", Logger: testLogger()})
	if _, err := d.Draft(context.Background(), "x", "Instagram"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestDrafter_NoProvider(t *testing.T) {
	d := NewDrafter(DrafterConfig{Template: "{message}"})
	if _, err := d.Draft(context.Background(), "x", "Instagram"); err == nil {
		t.Fatal("expected error without provider")
	}
}

func TestFactory_Get(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())

	p, err := f.DefaultProvider()
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "openai" {
		t.Fatalf("expected openai, got %s", p.Name())
	}
	again, _ := f.Get("openai")
	if again != p {
		t.Fatal("expected cached instance")
	}

	if _, err := f.Get("ollama"); err == nil {
		t.Fatal("expected error for disabled provider")
	}
	if _, err := f.Get("nope"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestFactory_OpenAICompatibleFallback(t *testing.T) {
	cfg := config.Defaults()
	cfg.Providers["groq"] = config.ProviderConfig{Enabled: true, APIBase: "https://api.groq.com/openai/v1", APIKey: "k"}
	f := NewFactory(cfg, testLogger())

	p, err := f.Get("groq")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*OpenAI); !ok {
		t.Fatalf("expected OpenAI-compatible provider, got %T", p)
	}
}

func TestFactory_RegisterConstructor(t *testing.T) {
	cfg := config.Defaults()
	f := NewFactory(cfg, testLogger())
	fp := &fakeProvider{}
	f.RegisterConstructor("openai", func(pc config.ProviderConfig, logger *slog.Logger) domain.Provider { return fp })

	p, err := f.Get("openai")
	if err != nil {
		t.Fatal(err)
	}
	if p != domain.Provider(fp) {
		t.Fatal("registered constructor not used")
	}
}

func TestOpenAI_StatusErrorAndHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	bad := NewOpenAI(OpenAIConfig{APIKey: "bad", APIBase: srv.URL, Logger: testLogger()})
	if err := bad.Healthy(context.Background()); err == nil || !strings.Contains(err.Error(), "invalid API key") {
		t.Fatalf("expected auth failure, got %v", err)
	}

	good := NewOpenAI(OpenAIConfig{APIKey: "good", APIBase: srv.URL, Logger: testLogger()})
	_, err := good.Chat(context.Background(), domain.ChatRequest{})
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway || se.Provider != "openai" {
		t.Fatalf("expected StatusError 502, got %v", err)
	}
}
