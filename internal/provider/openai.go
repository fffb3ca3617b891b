package provider

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"dmdesk/internal/domain"
)

const (
	openAIDefaultBase  = "https://api.openai.com/v1"
	openAIDefaultModel = "gpt-4o-mini"
)

// OpenAI talks to any OpenAI-compatible chat completions endpoint.
type OpenAI struct {
	apiKey  string
	apiBase string
	model   string
	client  *http.Client
	logger  *slog.Logger
}

type OpenAIConfig struct {
	APIKey     string
	APIBase    string
	Model      string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	o := &OpenAI{
		apiKey:  cfg.APIKey,
		apiBase: strings.TrimRight(cfg.APIBase, "/"),
		model:   cfg.Model,
		client:  cfg.HTTPClient,
		logger:  cfg.Logger,
	}
	if o.apiBase == "" {
		o.apiBase = openAIDefaultBase
	}
	if o.model == "" {
		o.model = openAIDefaultModel
	}
	if o.client == nil {
		o.client = SharedHTTPClient(defaultHTTPTimeout)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) auth() http.Header {
	return http.Header{"Authorization": {"Bearer " + o.apiKey}}
}

// Healthy lists models, which fails fast on a bad key.
func (o *OpenAI) Healthy(ctx context.Context) error {
	return probe(ctx, o.client, o.Name(), o.apiBase+"/models", o.auth())
}

type completionRequest struct {
	Model       string           `json:"model"`
	Messages    []domain.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message      domain.Message `json:"message"`
		FinishReason string         `json:"finish_reason"`
	} `json:"choices"`
	Usage domain.Usage `json:"usage"`
}

func (o *OpenAI) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	body := completionRequest{
		Model:     firstNonEmpty(req.Model, o.model),
		Messages:  req.Messages,
		MaxTokens: req.MaxTokens,
	}
	if req.Temperature > 0 {
		body.Temperature = &req.Temperature
	}

	var out completionResponse
	took, err := postJSON(ctx, o.client, o.Name(), o.apiBase+"/chat/completions", o.auth(), body, &out)
	if err != nil {
		return nil, err
	}

	resp := &domain.ChatResponse{
		FinishReason: "stop",
		LatencyMs:    took.Milliseconds(),
		Usage:        out.Usage,
	}
	if len(out.Choices) > 0 {
		resp.Content = out.Choices[0].Message.Content
		resp.FinishReason = out.Choices[0].FinishReason
	}
	return resp, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
