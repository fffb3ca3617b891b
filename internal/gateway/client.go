// Package gateway is the HTTP client for the Unipile messaging gateway that
// brokers the Instagram account: account connection, checkpoints, logout,
// sending replies and listing messages.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"time"

	"dmdesk/internal/metrics"
)

const maxResponseBody = 4 << 20

// Config configures the gateway client.
type Config struct {
	BaseURL        string // scheme included, no trailing slash
	APIKey         string
	Provider       string // account provider, "INSTAGRAM"
	UserAgent      string
	RequestTimeout time.Duration // per call for send, logout and fetch
	HTTPClient     *http.Client
	Logger         *slog.Logger
}

// Client talks to the gateway REST API.
type Client struct {
	baseURL   string
	apiKey    string
	provider  string
	userAgent string
	timeout   time.Duration
	http      *http.Client
	logger    *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.Provider == "" {
		cfg.Provider = "INSTAGRAM"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = newHTTPClient()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		baseURL:   cfg.BaseURL,
		apiKey:    cfg.APIKey,
		provider:  cfg.Provider,
		userAgent: cfg.UserAgent,
		timeout:   cfg.RequestTimeout,
		http:      cfg.HTTPClient,
		logger:    cfg.Logger.With("component", "gateway"),
	}
}

// newHTTPClient has no overall timeout; calls are bounded by their context.
func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        20,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

// AuthResult is the gateway's answer to an account connection or checkpoint.
type AuthResult struct {
	Status         int
	AccountID      string
	Checkpoint     bool
	CheckpointType string
	Message        string
}

// Succeeded reports a completed connection.
func (r *AuthResult) Succeeded() bool {
	return r.Status == http.StatusOK || r.Status == http.StatusCreated
}

// NeedsCheckpoint reports that a second factor must be submitted.
func (r *AuthResult) NeedsCheckpoint() bool {
	return (r.Status == http.StatusCreated || r.Status == http.StatusAccepted) && r.Checkpoint
}

type authBody struct {
	AccountID  string          `json:"account_id"`
	Checkpoint json.RawMessage `json:"checkpoint"`
	Message    string          `json:"message"`
	Detail     string          `json:"detail"`
}

// Authenticate starts an account connection. Non-2xx answers are returned
// as an AuthResult, not an error; only transport failures are errors.
func (c *Client) Authenticate(ctx context.Context, username, password string) (*AuthResult, error) {
	payload := map[string]string{
		"provider": c.provider,
		"username": username,
		"password": password,
	}
	return c.postAuth(ctx, "/api/v1/accounts", payload)
}

// SolveCheckpoint submits a two-factor code for a pending connection.
func (c *Client) SolveCheckpoint(ctx context.Context, accountID, code string) (*AuthResult, error) {
	payload := map[string]string{
		"provider":   c.provider,
		"account_id": accountID,
		"code":       code,
	}
	return c.postAuth(ctx, "/api/v1/accounts/checkpoint", payload)
}

func (c *Client) postAuth(ctx context.Context, path string, payload any) (*AuthResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	status, raw, err := c.do(req)
	if err != nil {
		return nil, asTransportError("gateway auth", err)
	}

	var ab authBody
	_ = json.Unmarshal(raw, &ab)
	res := &AuthResult{
		Status:    status,
		AccountID: ab.AccountID,
		Message:   firstNonEmpty(ab.Message, ab.Detail),
	}
	if cp := bytes.TrimSpace(ab.Checkpoint); len(cp) > 0 && !bytes.Equal(cp, []byte("null")) && !bytes.Equal(cp, []byte("false")) {
		res.Checkpoint = true
		var typed struct {
			Type string `json:"type"`
		}
		if json.Unmarshal(cp, &typed) == nil {
			res.CheckpointType = typed.Type
		}
	}
	c.logger.Debug("auth response", "path", path, "status", status, "checkpoint", res.Checkpoint)
	return res, nil
}

// DeleteAccount disconnects an account from the gateway.
func (c *Client) DeleteAccount(ctx context.Context, accountID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/v1/accounts/"+url.PathEscape(accountID), nil)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	status, raw, err := c.do(req)
	if err != nil {
		return asTransportError("gateway logout", err)
	}
	if !ok(status) {
		return upstreamError(KindLogout, status, raw, "Failed to logout")
	}
	return nil
}

// SendMessage posts a text reply into a chat as multipart form data.
func (c *Client) SendMessage(ctx context.Context, accountID, chatID, text string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("account_id", accountID); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if err := mw.WriteField("text", text); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/chats/"+url.PathEscape(chatID)+"/messages", &buf)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	status, raw, err := c.do(req)
	if err != nil {
		return nil, asTransportError("gateway send", err)
	}
	if !ok(status) {
		return nil, upstreamError(KindSend, status, raw, "Failed to send message")
	}
	return jsonOrNull(raw), nil
}

// ListMessages returns the gateway's raw message listing for an account.
func (c *Client) ListMessages(ctx context.Context, accountID string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{"account_id": {accountID}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/messages?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	status, raw, err := c.do(req)
	if err != nil {
		return nil, asTransportError("gateway fetch", err)
	}
	if !ok(status) {
		return nil, upstreamError(KindFetch, status, raw, "Failed to fetch messages")
	}
	return jsonOrNull(raw), nil
}

// Healthy checks that the gateway answers at all. Any HTTP status counts.
func (c *Client) Healthy(ctx context.Context) error {
	if c.baseURL == "" {
		return fmt.Errorf("gateway DSN not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/accounts", nil)
	if err != nil {
		return err
	}
	status, _, err := c.do(req)
	if err != nil {
		return asTransportError("gateway health", err)
	}
	if status == http.StatusUnauthorized {
		return fmt.Errorf("gateway: invalid API key")
	}
	return nil
}

func (c *Client) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("X-API-KEY", c.apiKey)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.GatewayLatency.ObserveSince(start)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return 0, nil, err
	}
	c.logger.Debug("gateway call",
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)
	return resp.StatusCode, raw, nil
}

func ok(status int) bool {
	return status >= 200 && status < 300
}

// upstreamError builds an *Error from the gateway's message or detail field.
func upstreamError(kind string, status int, raw []byte, fallback string) error {
	var body struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	_ = json.Unmarshal(raw, &body)
	return &Error{Kind: kind, Status: status, Message: firstNonEmpty(body.Message, body.Detail, fallback)}
}

func jsonOrNull(raw []byte) json.RawMessage {
	if len(bytes.TrimSpace(raw)) == 0 || !json.Valid(raw) {
		return json.RawMessage("null")
	}
	return json.RawMessage(raw)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
