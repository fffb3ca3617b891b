package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:        srv.URL,
		APIKey:         "secret-key",
		UserAgent:      "Social-AI-Dashboard/1.0",
		RequestTimeout: 2 * time.Second,
		Logger:         testLogger(),
	})
}

func TestAuthenticate_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/accounts" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-KEY") != "secret-key" {
			t.Errorf("missing api key header")
		}
		if r.Header.Get("User-Agent") != "Social-AI-Dashboard/1.0" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["provider"] != "INSTAGRAM" || body["username"] != "alice" || body["password"] != "pw" {
			t.Errorf("unexpected payload %v", body)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"object":"AccountCreated","account_id":"acc-1"}`))
	})

	res, err := c.Authenticate(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Succeeded() || res.NeedsCheckpoint() || res.AccountID != "acc-1" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestAuthenticate_Checkpoint(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"account_id":"acc-2","checkpoint":{"type":"2FA"}}`))
	})

	res, err := c.Authenticate(context.Background(), "alice", "pw")
	if err != nil {
		t.Fatal(err)
	}
	if !res.NeedsCheckpoint() || res.CheckpointType != "2FA" || res.AccountID != "acc-2" {
		t.Fatalf("expected checkpoint, got %+v", res)
	}
}

func TestAuthenticate_RejectedIsNotError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Invalid credentials"}`))
	})

	res, err := c.Authenticate(context.Background(), "alice", "bad")
	if err != nil {
		t.Fatal(err)
	}
	if res.Succeeded() || res.Status != 401 || res.Message != "Invalid credentials" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestSolveCheckpoint_Payload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/accounts/checkpoint" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		if body["account_id"] != "acc-2" || body["code"] != "123456" || body["provider"] != "INSTAGRAM" {
			t.Errorf("unexpected payload %v", body)
		}
		w.Write([]byte(`{"account_id":"acc-2"}`))
	})

	res, err := c.SolveCheckpoint(context.Background(), "acc-2", "123456")
	if err != nil {
		t.Fatal(err)
	}
	if !res.Succeeded() {
		t.Fatalf("expected success, got %+v", res)
	}
}

func TestAuthenticate_ContextTimeout(t *testing.T) {
	block := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	})
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Authenticate(ctx, "alice", "pw")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestSendMessage_Multipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/chats/chat-9/messages" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("not multipart: %v", err)
		}
		if r.FormValue("account_id") != "acc-1" || r.FormValue("text") != "We open at 9" {
			t.Errorf("unexpected form %v", r.MultipartForm.Value)
		}
		w.Write([]byte(`{"object":"MessageSent","message_id":"m1"}`))
	})

	raw, err := c.SendMessage(context.Background(), "acc-1", "chat-9", "We open at 9")
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid(raw) {
		t.Fatalf("invalid json %s", raw)
	}
}

func TestSendMessage_UpstreamError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		w.Write([]byte(`{"message":"Chat not found"}`))
	})

	_, err := c.SendMessage(context.Background(), "acc-1", "chat-9", "hi")
	var gerr *Error
	if !errors.As(err, &gerr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if gerr.Status != 422 || gerr.Message != "Chat not found" || gerr.Kind != KindSend {
		t.Fatalf("unexpected error %+v", gerr)
	}
}

func TestSendMessage_FallbackMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`not json`))
	})

	_, err := c.SendMessage(context.Background(), "acc-1", "chat-9", "hi")
	var gerr *Error
	if !errors.As(err, &gerr) || gerr.Message != "Failed to send message" {
		t.Fatalf("expected fallback message, got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	var gotPath string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		gotPath = r.URL.Path
		w.Write([]byte(`{"object":"AccountDeleted"}`))
	})

	if err := c.DeleteAccount(context.Background(), "acc-1"); err != nil {
		t.Fatal(err)
	}
	if gotPath != "/api/v1/accounts/acc-1" {
		t.Fatalf("unexpected path %s", gotPath)
	}
}

func TestListMessages(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("account_id") != "acc-1" {
			t.Errorf("missing account_id query")
		}
		w.Write([]byte(`{"object":"MessageList","items":[]}`))
	})

	raw, err := c.ListMessages(context.Background(), "acc-1")
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out["object"] != "MessageList" {
		t.Fatalf("unexpected body %s", raw)
	}
}
