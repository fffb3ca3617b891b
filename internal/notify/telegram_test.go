package notify

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"dmdesk/internal/bus"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func TestFormatAccepted(t *testing.T) {
	got := FormatAccepted(bus.Event{Payload: map[string]any{"user": "alice", "text": "What are your hours?"}})
	if got != "New DM from alice: What are your hours?" {
		t.Errorf("unexpected alert %q", got)
	}

	long := strings.Repeat("é", previewLen+10)
	got = FormatAccepted(bus.Event{Payload: map[string]any{"text": long}})
	if !strings.HasPrefix(got, "New DM from unknown sender: ") || !strings.HasSuffix(got, "...") {
		t.Errorf("unexpected alert %q", got)
	}
}

func TestSplitMessage_Short(t *testing.T) {
	if chunks := splitMessage("short message", 100); len(chunks) != 1 {
		t.Errorf("expected 1 chunk, got %d", len(chunks))
	}
}

func TestSplitMessage_Long(t *testing.T) {
	long := strings.Repeat("word ", 100)
	chunks := splitMessage(long, 50)
	if len(chunks) < 2 {
		t.Errorf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if len(c) > 50 {
			t.Errorf("chunk %d too long: %d", i, len(c))
		}
	}
	if strings.Join(chunks, "") != long {
		t.Error("chunks do not reassemble to the original")
	}
}

func TestSplitMessage_PrefersNewline(t *testing.T) {
	msg := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 40)
	chunks := splitMessage(msg, 50)
	if chunks[0] != strings.Repeat("a", 40)+"\n" {
		t.Errorf("expected split after newline, got %q", chunks[0])
	}
}

// fakeBotAPI answers getMe and records sendMessage calls.
type fakeBotAPI struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeBotAPI) server(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"desk","username":"dmdesk_bot"}}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			f.mu.Lock()
			f.sent = append(f.sent, r.FormValue("chat_id")+":"+r.FormValue("text"))
			f.mu.Unlock()
			w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
		default:
			w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func (f *fakeBotAPI) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

func TestTelegram_NotifyBeforeStart(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "t", ChatIDs: []string{"42"}, Logger: testLogger()})
	if err := tg.Notify(context.Background(), "hi"); err == nil {
		t.Fatal("expected error before Start")
	}
}

func TestTelegram_StartRequiresChats(t *testing.T) {
	tg := NewTelegram(TelegramConfig{Token: "t", ChatIDs: []string{"not-a-number"}, Logger: testLogger()})
	if err := tg.Start(context.Background()); err == nil {
		t.Fatal("expected error without valid chat ids")
	}
}

func TestTelegram_SubscribeForwardsAccepted(t *testing.T) {
	api := &fakeBotAPI{}
	srv := api.server(t)

	tg := NewTelegram(TelegramConfig{
		Token:       "t",
		ChatIDs:     []string{"42", "43"},
		APIEndpoint: srv.URL + "/bot%s/%s",
		Logger:      testLogger(),
	})
	if err := tg.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	eb := bus.NewEventBus(testLogger())
	tg.Subscribe(eb)
	eb.Emit(bus.Event{Type: bus.EventMessageAccepted, Payload: map[string]any{"user": "alice", "text": "hi"}, Timestamp: time.Now()})
	eb.Emit(bus.Event{Type: bus.EventReplySent, Payload: map[string]any{"text": "ignored"}, Timestamp: time.Now()})
	tg.Stop()

	got := api.messages()
	if len(got) != 2 {
		t.Fatalf("expected 2 sends, got %v", got)
	}
	for _, m := range got {
		if !strings.HasSuffix(m, ":New DM from alice: hi") {
			t.Errorf("unexpected send %q", m)
		}
	}
}
