package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"structure-signals/internal/market"
	"structure-signals/internal/signal"
)

func sampleCandidate() signal.Candidate {
	created := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	return signal.Candidate{
		ID:            "c1",
		Instrument:    "EUR/USD",
		Timeframe:     market.M5,
		Direction:     signal.Buy,
		EntryPrice:    decimal.RequireFromString("1.19321"),
		TakeProfit:    decimal.RequireFromString("1.19471"),
		StopLoss:      decimal.RequireFromString("1.19271"),
		RawConfidence: 0.93,
		ReleaseScore:  0.93,
		Evidence:      []string{"bos bullish above 1.19300"},
		CreatedAt:     created,
		EntryDeadline: created.Add(15 * time.Minute),
		TradeDeadline: created.Add(135 * time.Minute),
	}
}

func TestTelegramAnnounceReturnsMessageID(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Errorf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 4242}})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	ref, err := notifier.Announce(context.Background(), sampleCandidate())
	if err != nil {
		t.Fatalf("Announce 应成功: %v", err)
	}
	if ref != "4242" {
		t.Fatalf("ref = %q", ref)
	}
	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	text, _ := received["text"].(string)
	for _, want := range []string{"EUR/USD", "BUY", "1.19321", "1.19471", "1.19271"} {
		if !strings.Contains(text, want) {
			t.Fatalf("text missing %q: %s", want, text)
		}
	}
}

func TestTelegramFollowUpReplies(t *testing.T) {
	received := make(map[string]any)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&received)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true, "result": map[string]any{"message_id": 4243}})
	}))
	defer srv.Close()

	c := sampleCandidate()
	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	u := UpdateFor(c, signal.Transition{
		CandidateID: c.ID, From: signal.EntryHit, To: signal.TPHit, At: c.CreatedAt.Add(time.Hour),
		Result: signal.ResultProfit, Price: decimal.NewNullDecimal(c.TakeProfit),
	})
	if err := notifier.FollowUp(context.Background(), "4242", u); err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if received["reply_to_message_id"] != float64(4242) {
		t.Fatalf("reply_to_message_id = %v", received["reply_to_message_id"])
	}
	text, _ := received["text"].(string)
	if !strings.Contains(text, "Take profit hit") || !strings.Contains(text, "profit") {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if _, err := notifier.Announce(context.Background(), sampleCandidate()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.FollowUp(context.Background(), "1", Update{To: signal.Cancelled}); err == nil {
		t.Fatal("502 应报错")
	}
}

func TestLogNotifier(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(zerolog.New(&buf))

	ref1, err := n.Announce(context.Background(), sampleCandidate())
	if err != nil {
		t.Fatalf("Announce: %v", err)
	}
	ref2, _ := n.Announce(context.Background(), sampleCandidate())
	if ref1 == ref2 || ref1 == "" {
		t.Fatalf("refs must be unique, got %q %q", ref1, ref2)
	}
	if err := n.FollowUp(context.Background(), ref1, Update{CandidateID: "c1", To: signal.SLHit}); err != nil {
		t.Fatalf("FollowUp: %v", err)
	}
	if !strings.Contains(buf.String(), "Stop loss hit") {
		t.Fatalf("follow-up not logged: %s", buf.String())
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
