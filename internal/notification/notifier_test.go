package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"momentum-botv1/internal/model"

	"github.com/shopspring/decimal"
)

var pos = model.Position{
	ID:         "p-1",
	Ticker:     "KXBTC15M-26MAR011215-15",
	Direction:  model.No,
	Signal:     "RSI=82>80+DIP_GOLD",
	RSI:        82.4,
	EntryPrice: decimal.RequireFromString("0.63"),
	Contracts:  10,
	CloseTime:  time.Date(2026, 3, 1, 12, 15, 0, 0, time.UTC),
}

func TestAlerts(t *testing.T) {
	a := OpenedAlert(pos)
	if a.Title != "OPENED NO KXBTC15M-26MAR011215-15" {
		t.Errorf("title = %q", a.Title)
	}
	if !strings.Contains(a.Message, "10 @ $0.63 = $6.30") || !strings.Contains(a.Message, "12:15 UTC") {
		t.Errorf("message = %q", a.Message)
	}

	s := SettledAlert(model.Settlement{Position: pos, Outcome: model.Yes, Won: false, Profit: decimal.RequireFromString("-6.3")})
	if s.Level != AlertWarning || !strings.HasPrefix(s.Title, "LOSS") || !strings.Contains(s.Message, "pnl $-6.30") {
		t.Errorf("loss alert = %+v", s)
	}
}

func TestWebhook_PostsJSON(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), OpenedAlert(pos)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["level"] != "INFO" || got["title"] != "OPENED NO KXBTC15M-26MAR011215-15" {
		t.Errorf("payload = %v", got)
	}
}

func TestWebhook_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	if err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{}); err == nil {
		t.Error("expected error on 500")
	}
}

func TestTelegram_EscapesAndTargetsBot(t *testing.T) {
	var path string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		json.NewDecoder(r.Body).Decode(&body)
	}))
	defer srv.Close()

	tg := NewTelegramNotifier("TOKEN", "42")
	tg.baseURL = srv.URL
	if err := tg.Send(context.Background(), Alert{Level: AlertCritical, Title: "a.b", Message: "x-y"}); err != nil {
		t.Fatal(err)
	}
	if path != "/botTOKEN/sendMessage" {
		t.Errorf("path = %s", path)
	}
	text, _ := body["text"].(string)
	if !strings.Contains(text, `a\.b`) || !strings.Contains(text, `x\-y`) {
		t.Errorf("text not escaped: %q", text)
	}
}

type recNotifier struct {
	mu  sync.Mutex
	got []Alert
	err error
}

func (r *recNotifier) Send(ctx context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, a)
	return r.err
}

func (r *recNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok := &recNotifier{}
	bad := &recNotifier{err: errors.New("down")}
	err := Multi{bad, ok}.Send(context.Background(), Alert{Title: "x"})
	if err == nil || ok.count() != 1 {
		t.Errorf("expected error and delivery to healthy backend, err=%v count=%d", err, ok.count())
	}
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	rec := &recNotifier{err: errors.New("ignored")}
	d := NewDispatcher(rec, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Opened(pos)
	d.Settled(model.Settlement{Position: pos, Outcome: model.No, Won: true})

	deadline := time.Now().Add(time.Second)
	for rec.count() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if rec.count() != 2 {
		t.Fatalf("expected 2 alerts, got %d", rec.count())
	}
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	rec := &recNotifier{}
	d := NewDispatcher(rec, 1)
	d.Notify(Alert{Title: "a"})
	d.Notify(Alert{Title: "b"}) // no Run: queue stays full
	if len(d.queue) != 1 {
		t.Errorf("queue len = %d, want 1", len(d.queue))
	}
}
