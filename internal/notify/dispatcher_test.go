package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeTransport records posted messages and can be told to fail.
type fakeTransport struct {
	mu     sync.Mutex
	posts  []string
	failer error
}

func (f *fakeTransport) Platform() string { return "fake" }

func (f *fakeTransport) Post(_ context.Context, _, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failer != nil {
		return f.failer
	}
	f.posts = append(f.posts, text)
	return nil
}

func (f *fakeTransport) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.posts))
	copy(out, f.posts)
	return out
}

func newTestDispatcher(tr *fakeTransport) (*Dispatcher, *time.Time) {
	d := NewDispatcher(tr, NewMemoryCooldowns(), 10*time.Minute, zap.NewNop())
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }
	d.sleep = func(time.Duration) {}
	return d, &now
}

func TestCooldownSuppressesSecondAlert(t *testing.T) {
	tr := &fakeTransport{}
	d, now := newTestDispatcher(tr)
	ctx := context.Background()

	d.SendAlert(ctx, "http://hook", "srv", "first")
	d.SendAlert(ctx, "http://hook", "srv", "second")

	if got := len(tr.sent()); got != 1 {
		t.Fatalf("posts within cooldown: got %d, want 1", got)
	}

	// After the window elapses the next alert goes out.
	*now = now.Add(10*time.Minute + time.Second)
	d.SendAlert(ctx, "http://hook", "srv", "third")
	if got := len(tr.sent()); got != 2 {
		t.Errorf("posts after cooldown: got %d, want 2", got)
	}
}

func TestCooldownIsPerKey(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr)
	ctx := context.Background()

	d.SendAlert(ctx, "http://hook", "srv-a", "m")
	d.SendAlert(ctx, "http://hook", "srv-b", "m")

	if got := len(tr.sent()); got != 2 {
		t.Errorf("distinct keys: got %d posts, want 2", got)
	}
}

func TestFailedSendDoesNotMarkCooldown(t *testing.T) {
	tr := &fakeTransport{failer: errors.New("down")}
	d, _ := newTestDispatcher(tr)
	ctx := context.Background()

	d.SendAlert(ctx, "http://hook", "srv", "m")

	// Transport recovers; the retry must not be suppressed.
	tr.mu.Lock()
	tr.failer = nil
	tr.mu.Unlock()
	d.SendAlert(ctx, "http://hook", "srv", "m")

	if got := len(tr.sent()); got != 1 {
		t.Errorf("got %d posts after recovery, want 1", got)
	}
}

func TestReportBypassesCooldown(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := d.SendReport(ctx, "http://hook", "report"); err != nil {
			t.Fatalf("report %d: %v", i, err)
		}
	}
	if got := len(tr.sent()); got != 3 {
		t.Errorf("got %d posts, want 3", got)
	}
}

func TestLongMessageSplitsIntoOrderedChunks(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr)

	msg := strings.Repeat("a", 1900) + strings.Repeat("b", 1900) + strings.Repeat("c", 700)
	if err := d.SendReport(context.Background(), "http://hook", msg); err != nil {
		t.Fatalf("send: %v", err)
	}

	posts := tr.sent()
	if len(posts) != 3 {
		t.Fatalf("got %d chunks, want 3", len(posts))
	}
	for i, p := range posts {
		if len(p) > 1900 {
			t.Errorf("chunk %d is %d chars, want <= 1900", i, len(p))
		}
	}
	if strings.Join(posts, "") != msg {
		t.Error("concatenated chunks differ from original message")
	}
}

func TestShortMessageSentWhole(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr)

	msg := strings.Repeat("x", 2000)
	if err := d.SendReport(context.Background(), "http://hook", msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := len(tr.sent()); got != 1 {
		t.Errorf("got %d posts, want 1", got)
	}
}

func TestEmptyWebhookIsNoop(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr)

	d.SendAlert(context.Background(), "", "srv", "m")
	if err := d.SendReport(context.Background(), "", "m"); err != nil {
		t.Fatalf("report: %v", err)
	}
	if got := len(tr.sent()); got != 0 {
		t.Errorf("got %d posts, want 0", got)
	}
}

func TestEnqueueAlertDelivers(t *testing.T) {
	tr := &fakeTransport{}
	d, _ := newTestDispatcher(tr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	d.Start(ctx)

	d.EnqueueAlert("http://hook", "srv", "queued")

	deadline := time.After(2 * time.Second)
	for len(tr.sent()) == 0 {
		select {
		case <-deadline:
			t.Fatal("queued alert never delivered")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if !strings.Contains(tr.sent()[0], "queued") {
		t.Errorf("unexpected alert body: %q", tr.sent()[0])
	}
}

func TestParseDiscordWebhookURL(t *testing.T) {
	id, token, err := parseDiscordWebhookURL("https://discord.com/api/webhooks/123/abc-def")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "123" || token != "abc-def" {
		t.Errorf("got (%q, %q), want (123, abc-def)", id, token)
	}

	if _, _, err := parseDiscordWebhookURL("https://example.com/nope"); err == nil {
		t.Error("expected error for non-webhook url")
	}
}

func TestMemoryCooldowns(t *testing.T) {
	c := NewMemoryCooldowns()
	if _, ok := c.Last("k"); ok {
		t.Error("empty store should miss")
	}
	now := time.Now()
	c.Mark("k", now)
	got, ok := c.Last("k")
	if !ok || !got.Equal(now) {
		t.Errorf("got (%v, %v), want (%v, true)", got, ok, now)
	}
}
