package slackconn

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/deskbridge/internal/connector"
)

// fakeSlack is a minimal Slack Web API double keyed by method name.
type fakeSlack struct {
	mu       sync.Mutex
	handlers map[string]func(form map[string]string) (int, any)
	calls    map[string][]map[string]string
	srv      *httptest.Server
}

func newFakeSlack(t *testing.T) *fakeSlack {
	t.Helper()
	f := &fakeSlack{
		handlers: make(map[string]func(map[string]string) (int, any)),
		calls:    make(map[string][]map[string]string),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeSlack) on(method string, fn func(form map[string]string) (int, any)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method] = fn
}

func (f *fakeSlack) serve(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := make(map[string]string)
	for k := range r.Form {
		form[k] = r.Form.Get(k)
	}
	method := strings.TrimPrefix(r.URL.Path, "/")

	f.mu.Lock()
	f.calls[method] = append(f.calls[method], form)
	fn, ok := f.handlers[method]
	f.mu.Unlock()

	if !ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"ok": false, "error": "unknown_method"})
		return
	}
	status, body := fn(form)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (f *fakeSlack) callCount(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[method])
}

func (f *fakeSlack) lastCall(method string) map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.calls[method]
	if len(c) == 0 {
		return nil
	}
	return c[len(c)-1]
}

func newTestClient(t *testing.T, f *fakeSlack) *Client {
	t.Helper()
	c, err := New(Config{BotToken: "xoxb-test", APIURL: f.srv.URL}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Error("expected error without bot token")
	}
}

func TestIdentify(t *testing.T) {
	f := newFakeSlack(t)
	f.on("auth.test", func(map[string]string) (int, any) {
		return http.StatusOK, map[string]any{"ok": true, "user_id": "U0BOT", "bot_id": "B0BOT", "team": "Acme", "user": "deskbot"}
	})
	c := newTestClient(t, f)

	id, err := c.Identify(context.Background())
	if err != nil {
		t.Fatalf("Identify: %v", err)
	}
	if id.BotID != "B0BOT" || id.UserID != "U0BOT" {
		t.Errorf("identity = %+v", id)
	}
}

func TestIdentify_Failure(t *testing.T) {
	f := newFakeSlack(t)
	f.on("auth.test", func(map[string]string) (int, any) {
		return http.StatusOK, map[string]any{"ok": false, "error": "invalid_auth"}
	})
	c := newTestClient(t, f)

	if _, err := c.Identify(context.Background()); err == nil {
		t.Error("expected error for invalid_auth")
	}
}

func TestPost_OK(t *testing.T) {
	f := newFakeSlack(t)
	f.on("chat.postMessage", func(form map[string]string) (int, any) {
		return http.StatusOK, map[string]any{"ok": true, "channel": form["channel"], "ts": "1700000000.000100"}
	})
	c := newTestClient(t, f)

	msg := connector.OutboundMessage{
		Text:   "hello",
		Blocks: []slack.Block{slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, "*hi*", false, false), nil, nil)},
	}
	res := c.Post(context.Background(), "C123", msg)
	if !res.OK {
		t.Fatalf("expected OK, got %+v", res)
	}
	if res.Timestamp != "1700000000.000100" {
		t.Errorf("ts = %q", res.Timestamp)
	}

	call := f.lastCall("chat.postMessage")
	if call["channel"] != "C123" {
		t.Errorf("channel = %q", call["channel"])
	}
	if call["text"] != "hello" {
		t.Errorf("text = %q", call["text"])
	}
	if !strings.Contains(call["blocks"], "*hi*") {
		t.Errorf("blocks = %q", call["blocks"])
	}
}

func TestPost_APIError(t *testing.T) {
	f := newFakeSlack(t)
	f.on("chat.postMessage", func(map[string]string) (int, any) {
		return http.StatusOK, map[string]any{"ok": false, "error": "channel_not_found"}
	})
	c := newTestClient(t, f)

	res := c.Post(context.Background(), "CNOPE", connector.OutboundMessage{Text: "x"})
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.Body != "channel_not_found" {
		t.Errorf("body = %q", res.Body)
	}
}

func TestPost_HTTPError(t *testing.T) {
	f := newFakeSlack(t)
	f.on("chat.postMessage", func(map[string]string) (int, any) {
		return http.StatusInternalServerError, map[string]any{"ok": false}
	})
	c := newTestClient(t, f)

	res := c.Post(context.Background(), "C1", connector.OutboundMessage{Text: "x"})
	if res.OK {
		t.Fatal("expected failure")
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", res.StatusCode)
	}
}

func TestPost_NoChannel(t *testing.T) {
	f := newFakeSlack(t)
	c := newTestClient(t, f)

	res := c.Post(context.Background(), "", connector.OutboundMessage{Text: "x"})
	if res.OK {
		t.Error("expected failure without channel")
	}
	if f.callCount("chat.postMessage") != 0 {
		t.Error("no request should be made without a channel")
	}
}

func TestFetchRecent(t *testing.T) {
	f := newFakeSlack(t)
	f.on("conversations.history", func(form map[string]string) (int, any) {
		return http.StatusOK, map[string]any{
			"ok": true,
			"messages": []map[string]any{
				{"type": "message", "bot_id": "B1", "user": "U0BOT", "ts": "3.0", "text": "ticket"},
				{"type": "message", "user": "U42", "ts": "2.0", "text": "human"},
				{"type": "message", "bot_id": "B9", "ts": "1.0", "text": "other bot"},
			},
		}
	})
	c := newTestClient(t, f)

	msgs, err := c.FetchRecent(context.Background(), "C1", 2)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (bounded by limit)", len(msgs))
	}
	if msgs[0].AuthorID != "B1" || msgs[0].Timestamp != "3.0" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].AuthorID != "U42" {
		t.Errorf("msgs[1] author = %q, want user fallback", msgs[1].AuthorID)
	}

	call := f.lastCall("conversations.history")
	if call["channel"] != "C1" || call["limit"] != "2" {
		t.Errorf("history params = %v", call)
	}
}

func TestFetchRecent_Pages(t *testing.T) {
	f := newFakeSlack(t)
	f.on("conversations.history", func(form map[string]string) (int, any) {
		n, _ := strconv.Atoi(form["limit"])
		start := 0
		if form["cursor"] != "" {
			start, _ = strconv.Atoi(form["cursor"])
		}
		msgs := make([]map[string]any, 0, n)
		for i := start; i < start+n && i < 450; i++ {
			msgs = append(msgs, map[string]any{"type": "message", "bot_id": "B1", "ts": strconv.Itoa(1000 - i)})
		}
		next := start + len(msgs)
		return http.StatusOK, map[string]any{
			"ok":                true,
			"messages":          msgs,
			"has_more":          next < 450,
			"response_metadata": map[string]any{"next_cursor": strconv.Itoa(next)},
		}
	})
	c := newTestClient(t, f)

	msgs, err := c.FetchRecent(context.Background(), "C1", 1000)
	if err != nil {
		t.Fatalf("FetchRecent: %v", err)
	}
	if len(msgs) != 450 {
		t.Errorf("got %d messages, want all 450", len(msgs))
	}
	if n := f.callCount("conversations.history"); n != 3 {
		t.Errorf("history calls = %d, want 3", n)
	}
	for _, call := range f.calls["conversations.history"] {
		if l, _ := strconv.Atoi(call["limit"]); l > 999 {
			t.Errorf("page limit %d exceeds Slack maximum", l)
		}
	}

	msgs, err = c.FetchRecent(context.Background(), "C1", 250)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 250 || msgs[249].Timestamp != "751" {
		t.Errorf("got %d messages, last = %+v", len(msgs), msgs[len(msgs)-1])
	}
}

func TestFetchRecent_Error(t *testing.T) {
	f := newFakeSlack(t)
	f.on("conversations.history", func(map[string]string) (int, any) {
		return http.StatusOK, map[string]any{"ok": false, "error": "not_in_channel"}
	})
	c := newTestClient(t, f)

	if _, err := c.FetchRecent(context.Background(), "C1", 20); err == nil {
		t.Error("expected error")
	}
}

func TestDelete(t *testing.T) {
	f := newFakeSlack(t)
	f.on("chat.delete", func(form map[string]string) (int, any) {
		if form["ts"] == "gone" {
			return http.StatusOK, map[string]any{"ok": false, "error": "message_not_found"}
		}
		return http.StatusOK, map[string]any{"ok": true, "channel": form["channel"], "ts": form["ts"]}
	})
	c := newTestClient(t, f)

	if !c.Delete(context.Background(), "C1", "1.0") {
		t.Error("expected delete to succeed")
	}
	if c.Delete(context.Background(), "C1", "gone") {
		t.Error("expected delete of missing message to report false")
	}
}

func TestLookupUserByEmail(t *testing.T) {
	f := newFakeSlack(t)
	f.on("users.lookupByEmail", func(form map[string]string) (int, any) {
		if form["email"] == "amy@example.com" {
			return http.StatusOK, map[string]any{"ok": true, "user": map[string]any{"id": "U77"}}
		}
		return http.StatusOK, map[string]any{"ok": false, "error": "users_not_found"}
	})
	c := newTestClient(t, f)

	id, err := c.LookupUserByEmail(context.Background(), "amy@example.com")
	if err != nil || id != "U77" {
		t.Errorf("got %q, %v", id, err)
	}
	if _, err := c.LookupUserByEmail(context.Background(), "nobody@example.com"); err == nil {
		t.Error("expected users_not_found error")
	}
}

func TestEscapeText(t *testing.T) {
	got := EscapeText("<@U1> & <!channel>")
	want := "&lt;@U1&gt; &amp; &lt;!channel&gt;"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
