package notify

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/h1v3-io/deskbridge/internal/identity"
	"github.com/h1v3-io/deskbridge/pkg/protocol"
)

func sampleEvent() *protocol.TicketEvent {
	return &protocol.TicketEvent{
		ID:        "42",
		Subject:   "Printer jam",
		Status:    "New",
		Priority:  "High",
		Type:      "Incident",
		Link:      "https://desk.example.com/tickets/42",
		CreatedAt: protocol.NewTimestamp(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), time.UTC),
	}
}

func TestCompose_TextContainsEveryField(t *testing.T) {
	msg := Compose(sampleEvent(), identity.Result{Name: "Amy Lee"}, LayoutText)
	if len(msg.Blocks) != 0 {
		t.Errorf("text layout should carry no blocks, got %d", len(msg.Blocks))
	}
	for _, want := range []string{"42", "Printer jam", "New", "High", "Incident", "Amy Lee",
		"<https://desk.example.com/tickets/42|View Ticket>", "<!date^1714557600^"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text missing %q:\n%s", want, msg.Text)
		}
	}
}

func TestCompose_BlocksLayout(t *testing.T) {
	msg := Compose(sampleEvent(), identity.Result{UserID: "U01AAA", Name: "Amy"}, LayoutBlocks)
	if len(msg.Blocks) != 2 {
		t.Fatalf("got %d blocks, want 2", len(msg.Blocks))
	}
	raw, err := json.Marshal(msg.Blocks)
	if err != nil {
		t.Fatal(err)
	}
	s := string(raw)
	for _, want := range []string{"New Ticket Received", "Printer jam", "Assigned To", "Priority", "View Ticket"} {
		if !strings.Contains(s, want) {
			t.Errorf("blocks missing %q: %s", want, s)
		}
	}
	// json.Marshal escapes < and >, so check the mention on the fallback text.
	if !strings.Contains(msg.Text, "<@U01AAA>") {
		t.Errorf("mention lost in fallback text: %s", msg.Text)
	}
}

func TestCompose_Defaults(t *testing.T) {
	msg := Compose(&protocol.TicketEvent{}, identity.Result{}, LayoutText)
	for _, want := range []string{"ID: `N/A`", "Subject: *N/A*", "Status: `Unknown`", "Type: `General`",
		"Priority: `Unknown`", "Assigned To: Unassigned", "Created: N/A", "Link: N/A"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text missing %q:\n%s", want, msg.Text)
		}
	}
	if strings.Contains(msg.Text, "<nil>") || strings.Contains(msg.Text, "null") {
		t.Errorf("null leaked into output:\n%s", msg.Text)
	}
}

func TestCompose_NilEvent(t *testing.T) {
	msg := Compose(nil, identity.Result{Name: "Amy"}, LayoutBlocks)
	if !strings.Contains(msg.Text, "ID: `N/A`") {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestCompose_EscapesTicketText(t *testing.T) {
	ev := sampleEvent()
	ev.Subject = "<!channel> & friends"
	msg := Compose(ev, identity.Result{Name: "Bob <ops>"}, LayoutText)
	if strings.Contains(msg.Text, "<!channel>") {
		t.Errorf("broadcast markup leaked: %s", msg.Text)
	}
	if !strings.Contains(msg.Text, "&lt;!channel&gt; &amp; friends") {
		t.Errorf("subject not escaped: %s", msg.Text)
	}
	if !strings.Contains(msg.Text, "Bob &lt;ops&gt;") {
		t.Errorf("assignee not escaped: %s", msg.Text)
	}
}

func TestCompose_MentionShapedNameIsEscaped(t *testing.T) {
	for _, a := range []identity.Result{
		{Name: "<@U0 <!channel> ping>"},
		{Name: "<@U0ADMIN>"},
		{UserID: "U0 <!channel>", Name: "Amy"},
	} {
		msg := Compose(sampleEvent(), a, LayoutText)
		if strings.Contains(msg.Text, "<!channel>") || strings.Contains(msg.Text, "<@U0") {
			t.Errorf("%+v: live markup reached text: %s", a, msg.Text)
		}
	}
}

func TestCompose_LinkCannotCloseToken(t *testing.T) {
	ev := sampleEvent()
	ev.Link = "http://x> <!channel"
	msg := Compose(ev, identity.Result{Name: "Amy"}, LayoutText)
	if strings.Contains(msg.Text, "<!channel") {
		t.Errorf("link injected markup: %s", msg.Text)
	}
	if !strings.Contains(msg.Text, "<http://x%3E %3C!channel|View Ticket>") {
		t.Errorf("link not encoded: %s", msg.Text)
	}
}

func TestParseLayout(t *testing.T) {
	for in, want := range map[string]Layout{"": LayoutBlocks, "Blocks": LayoutBlocks, "text": LayoutText} {
		got, err := ParseLayout(in)
		if err != nil || got != want {
			t.Errorf("ParseLayout(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseLayout("html"); err == nil {
		t.Error("expected error for unknown layout")
	}
}

func TestRenderTimestamp(t *testing.T) {
	if got := RenderTimestamp(protocol.Timestamp{}); got != "N/A" {
		t.Errorf("invalid = %q", got)
	}
	ts := protocol.Timestamp{Epoch: 100, ISO: "1970-01-01T00:01:40Z", Valid: true}
	want := "<!date^100^{date_short_pretty} at {time}|1970-01-01T00:01:40Z>"
	if got := RenderTimestamp(ts); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}
