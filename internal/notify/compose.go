// Package notify renders ticket events as Slack messages.
package notify

import (
	"fmt"
	"strings"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/deskbridge/internal/connector"
	slackconn "github.com/h1v3-io/deskbridge/internal/connector/slack"
	"github.com/h1v3-io/deskbridge/internal/identity"
	"github.com/h1v3-io/deskbridge/pkg/protocol"
)

// Layout selects how a ticket is rendered.
type Layout string

const (
	LayoutBlocks Layout = "blocks" // Block Kit section with one field per attribute
	LayoutText   Layout = "text"   // single mrkdwn text message
)

const heading = ":admission_tickets: *New Ticket Received*"

// ParseLayout validates a configured layout name. Empty means blocks.
func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case "", LayoutBlocks:
		return LayoutBlocks, nil
	case LayoutText:
		return LayoutText, nil
	}
	return "", fmt.Errorf("notify: unknown layout %q (want blocks or text)", s)
}

// Compose renders ev with the already-resolved assignee. The text
// rendering is always present: it is the whole message in the text layout and
// the notification fallback in the blocks layout.
func Compose(ev *protocol.TicketEvent, assignee identity.Result, layout Layout) connector.OutboundMessage {
	f := fieldsOf(ev, assignee)
	msg := connector.OutboundMessage{Text: renderText(f)}
	if layout != LayoutText {
		msg.Blocks = renderBlocks(f)
	}
	return msg
}

// fields holds every rendered value, already escaped and defaulted.
type fields struct {
	link, id, subject, status, kind, priority, assignee, created string
}

func fieldsOf(ev *protocol.TicketEvent, assignee identity.Result) fields {
	if ev == nil {
		ev = &protocol.TicketEvent{}
	}
	return fields{
		link:     renderLink(ev.Link),
		id:       slackconn.EscapeText(ev.DisplayID()),
		subject:  slackconn.EscapeText(ev.DisplaySubject()),
		status:   slackconn.EscapeText(ev.DisplayStatus()),
		kind:     slackconn.EscapeText(ev.DisplayType()),
		priority: slackconn.EscapeText(ev.DisplayPriority()),
		assignee: renderAssignee(assignee),
		created:  RenderTimestamp(ev.CreatedAt),
	}
}

func renderText(f fields) string {
	var b strings.Builder
	b.WriteString(heading)
	fmt.Fprintf(&b, "\nID: `%s`", f.id)
	fmt.Fprintf(&b, "\nSubject: *%s*", f.subject)
	fmt.Fprintf(&b, "\nStatus: `%s`", f.status)
	fmt.Fprintf(&b, "\nType: `%s`", f.kind)
	fmt.Fprintf(&b, "\nPriority: `%s`", f.priority)
	fmt.Fprintf(&b, "\nAssigned To: %s", f.assignee)
	fmt.Fprintf(&b, "\nCreated: %s", f.created)
	fmt.Fprintf(&b, "\nLink: %s", f.link)
	return b.String()
}

func renderBlocks(f fields) []slack.Block {
	field := func(label, value string) *slack.TextBlockObject {
		return slack.NewTextBlockObject(slack.MarkdownType, label+"\n"+value, false, false)
	}
	return []slack.Block{
		slack.NewSectionBlock(slack.NewTextBlockObject(slack.MarkdownType, heading, false, false), nil, nil),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			field("*🔗 Link:*", f.link),
			field("*🆔 ID:*", "`"+f.id+"`"),
			field("*📌 Subject:*", "*"+f.subject+"*"),
			field("*📊 Status:*", "`"+f.status+"`"),
			field("*🏷️ Type:*", "`"+f.kind+"`"),
			field("*🚨 Priority:*", "`"+f.priority+"`"),
			field("*🙋 Assigned To:*", f.assignee),
			field("*🕒 Created:*", f.created),
		}, nil),
	}
}

// RenderTimestamp renders a Slack date token that each reader sees in their
// own zone, with the ISO string as fallback. Invalid timestamps render "N/A".
func RenderTimestamp(ts protocol.Timestamp) string {
	if !ts.Valid {
		return protocol.PlaceholderNA
	}
	return fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>", ts.Epoch, ts.ISO)
}

func renderLink(link string) string {
	if link == "" {
		return protocol.PlaceholderNA
	}
	return "<" + linkEscaper.Replace(link) + "|View Ticket>"
}

// linkEscaper percent-encodes the characters that would end a Slack link token.
var linkEscaper = strings.NewReplacer("|", "%7C", "<", "%3C", ">", "%3E")

// renderAssignee emits mention markup only for a well-formed Slack user id.
// Display names are always escaped.
func renderAssignee(a identity.Result) string {
	if identity.ValidUserID(a.UserID) {
		return identity.Mention(a.UserID)
	}
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return protocol.PlaceholderUnassigned
	}
	return slackconn.EscapeText(name)
}
