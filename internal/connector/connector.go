package connector

import (
	"context"

	"github.com/slack-go/slack"
)

// OutboundMessage is a composed chat message. It carries no channel: the
// destination is chosen when the message is delivered.
type OutboundMessage struct {
	Text   string        // Plain mrkdwn text; also the notification fallback when Blocks are set
	Blocks []slack.Block // Optional Block Kit layout
}

// DeliveryResult reports the outcome of a post. Failures are data, not errors,
// so callers can surface the upstream body.
type DeliveryResult struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
	Timestamp  string `json:"ts,omitempty"` // message ts assigned by the chat service
}

// HistoryMessage is one entry of a channel's recent history.
type HistoryMessage struct {
	AuthorID  string // bot id for bot posts, user id otherwise
	Timestamp string // message ts, also its delete key
	Text      string
}

// Poster delivers composed messages to a channel.
type Poster interface {
	Post(ctx context.Context, channel string, msg OutboundMessage) DeliveryResult
}

// History reads and prunes channel history.
type History interface {
	// FetchRecent returns at most limit messages, most recent first.
	FetchRecent(ctx context.Context, channel string, limit int) ([]HistoryMessage, error)
	// Delete removes one message and reports whether the chat service accepted it.
	Delete(ctx context.Context, channel, ts string) bool
}

// Chat is the full delivery surface used by the relay.
type Chat interface {
	Poster
	History
}

// Identity describes the account the bot token belongs to.
type Identity struct {
	BotID  string
	UserID string
	Team   string
	User   string
}
