package slackconn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/deskbridge/internal/connector"
)

const defaultTimeout = 30 * time.Second

// historyPageSize is the conversations.history page size. Slack caps a page
// below 1000 and recommends no more than 200.
const historyPageSize = 200

// Config holds Slack Web API settings.
type Config struct {
	BotToken   string       // xoxb-... Bot User OAuth Token
	APIURL     string       // Optional Web API base URL override (proxies, tests)
	HTTPClient *http.Client // Optional; defaults to a 30s-timeout client
}

// Client implements connector.Chat on top of the Slack Web API.
type Client struct {
	api    *slack.Client
	logger *slog.Logger
}

var _ connector.Chat = (*Client)(nil)

// New creates a Slack client. No network calls are made.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	opts := []slack.Option{slack.OptionHTTPClient(httpClient)}
	if u := strings.TrimSpace(cfg.APIURL); u != "" {
		opts = append(opts, slack.OptionAPIURL(strings.TrimRight(u, "/")+"/"))
	}

	return &Client{
		api:    slack.New(cfg.BotToken, opts...),
		logger: logger,
	}, nil
}

// Identify calls auth.test and returns who the token belongs to.
func (c *Client) Identify(ctx context.Context) (connector.Identity, error) {
	resp, err := c.api.AuthTestContext(ctx)
	if err != nil {
		return connector.Identity{}, fmt.Errorf("slack: auth test: %w", err)
	}
	return connector.Identity{
		BotID:  resp.BotID,
		UserID: resp.UserID,
		Team:   resp.Team,
		User:   resp.User,
	}, nil
}

// LookupUserByEmail returns the Slack user id registered under email.
func (c *Client) LookupUserByEmail(ctx context.Context, email string) (string, error) {
	u, err := c.api.GetUserByEmailContext(ctx, email)
	if err != nil {
		return "", fmt.Errorf("slack: lookup %s: %w", email, err)
	}
	if u == nil || u.ID == "" {
		return "", fmt.Errorf("slack: lookup %s: empty user", email)
	}
	return u.ID, nil
}

// Post delivers msg to channel. It never returns an error: HTTP failures and
// Slack "ok": false envelopes both come back as a non-OK result.
func (c *Client) Post(ctx context.Context, channel string, msg connector.OutboundMessage) connector.DeliveryResult {
	if channel == "" {
		return connector.DeliveryResult{Body: "no destination channel"}
	}

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if len(msg.Blocks) > 0 {
		opts = append(opts, slack.MsgOptionBlocks(msg.Blocks...))
	}

	_, ts, err := c.api.PostMessageContext(ctx, channel, opts...)
	if err != nil {
		res := failureResult(err)
		c.logger.Warn("slack post failed",
			"channel", channel,
			"status", res.StatusCode,
			"body", res.Body,
		)
		return res
	}
	c.logger.Debug("slack post ok", "channel", channel, "ts", ts)
	return connector.DeliveryResult{OK: true, StatusCode: http.StatusOK, Timestamp: ts}
}

// FetchRecent returns up to limit messages from channel, most recent first.
// Windows larger than one page are read with the history cursor.
func (c *Client) FetchRecent(ctx context.Context, channel string, limit int) ([]connector.HistoryMessage, error) {
	if limit <= 0 {
		return nil, nil
	}

	out := make([]connector.HistoryMessage, 0, min(limit, historyPageSize))
	cursor := ""
	for len(out) < limit {
		resp, err := c.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
			ChannelID: channel,
			Limit:     min(limit-len(out), historyPageSize),
			Cursor:    cursor,
		})
		if err != nil {
			return nil, fmt.Errorf("slack: conversations.history %s: %w", channel, err)
		}
		for _, m := range resp.Messages {
			if len(out) == limit {
				break
			}
			author := m.BotID
			if author == "" {
				author = m.User
			}
			out = append(out, connector.HistoryMessage{
				AuthorID:  author,
				Timestamp: m.Timestamp,
				Text:      m.Text,
			})
		}
		cursor = resp.ResponseMetaData.NextCursor
		if !resp.HasMore || cursor == "" || len(resp.Messages) == 0 {
			break
		}
	}
	return out, nil
}

// Delete removes the message at ts. Already-deleted or foreign messages are
// reported as false.
func (c *Client) Delete(ctx context.Context, channel, ts string) bool {
	if _, _, err := c.api.DeleteMessageContext(ctx, channel, ts); err != nil {
		c.logger.Warn("slack delete failed", "channel", channel, "ts", ts, "error", err)
		return false
	}
	return true
}

// failureResult maps slack-go errors onto a DeliveryResult.
func failureResult(err error) connector.DeliveryResult {
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return connector.DeliveryResult{StatusCode: statusErr.Code, Body: statusErr.Status}
	}
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return connector.DeliveryResult{StatusCode: http.StatusTooManyRequests, Body: rateErr.Error()}
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return connector.DeliveryResult{StatusCode: http.StatusOK, Body: apiErr.Err}
	}
	return connector.DeliveryResult{Body: err.Error()}
}

// EscapeText escapes the three characters Slack treats as control sequences
// in mrkdwn, so ticket text cannot inject mentions or links.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
