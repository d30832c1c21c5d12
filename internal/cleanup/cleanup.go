// Package cleanup removes this bridge's own messages from a Slack channel.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/time/rate"

	"github.com/h1v3-io/deskbridge/internal/connector"
	"github.com/h1v3-io/deskbridge/internal/journal"
)

const (
	DefaultLimit = 20
	MaxLimit     = 1000
)

// Provenance decides which authors are this bridge.
type Provenance interface {
	// Ensure gives the provenance source a chance to learn the bot identity
	// if startup self-identification failed.
	Ensure(ctx context.Context)
	IsOwnMessage(authorID string) bool
}

// Config controls a Cleaner.
type Config struct {
	Limit      int     // history window; 0 means DefaultLimit
	DeleteRate float64 // deletes per second; 0 disables pacing
	Journal    *journal.Journal
}

// Report summarizes one cleanup run.
type Report struct {
	Channel string `json:"channel"`
	Scanned int    `json:"scanned"`
	Matched int    `json:"matched"`
	Deleted int    `json:"deleted"`
	Failed  int    `json:"failed"`
}

// Message is the human-readable summary returned to the requester.
func (r Report) Message() string {
	return fmt.Sprintf("Deleted %d messages from channel.", r.Deleted)
}

// Cleaner fetches recent history and deletes the messages whose author is
// this bridge. Nothing else is ever deleted.
type Cleaner struct {
	history    connector.History
	provenance Provenance
	limit      int
	limiter    *rate.Limiter
	journal    *journal.Journal
	logger     *slog.Logger
}

// New creates a Cleaner.
func New(history connector.History, prov Provenance, cfg Config, logger *slog.Logger) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cleaner{
		history:    history,
		provenance: prov,
		limit:      clampLimit(cfg.Limit),
		journal:    cfg.Journal,
		logger:     logger,
	}
	if cfg.DeleteRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.DeleteRate), 1)
	}
	return c
}

// Limit returns the configured history window.
func (c *Cleaner) Limit() int { return c.limit }

// Run cleans channel using the configured window.
func (c *Cleaner) Run(ctx context.Context, channel string) (Report, error) {
	return c.RunLimit(ctx, channel, c.limit)
}

// RunLimit cleans channel looking at the last limit messages. Deletes run
// sequentially; a failed delete is counted and the loop continues. Only a
// history fetch failure or a cancelled context stops the run early.
func (c *Cleaner) RunLimit(ctx context.Context, channel string, limit int) (Report, error) {
	report, err := c.run(ctx, channel, limit)
	e := journal.Entry{Kind: journal.KindCleanup, Channel: channel, Outcome: journal.OutcomeOK, Deleted: report.Deleted}
	if err != nil {
		e.Outcome = journal.OutcomeFailed
		e.Detail = err.Error()
	}
	c.journal.Record(e)
	return report, err
}

func (c *Cleaner) run(ctx context.Context, channel string, limit int) (Report, error) {
	report := Report{Channel: channel}
	if channel == "" {
		return report, fmt.Errorf("cleanup: channel is required")
	}
	limit = clampLimit(limit)

	c.provenance.Ensure(ctx)

	msgs, err := c.history.FetchRecent(ctx, channel, limit)
	if err != nil {
		return report, fmt.Errorf("cleanup: %w", err)
	}
	report.Scanned = len(msgs)

	for _, m := range msgs {
		if !c.provenance.IsOwnMessage(m.AuthorID) {
			continue
		}
		report.Matched++

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.logger.Warn("cleanup interrupted", "channel", channel, "deleted", report.Deleted, "error", err)
				return report, fmt.Errorf("cleanup: %w", err)
			}
		}

		if c.history.Delete(ctx, channel, m.Timestamp) {
			report.Deleted++
			c.logger.Debug("deleted bot message", "channel", channel, "ts", m.Timestamp)
		} else {
			report.Failed++
		}
	}

	c.logger.Info("cleanup finished",
		"channel", channel,
		"scanned", report.Scanned,
		"matched", report.Matched,
		"deleted", report.Deleted,
		"failed", report.Failed,
	)
	return report, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultLimit
	case n > MaxLimit:
		return MaxLimit
	}
	return n
}
