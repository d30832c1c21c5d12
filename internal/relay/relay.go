// Package relay runs inbound ticket events through normalization, identity
// resolution and composition, then delivers the result to Slack.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/h1v3-io/deskbridge/internal/channel"
	"github.com/h1v3-io/deskbridge/internal/connector"
	"github.com/h1v3-io/deskbridge/internal/identity"
	"github.com/h1v3-io/deskbridge/internal/journal"
	"github.com/h1v3-io/deskbridge/internal/notify"
	"github.com/h1v3-io/deskbridge/internal/ticket"
	"github.com/h1v3-io/deskbridge/pkg/protocol"
)

var (
	// ErrNoChannel means no destination channel could be determined.
	ErrNoChannel = errors.New("no destination channel")
	// ErrDeliveryFailed means the chat service rejected the post.
	ErrDeliveryFailed = errors.New("delivery failed")
)

// Resolver matches an assignee to a Slack user.
type Resolver interface {
	Resolve(ctx context.Context, a *protocol.Agent) identity.Result
}

// Config controls how events are relayed.
type Config struct {
	Normalize      ticket.Options
	Layout         notify.Layout
	DefaultChannel string
	// FollowActive posts tickets to the router's active channel instead of
	// DefaultChannel when the request carries no override.
	FollowActive bool
	// Journal records every handled event when non-nil.
	Journal *journal.Journal
}

// Outcome describes one relayed event.
type Outcome struct {
	Event    *protocol.TicketEvent
	Channel  string
	Delivery connector.DeliveryResult
}

// Service is the event pipeline.
type Service struct {
	poster   connector.Poster
	resolver Resolver
	router   *channel.Router
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a relay service. router may be nil when FollowActive is off.
func New(poster connector.Poster, resolver Resolver, router *channel.Router, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Layout == "" {
		cfg.Layout = notify.LayoutBlocks
	}
	if router == nil {
		router = channel.NewRouter(cfg.DefaultChannel)
	}
	return &Service{
		poster:   poster,
		resolver: resolver,
		router:   router,
		cfg:      cfg,
		logger:   logger.With("component", "relay"),
		now:      time.Now,
	}
}

// Destination picks the channel for a ticket notification.
func (s *Service) Destination(override string) string {
	if override != "" {
		return override
	}
	if s.cfg.FollowActive {
		return s.router.Active()
	}
	return s.cfg.DefaultChannel
}

// HandleEvent relays one webhook body. Errors wrap ticket.ErrInvalidPayload,
// ticket.ErrIgnored, ErrNoChannel or ErrDeliveryFailed; on delivery failure the
// returned Outcome still carries the upstream response.
func (s *Service) HandleEvent(ctx context.Context, body []byte, override string) (Outcome, error) {
	out, err := s.handle(ctx, body, override)
	s.record(out, err)
	return out, err
}

func (s *Service) handle(ctx context.Context, body []byte, override string) (Outcome, error) {
	ev, err := ticket.Normalize(body, s.cfg.Normalize)
	if err != nil {
		return Outcome{}, err
	}
	out := Outcome{Event: ev, Channel: s.Destination(override)}
	if out.Channel == "" {
		return out, ErrNoChannel
	}

	assignee := identity.Result{Name: ev.Assignee.Name()}
	if s.resolver != nil {
		assignee = s.resolver.Resolve(ctx, ev.Assignee)
	}

	msg := notify.Compose(ev, assignee, s.cfg.Layout)
	out.Delivery = s.poster.Post(ctx, out.Channel, msg)
	if !out.Delivery.OK {
		s.logger.Error("ticket notification failed",
			"ticket", ev.DisplayID(),
			"channel", out.Channel,
			"status", out.Delivery.StatusCode,
			"body", out.Delivery.Body,
		)
		return out, fmt.Errorf("%w: %d %s", ErrDeliveryFailed, out.Delivery.StatusCode, out.Delivery.Body)
	}

	s.logger.Info("ticket relayed",
		"ticket", ev.DisplayID(),
		"channel", out.Channel,
		"assignee", assignee.String(),
	)
	return out, nil
}

func (s *Service) record(out Outcome, err error) {
	e := journal.Entry{Kind: journal.KindTicket, Channel: out.Channel, Outcome: journal.OutcomeDelivered}
	if out.Event != nil {
		e.Ticket = out.Event.DisplayID()
	}
	switch {
	case err == nil:
	case errors.Is(err, ticket.ErrIgnored):
		e.Outcome = journal.OutcomeIgnored
	case errors.Is(err, ticket.ErrInvalidPayload):
		e.Outcome = journal.OutcomeInvalid
		e.Detail = err.Error()
	default:
		e.Outcome = journal.OutcomeFailed
		e.Detail = err.Error()
	}
	s.cfg.Journal.Record(e)
}

// HealthReport is the result of a health probe.
type HealthReport struct {
	Channel   string
	Timestamp string
	Delivery  connector.DeliveryResult
}

// Health posts a probe message to the active channel.
func (s *Service) Health(ctx context.Context) (HealthReport, error) {
	rep := HealthReport{
		Channel:   s.router.Active(),
		Timestamp: s.now().UTC().Format(time.RFC3339),
	}
	if rep.Channel == "" {
		return rep, ErrNoChannel
	}
	rep.Delivery = s.poster.Post(ctx, rep.Channel, connector.OutboundMessage{
		Text: "✅ Health check at " + rep.Timestamp,
	})
	if !rep.Delivery.OK {
		s.cfg.Journal.Record(journal.Entry{Kind: journal.KindHealth, Channel: rep.Channel, Outcome: journal.OutcomeFailed, Detail: rep.Delivery.Body})
		return rep, fmt.Errorf("%w: %d %s", ErrDeliveryFailed, rep.Delivery.StatusCode, rep.Delivery.Body)
	}
	s.cfg.Journal.Record(journal.Entry{Kind: journal.KindHealth, Channel: rep.Channel, Outcome: journal.OutcomeOK})
	return rep, nil
}
