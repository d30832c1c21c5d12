package provenance

import (
	"context"
	"log/slog"
	"sync"

	"github.com/h1v3-io/deskbridge/internal/connector"
)

// SelfIdentifier asks the chat service who the bot token belongs to.
type SelfIdentifier interface {
	Identify(ctx context.Context) (connector.Identity, error)
}

// InitResult is the outcome of startup self-identification.
type InitResult struct {
	Identified bool
	Identity   connector.Identity
	AllowList  int   // ids seeded from configuration
	Err        error // set when self-identification failed
}

// Tracker owns the registry and the self-identification step.
type Tracker struct {
	registry *Registry
	ident    SelfIdentifier
	logger   *slog.Logger

	mu         sync.Mutex
	identified bool
}

// Initialize seeds a registry from allowList and performs self-identification
// once. Failure is logged and leaves only the allow-list entries; it never
// aborts startup.
func Initialize(ctx context.Context, ident SelfIdentifier, allowList []string, logger *slog.Logger) (*Tracker, InitResult) {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		registry: NewRegistry(),
		ident:    ident,
		logger:   logger,
	}
	res := InitResult{AllowList: t.registry.Add(allowList...)}

	id, err := t.identify(ctx)
	if err != nil {
		res.Err = err
		logger.Warn("bot self-identification failed, cleanup limited to allow-list",
			"allow_list", res.AllowList,
			"error", err,
		)
		return t, res
	}
	res.Identified = true
	res.Identity = id
	logger.Info("bot identity resolved",
		"bot_id", id.BotID,
		"user", id.User,
		"team", id.Team,
		"known_ids", t.registry.Len(),
	)
	return t, res
}

// Registry returns the provenance registry.
func (t *Tracker) Registry() *Registry { return t.registry }

// Ensure retries self-identification if startup did not succeed. It is a
// no-op once an identity is known, and failures are only logged.
func (t *Tracker) Ensure(ctx context.Context) {
	t.mu.Lock()
	done := t.identified
	t.mu.Unlock()
	if done {
		return
	}
	if id, err := t.identify(ctx); err != nil {
		t.logger.Debug("bot self-identification retry failed", "error", err)
	} else {
		t.logger.Info("bot identity resolved on retry", "bot_id", id.BotID)
	}
}

func (t *Tracker) identify(ctx context.Context) (connector.Identity, error) {
	if t.ident == nil {
		return connector.Identity{}, errNoIdentifier
	}
	id, err := t.ident.Identify(ctx)
	if err != nil {
		return connector.Identity{}, err
	}
	if id.BotID == "" {
		return id, errNoBotID
	}
	t.registry.Add(id.BotID)

	t.mu.Lock()
	t.identified = true
	t.mu.Unlock()
	return id, nil
}

// IsOwnMessage reports whether authorID belongs to this bridge.
func (t *Tracker) IsOwnMessage(authorID string) bool {
	return t.registry.IsOwnMessage(authorID)
}
