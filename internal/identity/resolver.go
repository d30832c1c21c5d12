// Package identity turns a ticket assignee into text that renders well in Slack:
// a user mention when the agent can be matched to a Slack account, otherwise
// the agent's display name.
package identity

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/h1v3-io/deskbridge/pkg/protocol"
)

// Directory looks up Slack users. The Slack connector implements it.
type Directory interface {
	LookupUserByEmail(ctx context.Context, email string) (string, error)
}

// Resolver maps agents to mention text. It never mutates the agent and never
// returns an error: every failure degrades to the next fallback.
type Resolver struct {
	mapping Mapping
	dir     Directory
	logger  *slog.Logger

	mu    sync.Mutex
	cache map[string]string // lowercased email → Slack user id
}

// NewResolver creates a resolver. dir may be nil to disable live lookups.
func NewResolver(mapping Mapping, dir Directory, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		mapping: mapping,
		dir:     dir,
		logger:  logger,
		cache:   make(map[string]string),
	}
}

// Result is a resolved assignee. UserID is set only when the agent was
// matched to a Slack account; Name is the unescaped display name otherwise.
type Result struct {
	UserID string
	Name   string
}

// String renders the result for logs: a mention or the display name.
func (r Result) String() string {
	if r.UserID != "" {
		return Mention(r.UserID)
	}
	return r.Name
}

// Resolve returns the Slack user for a, or its display name, or "Unassigned".
func (r *Resolver) Resolve(ctx context.Context, a *protocol.Agent) Result {
	if a == nil {
		return Result{Name: protocol.PlaceholderUnassigned}
	}
	if id, ok := r.mapping.Lookup(a.ID); ok {
		return Result{UserID: id, Name: a.Name()}
	}
	if a.Email != "" && r.dir != nil {
		if id, ok := r.lookup(ctx, a.Email); ok {
			return Result{UserID: id, Name: a.Name()}
		}
	}
	return Result{Name: a.Name()}
}

// lookup queries the directory, remembering successful answers. Misses are
// not cached so a user who joins Slack later is picked up.
func (r *Resolver) lookup(ctx context.Context, email string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(email))

	r.mu.Lock()
	id, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return id, true
	}

	id, err := r.dir.LookupUserByEmail(ctx, email)
	if err != nil || id == "" {
		r.logger.Debug("directory lookup missed", "email", email, "error", err)
		return "", false
	}

	r.mu.Lock()
	r.cache[key] = id
	r.mu.Unlock()
	return id, true
}

var userIDPattern = regexp.MustCompile(`^[UW][A-Z0-9]+$`)

// ValidUserID reports whether id looks like a Slack user id.
func ValidUserID(id string) bool { return userIDPattern.MatchString(id) }

// Mention wraps a Slack user id in mention markup.
func Mention(userID string) string {
	return "<@" + userID + ">"
}
