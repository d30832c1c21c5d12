// Package provenance tracks which Slack author ids belong to this bridge, so
// cleanup never touches messages posted by people or other integrations.
package provenance

import (
	"sort"
	"strings"
	"sync"
)

// Registry is an append-only set of bot author ids. It is safe for
// concurrent use.
type Registry struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewRegistry creates a registry seeded with ids. Blank ids are ignored.
func NewRegistry(ids ...string) *Registry {
	r := &Registry{ids: make(map[string]struct{})}
	r.Add(ids...)
	return r
}

// Add records ids as this bridge's own. It reports how many were new.
func (r *Registry) Add(ids ...string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := r.ids[id]; ok {
			continue
		}
		r.ids[id] = struct{}{}
		added++
	}
	return added
}

// IsOwnMessage reports whether authorID is a registered bot identity.
func (r *Registry) IsOwnMessage(authorID string) bool {
	if authorID == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.ids[authorID]
	return ok
}

// IDs returns the registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of registered ids.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ids)
}
