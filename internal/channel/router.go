// Package channel tracks the process-wide "active" Slack channel.
//
// Request paths pass their channel explicitly; the router only answers
// "where should an unaddressed message go", e.g. the health probe.
package channel

import (
	"strings"
	"sync/atomic"
)

// Router holds the active channel. Writes replace the value atomically and
// the last writer wins.
type Router struct {
	active atomic.Pointer[string]
}

// NewRouter creates a router whose active channel starts as defaultChannel.
func NewRouter(defaultChannel string) *Router {
	r := &Router{}
	ch := strings.TrimSpace(defaultChannel)
	r.active.Store(&ch)
	return r
}

// SetActive makes id the active channel. Blank ids are ignored so the router
// always holds exactly one channel.
func (r *Router) SetActive(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	r.active.Store(&id)
}

// Active returns the current active channel.
func (r *Router) Active() string {
	return *r.active.Load()
}
