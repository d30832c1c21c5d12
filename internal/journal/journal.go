// Package journal keeps a bounded in-memory record of recent bridge activity.
// Nothing is persisted; the journal starts empty on every restart.
package journal

import (
	"sync"
	"time"
)

// Kind classifies an entry.
type Kind string

const (
	KindTicket  Kind = "ticket"
	KindCleanup Kind = "cleanup"
	KindHealth  Kind = "health"
)

// Outcome values used by the bridge.
const (
	OutcomeDelivered = "delivered"
	OutcomeIgnored   = "ignored"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
	OutcomeOK        = "ok"
)

// Entry is one recorded action.
type Entry struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Channel string    `json:"channel,omitempty"`
	Ticket  string    `json:"ticket,omitempty"`
	Outcome string    `json:"outcome"`
	Detail  string    `json:"detail,omitempty"`
	Deleted int       `json:"deleted,omitempty"`
}

// Journal is a thread-safe ring buffer of entries.
type Journal struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
}

// New creates a journal that holds up to size entries.
func New(size int) *Journal {
	if size <= 0 {
		size = 1
	}
	return &Journal{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Record appends e, overwriting the oldest entry when full. A zero Time is
// stamped with the current time. Record on a nil journal is a no-op.
func (j *Journal) Record(e Entry) {
	if j == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	j.mu.Lock()
	j.entries[j.pos] = e
	j.pos = (j.pos + 1) % j.size
	if j.count < j.size {
		j.count++
	}
	j.mu.Unlock()
}

// Query returns entries matching the filters, oldest first.
// A zero since and an empty kind match everything. If limit <= 0, all
// matching entries are returned; otherwise the newest limit.
func (j *Journal) Query(since time.Time, kind Kind, limit int) []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()

	var result []Entry

	start := 0
	if j.count == j.size {
		start = j.pos
	}

	for i := 0; i < j.count; i++ {
		e := j.entries[(start+i)%j.size]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if kind != "" && e.Kind != kind {
			continue
		}
		result = append(result, e)
	}

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

// Len returns the number of stored entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}
