// Package ticket turns helpdesk webhook bodies into protocol.TicketEvent values.
//
// Upstream sends several payload shapes: the ticket may sit at the top level or
// under data.ticket, enumerations may be strings or {name} objects, and the
// assignee has four different spellings. Normalize absorbs all of them.
package ticket

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/h1v3-io/deskbridge/pkg/protocol"
)

var (
	// ErrInvalidPayload means the body is not JSON or carries no ticket object.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrIgnored means the event was understood but is not a ticket creation.
	ErrIgnored = errors.New("event ignored")
)

// discriminatorKeys are checked in order for the event type.
var discriminatorKeys = []string{"event", "eventType", "event_type"}

// assigneeKeys are checked in order; the first non-empty value wins.
var assigneeKeys = []string{"agent", "assignee", "assigned_to", "assigneeId"}

// Options controls normalization.
type Options struct {
	// InferCreation enables the thread-shape heuristic for payloads that
	// carry no event discriminator. When false such payloads are ignored.
	InferCreation bool
	// Location is the zone creation times are displayed in. Nil means time.Local.
	Location *time.Location
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{InferCreation: true, Location: time.Local}
}

// Normalize parses a webhook body into a TicketEvent. The returned error wraps
// ErrInvalidPayload or ErrIgnored.
func Normalize(body []byte, opts Options) (*protocol.TicketEvent, error) {
	data, err := decodeObject(body)
	if err != nil {
		return nil, err
	}

	event := firstName(data, discriminatorKeys...)
	if event != "" && !IsCreationEvent(event) {
		return nil, fmt.Errorf("%w: event %q", ErrIgnored, event)
	}

	tk := findTicket(data)
	if tk == nil {
		return nil, fmt.Errorf("%w: no ticket object", ErrInvalidPayload)
	}

	if event == "" {
		if !opts.InferCreation {
			return nil, fmt.Errorf("%w: no event discriminator", ErrIgnored)
		}
		if !looksLikeCreation(data, tk) {
			return nil, fmt.Errorf("%w: no new-ticket thread", ErrIgnored)
		}
	}

	return &protocol.TicketEvent{
		ID:        scalarString(tk["id"]),
		Subject:   scalarString(tk["subject"]),
		Status:    withDefault(nameOf(tk["status"]), protocol.PlaceholderUnknown),
		Priority:  withDefault(nameOf(tk["priority"]), protocol.PlaceholderUnknown),
		Type:      withDefault(nameOf(tk["type"]), protocol.PlaceholderGeneral),
		CreatedAt: ParseCreatedAt(firstScalar(tk, "createdAt", "created_at"), opts.Location),
		Link:      firstScalar(tk, "link", "url", "ticketUrl"),
		Assignee:  extractAssignee(tk),
		Event:     event,
	}, nil
}

// IsCreationEvent reports whether a discriminator value denotes a new ticket.
// Case and separators are ignored, so "ticket.created", "ticketCreated" and
// "TICKET_CREATED" all match.
func IsCreationEvent(event string) bool {
	key := strings.ToLower(event)
	key = strings.NewReplacer(".", "", "_", "", "-", "", " ", "").Replace(key)
	switch key {
	case "ticketcreated", "created":
		return true
	}
	return false
}

func findTicket(data map[string]any) map[string]any {
	if tk := asObject(data["ticket"]); tk != nil {
		return tk
	}
	if inner := asObject(data["data"]); inner != nil {
		return asObject(inner["ticket"])
	}
	return nil
}

// looksLikeCreation is the compatibility shim for payloads without a
// discriminator: a brand-new ticket carries exactly the customer's opening
// message as its first thread.
func looksLikeCreation(data, tk map[string]any) bool {
	threads, ok := tk["threads"].([]any)
	if !ok || len(threads) == 0 {
		threads, ok = data["threads"].([]any)
	}
	if !ok || len(threads) == 0 {
		return false
	}
	first := asObject(threads[0])
	if first == nil {
		return false
	}
	if !strings.EqualFold(scalarString(first["type"]), "message") {
		return false
	}
	return present(first["customer"]) || present(first["customerId"])
}

// ParseCreatedAt converts an upstream creation time into a display token.
// Zone-less values are taken as UTC. Empty or unparsable input yields an
// invalid Timestamp, which renders as "N/A".
func ParseCreatedAt(raw string, loc *time.Location) protocol.Timestamp {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return protocol.Timestamp{}
	}
	t, err := dateparse.ParseIn(raw, time.UTC)
	if err != nil {
		return protocol.Timestamp{}
	}
	return protocol.NewTimestamp(t, loc)
}

func extractAssignee(tk map[string]any) *protocol.Agent {
	for _, key := range assigneeKeys {
		v, ok := tk[key]
		if !ok || !present(v) {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			return agentFromObject(obj)
		}
		s := scalarString(v)
		if s == "" {
			continue
		}
		a := &protocol.Agent{ID: s, DisplayName: s}
		if strings.Contains(s, "@") && !strings.ContainsAny(s, " \t") {
			a.Email = s
		}
		return a
	}
	return nil
}

func agentFromObject(obj map[string]any) *protocol.Agent {
	name := firstScalar(obj, "fullName", "name")
	if name == "" {
		first := scalarString(obj["firstName"])
		last := scalarString(obj["lastName"])
		name = strings.TrimSpace(first + " " + last)
	}
	return &protocol.Agent{
		ID:          scalarString(obj["id"]),
		DisplayName: name,
		Email:       scalarString(obj["email"]),
	}
}

func withDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
