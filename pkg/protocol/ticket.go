package protocol

import "time"

// Placeholders rendered in place of fields the upstream payload left out.
const (
	PlaceholderUnknown    = "Unknown"
	PlaceholderGeneral    = "General"
	PlaceholderUnassigned = "Unassigned"
	PlaceholderNA         = "N/A"
)

// TicketEvent is the canonical summary of a helpdesk ticket notification.
// Normalization fills Status, Priority and Type with their defaults, so those
// three are never empty. The remaining string fields may be empty and are
// defaulted at render time through the accessor methods.
type TicketEvent struct {
	ID        string    `json:"id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	Type      string    `json:"type"`
	CreatedAt Timestamp `json:"created_at"`
	Link      string    `json:"link,omitempty"`
	Assignee  *Agent    `json:"assignee,omitempty"`
	// Event is the upstream discriminator value, empty when creation was inferred.
	Event string `json:"event,omitempty"`
}

// DisplayID returns the ticket id or "N/A".
func (t *TicketEvent) DisplayID() string { return orDefault(t.ID, PlaceholderNA) }

// DisplaySubject returns the subject or "N/A".
func (t *TicketEvent) DisplaySubject() string { return orDefault(t.Subject, PlaceholderNA) }

// DisplayStatus returns the status or "Unknown".
func (t *TicketEvent) DisplayStatus() string { return orDefault(t.Status, PlaceholderUnknown) }

// DisplayPriority returns the priority or "Unknown".
func (t *TicketEvent) DisplayPriority() string { return orDefault(t.Priority, PlaceholderUnknown) }

// DisplayType returns the ticket type or "General".
func (t *TicketEvent) DisplayType() string { return orDefault(t.Type, PlaceholderGeneral) }

// Timestamp is a creation time prepared for chat rendering. Epoch drives the
// chat client's localized date token and ISO is the fallback text shown when
// the client cannot localize.
type Timestamp struct {
	Epoch int64  `json:"epoch,omitempty"`
	ISO   string `json:"iso,omitempty"`
	Valid bool   `json:"valid"`
}

// NewTimestamp builds a valid Timestamp for t expressed in loc.
// A nil loc means time.Local.
func NewTimestamp(t time.Time, loc *time.Location) Timestamp {
	if loc == nil {
		loc = time.Local
	}
	local := t.In(loc)
	return Timestamp{
		Epoch: local.Unix(),
		ISO:   local.Format(time.RFC3339),
		Valid: true,
	}
}

// String returns the ISO fallback or "N/A".
func (ts Timestamp) String() string {
	if !ts.Valid || ts.ISO == "" {
		return PlaceholderNA
	}
	return ts.ISO
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
