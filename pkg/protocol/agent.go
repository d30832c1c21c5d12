package protocol

// Agent is the helpdesk user a ticket is assigned to. It is built fresh for
// every event and never stored.
type Agent struct {
	ID          string `json:"id,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Name returns the display name, falling back to "Unassigned".
// A nil agent is unassigned.
func (a *Agent) Name() string {
	if a == nil {
		return PlaceholderUnassigned
	}
	return orDefault(a.DisplayName, PlaceholderUnassigned)
}
