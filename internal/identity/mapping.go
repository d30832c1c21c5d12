package identity

import (
	"fmt"
	"strings"
)

// Mapping maps helpdesk agent ids to Slack user ids. It is built once at
// startup and never modified afterwards.
type Mapping struct {
	m map[string]string
}

// NewMapping copies pairs into an immutable Mapping.
func NewMapping(pairs map[string]string) Mapping {
	m := make(map[string]string, len(pairs))
	for k, v := range pairs {
		m[k] = v
	}
	return Mapping{m: m}
}

// ParseMapping reads "externalId:internalId" pairs separated by commas.
// Blank entries are skipped; an entry missing either side is an error.
func ParseMapping(s string) (Mapping, error) {
	pairs := make(map[string]string)
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ext, internal, ok := strings.Cut(entry, ":")
		ext = strings.TrimSpace(ext)
		internal = strings.TrimSpace(internal)
		if !ok || ext == "" || internal == "" {
			return Mapping{}, fmt.Errorf("identity: invalid mapping entry %q (want externalId:internalId)", entry)
		}
		pairs[ext] = internal
	}
	return Mapping{m: pairs}, nil
}

// Lookup returns the Slack user id mapped to externalID.
func (m Mapping) Lookup(externalID string) (string, bool) {
	if externalID == "" {
		return "", false
	}
	id, ok := m.m[externalID]
	return id, ok
}

// Len returns the number of mapped agents.
func (m Mapping) Len() int { return len(m.m) }
