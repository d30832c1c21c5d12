package provenance

import "errors"

var (
	errNoIdentifier = errors.New("provenance: no self identifier configured")
	errNoBotID      = errors.New("provenance: token is not a bot token (no bot_id)")
)
