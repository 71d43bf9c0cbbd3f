package situations

import "errors"

// Error kinds surfaced by a single update pass. The orchestrator wraps all
// of them into one "update failed" error, so a scheduler can treat any
// failed tick uniformly and still pick the kind apart with errors.Is.
var (
	ErrAuthentication = errors.New("authentication failed")
	ErrConnection     = errors.New("connection to trafikverket failed")
	ErrAPI            = errors.New("trafikverket api error")
	ErrParse          = errors.New("invalid xml from trafikverket")
)
