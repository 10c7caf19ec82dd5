package fetcher

// State describes the operational readiness of a Fetcher.
type State int

const (
	// Unconfigured fetchers have no retrieval template.
	Unconfigured State = iota
	// Idle fetchers are configured but have no URL to fetch from.
	Idle
	// Armed fetchers are ready for the next tick.
	Armed
	// Fetching fetchers are executing at least one tick.
	Fetching
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case Unconfigured:
		return "unconfigured"
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Fetching:
		return "fetching"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
