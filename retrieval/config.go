package retrieval

import "time"

const (
	// DefaultTimeout applies to connection establishment and idle reads.
	DefaultTimeout = 30 * time.Second

	// DefaultUserAgent identifies requests unless configured otherwise.
	DefaultUserAgent = "go-retrieval"

	// DefaultMaximumFollowedRedirects is the default redirect limit.
	DefaultMaximumFollowedRedirects = 5

	// unusualRedirectLimit is accepted, but higher limits get a warning.
	unusualRedirectLimit = 10
)

// Config holds the settings a Retrieval applies to every request.
// Config is a plain value; retrievals and fetchers keep their own copies.
type Config struct {
	Timeout                  time.Duration `json:"timeout"`
	UserAgent                string        `json:"userAgent"`
	MaximumFollowedRedirects int           `json:"maximumFollowedRedirects"`
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:                  DefaultTimeout,
		UserAgent:                DefaultUserAgent,
		MaximumFollowedRedirects: DefaultMaximumFollowedRedirects,
	}
}
