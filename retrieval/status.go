package retrieval

const (
	completeContentMinStatus = 200
	completeContentMaxStatus = 205
)

// IsCompleteContentStatus reports whether a status code denotes a fully retrieved body.
// Partial content (206), redirects and errors are not complete.
func IsCompleteContentStatus(statusCode int) bool {
	return statusCode >= completeContentMinStatus && statusCode <= completeContentMaxStatus
}
