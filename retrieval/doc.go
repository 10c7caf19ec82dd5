// Package retrieval performs single HTTP(S) GET retrievals and normalizes what came back.
//
// A Retrieval executes one request at a time against one location, honoring its
// configured timeout, user agent and redirect limit. After Get returns it exposes the
// final status code, the decompressed body, case-insensitive response headers and both
// the requested and the resolved (post-redirect) location.
//
// Network level
//   - Get returns true whenever a response was obtained, including 4xx/5xx responses.
//   - Unsupported schemes (anything but http/https) and empty locations are rejected
//     before any I/O and reported as UnsupportedProtocol.
//   - I/O failures, timeouts and exceeded redirect limits are reported as TransportError.
//   - In both failure cases previously held results are cleared.
//
// Content level
//   - IsCompleteContent is true only for status codes 200-205.
//   - Decoders turn a Response into typed values; WithMetadata wraps results into an
//     immutable RetrievedData holder.
//
// Retrieval values are cheap; derive a fresh one per request via CopyConfiguration
// instead of sharing one between goroutines.
package retrieval
