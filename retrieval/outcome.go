package retrieval

// Response is the read-only view decoders work on.
type Response interface {
	StatusCode() int
	Headers() *Headers
	BodyBytes() []byte
	LastRequestedLocation() string
	LastResolvedLocation() string
}

// Outcome captures everything obtained by one successful request execution.
// A new Outcome replaces the previous one on every Get.
type Outcome struct {
	Status    int      `json:"status"`
	Header    *Headers `json:"headers"`
	Body      []byte   `json:"body"`
	Requested string   `json:"requested"`
	Resolved  string   `json:"resolved"`
}

var _ Response = (*Outcome)(nil)

// newOutcome normalizes a transport response. Without redirects the resolved location
// equals the requested one, otherwise it is the last hop.
func newOutcome(requested string, resp *TransportResponse) *Outcome {
	resolved := requested
	if n := len(resp.RedirectChain); n > 0 {
		resolved = resp.RedirectChain[n-1]
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	return &Outcome{
		Status:    resp.StatusCode,
		Header:    HeadersFromHTTP(resp.Header),
		Body:      body,
		Requested: requested,
		Resolved:  resolved,
	}
}

// StatusCode returns the HTTP status of the final response.
func (o *Outcome) StatusCode() int {
	return o.Status
}

// Headers returns the response headers, an empty index when none were recorded.
func (o *Outcome) Headers() *Headers {
	if o.Header == nil {
		return NewHeaders()
	}
	return o.Header
}

// BodyBytes returns the decompressed response body.
func (o *Outcome) BodyBytes() []byte {
	return o.Body
}

// LastRequestedLocation returns the location the request was issued for.
func (o *Outcome) LastRequestedLocation() string {
	return o.Requested
}

// LastResolvedLocation returns the location reached after following redirects.
func (o *Outcome) LastResolvedLocation() string {
	return o.Resolved
}

// IsCompleteContent reports whether the outcome's status denotes complete content.
func (o *Outcome) IsCompleteContent() bool {
	return IsCompleteContentStatus(o.Status)
}
