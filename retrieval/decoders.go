package retrieval

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"gopkg.in/yaml.v3"
)

// Decoder turns a retrieved response into a typed value.
type Decoder[T any] func(Response) (T, error)

var (
	charsetPattern = regexp.MustCompile(`(?i);\s*charset=(\S+)`)

	errNoBody = errors.New("response has no body")

	now = time.Now
)

// WithMetadata wraps the result of dec into a RetrievedData carrying the retrieval time
// and both locations of the response.
func WithMetadata[T any](dec Decoder[T]) Decoder[*RetrievedData[T]] {
	if dec == nil {
		panic("retrieval: WithMetadata requires a decoder")
	}
	return func(resp Response) (*RetrievedData[T], error) {
		value, err := dec(resp)
		if err != nil {
			return nil, err
		}
		return NewRetrievedData(now(), resp.LastRequestedLocation(), resp.LastResolvedLocation(), value), nil
	}
}

// CharsetFromContentType extracts the charset parameter of a Content-Type value.
func CharsetFromContentType(contentType string) (string, bool) {
	m := charsetPattern.FindStringSubmatch(contentType)
	if m == nil {
		return "", false
	}
	name := strings.Trim(strings.TrimSuffix(m[1], ";"), `"'`)
	if name == "" {
		return "", false
	}
	return name, true
}

// BodyAsStringWithFixedCharset decodes bodies using the named character set,
// ignoring anything the server announces.
func BodyAsStringWithFixedCharset(name string) (Decoder[string], error) {
	enc, err := lookupCharset(name)
	if err != nil {
		return nil, err
	}
	return func(resp Response) (string, error) {
		return decodeBody(resp, enc)
	}, nil
}

// BodyAsStringWithHeaderCharset decodes bodies using the charset announced in the
// Content-Type header. Missing or unknown charsets fall back to the named default.
func BodyAsStringWithHeaderCharset(fallback string) (Decoder[string], error) {
	fallbackEnc, err := lookupCharset(fallback)
	if err != nil {
		return nil, err
	}
	return func(resp Response) (string, error) {
		enc := fallbackEnc
		if contentType, ok := resp.Headers().First("Content-Type"); ok {
			if name, ok := CharsetFromContentType(contentType); ok {
				if announced, err := lookupCharset(name); err == nil {
					enc = announced
				}
			}
		}
		return decodeBody(resp, enc)
	}, nil
}

// JSON decodes bodies as JSON documents into T.
func JSON[T any]() Decoder[T] {
	return func(resp Response) (T, error) {
		var value T
		body := resp.BodyBytes()
		if body == nil {
			return value, NewDecodeError(resp.LastRequestedLocation(), errNoBody)
		}
		if err := json.Unmarshal(body, &value); err != nil {
			return value, NewDecodeError(resp.LastRequestedLocation(), err)
		}
		return value, nil
	}
}

// YAML decodes bodies as YAML documents into T.
func YAML[T any]() Decoder[T] {
	return func(resp Response) (T, error) {
		var value T
		body := resp.BodyBytes()
		if body == nil {
			return value, NewDecodeError(resp.LastRequestedLocation(), errNoBody)
		}
		if err := yaml.Unmarshal(body, &value); err != nil {
			return value, NewDecodeError(resp.LastRequestedLocation(), err)
		}
		return value, nil
	}
}

func lookupCharset(name string) (encoding.Encoding, error) {
	enc, err := htmlindex.Get(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("unsupported charset %q: %w", name, err)
	}
	return enc, nil
}

func decodeBody(resp Response, enc encoding.Encoding) (string, error) {
	body := resp.BodyBytes()
	if body == nil {
		return "", NewDecodeError(resp.LastRequestedLocation(), errNoBody)
	}
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return "", NewDecodeError(resp.LastRequestedLocation(), err)
	}
	return string(decoded), nil
}
