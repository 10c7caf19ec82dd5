package fetcher

import (
	"time"

	"github.com/gaborage/go-retrieval/retrieval"
)

// Decoded is the result of decoding one response. Besides the value a payload may
// instruct the fetcher about its further operation.
type Decoded[T any] struct {
	Value T

	// NextURLs replaces the URL pool when non-nil, exactly like SetNextRetrievalURLs.
	NextURLs []string

	// MinimumInterval is the smallest interval the source permits; zero means unconstrained.
	MinimumInterval time.Duration
}

// Decoder decodes a complete response. Returning an error marks the fetch as failed;
// an empty but valid payload must be returned as a value, not an error.
type Decoder[T any] func(retrieval.Response) (Decoded[T], error)

// ValueOnly adapts a plain retrieval decoder that never negotiates URLs or intervals.
func ValueOnly[T any](dec retrieval.Decoder[T]) Decoder[T] {
	return func(resp retrieval.Response) (Decoded[T], error) {
		value, err := dec(resp)
		if err != nil {
			return Decoded[T]{}, err
		}
		return Decoded[T]{Value: value}, nil
	}
}
