package retrieval

import (
	"encoding/json"
	"time"
)

// RetrievedData annotates a decoded value with when and where it was retrieved.
// Values are immutable after construction.
type RetrievedData[T any] struct {
	retrievedTime     time.Time
	requestedLocation string
	resolvedLocation  string
	data              T
}

// NewRetrievedData creates an annotated holder for data.
func NewRetrievedData[T any](retrievedTime time.Time, requestedLocation, resolvedLocation string, data T) *RetrievedData[T] {
	return &RetrievedData[T]{
		retrievedTime:     retrievedTime,
		requestedLocation: requestedLocation,
		resolvedLocation:  resolvedLocation,
		data:              data,
	}
}

// RetrievedTime returns when the data was retrieved.
func (d *RetrievedData[T]) RetrievedTime() time.Time {
	return d.retrievedTime
}

// RequestedLocation returns the location the data was requested from.
func (d *RetrievedData[T]) RequestedLocation() string {
	return d.requestedLocation
}

// ResolvedLocation returns the location the data was finally served from.
func (d *RetrievedData[T]) ResolvedLocation() string {
	return d.resolvedLocation
}

// Data returns the decoded payload.
func (d *RetrievedData[T]) Data() T {
	return d.data
}

type retrievedDataJSON[T any] struct {
	RetrievedTime     time.Time `json:"retrievedTime"`
	RequestedLocation string    `json:"requestedLocation"`
	ResolvedLocation  string    `json:"resolvedLocation"`
	Data              T         `json:"data"`
}

// MarshalJSON encodes the data with its retrieval time and locations.
func (d *RetrievedData[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(retrievedDataJSON[T]{
		RetrievedTime:     d.retrievedTime,
		RequestedLocation: d.requestedLocation,
		ResolvedLocation:  d.resolvedLocation,
		Data:              d.data,
	})
}
