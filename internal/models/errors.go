package models

import "errors"

var (
	// ErrTransportUnavailable wraps any failure to reach the broker or
	// result store.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrSerialization wraps arguments or results that cannot be encoded
	// or decoded as JSON.
	ErrSerialization = errors.New("serialization error")
)
