package market

import "errors"

var (
	// ErrMalformedSeries marks out-of-order, duplicate or otherwise invalid bar input.
	ErrMalformedSeries = errors.New("malformed series")
	// ErrInvalidConfiguration marks configuration the engine refuses to start with.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)
