package usage

import "errors"

var (
	// ErrMalformedHostname is returned when a URL or hostname cannot be
	// resolved to a trackable hostname. The signal carrying it is dropped.
	ErrMalformedHostname = errors.New("malformed hostname")

	// ErrUnknownContext is returned by queries about a context with no timer.
	ErrUnknownContext = errors.New("unknown context")

	// ErrQuiesced is returned for signals received while the tracker is quiesced.
	ErrQuiesced = errors.New("tracker quiesced")
)
