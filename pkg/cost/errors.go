package cost

import "errors"

// Error kinds surfaced to callers. Wrap them with fmt.Errorf("%w: ...") and
// test with errors.Is.
var (
	// ErrInvalidQuery means the parameters are malformed or unsupported.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrUpstreamUnavailable means the billing provider could not be reached
	// or refused to serve the request (network, auth, throttling).
	ErrUpstreamUnavailable = errors.New("billing provider unavailable")
	// ErrInternal wraps anything unexpected, such as a parsing assumption
	// that did not hold.
	ErrInternal = errors.New("internal error")
)

// Kind names used on the wire.
const (
	KindInvalidQuery        = "invalid_query"
	KindUpstreamUnavailable = "upstream_unavailable"
	KindInternal            = "internal_error"
)

// KindOf classifies err into one of the wire kinds. Unknown errors are internal.
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidQuery):
		return KindInvalidQuery
	case errors.Is(err, ErrUpstreamUnavailable):
		return KindUpstreamUnavailable
	default:
		return KindInternal
	}
}
