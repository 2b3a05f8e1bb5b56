package gateway

import "errors"

var (
	// ErrOriginRejected means the claimed origin is not the trusted origin
	ErrOriginRejected = errors.New("origin rejected")

	// ErrMalformedEnvelope means the payload is not a JSON object in valid text
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrNamespaceRejected means a request method is outside the allow-list
	ErrNamespaceRejected = errors.New("namespace rejected")

	// ErrIgnored marks well-formed envelopes that are not requests
	ErrIgnored = errors.New("envelope ignored")
)

// outcome maps an admission result to a metrics label.
func outcome(err error) string {
	switch {
	case err == nil:
		return "admitted"
	case errors.Is(err, ErrIgnored):
		return "ignored"
	case errors.Is(err, ErrOriginRejected):
		return "origin_rejected"
	case errors.Is(err, ErrMalformedEnvelope):
		return "malformed"
	case errors.Is(err, ErrNamespaceRejected):
		return "namespace_rejected"
	default:
		return "error"
	}
}
