package forumsso

import "errors"

var (
	// Inbound handshake rejections. All of them map to a generic HTTP 400.
	ErrMissingParameters   = errors.New("missing sso or sig parameter")
	ErrInvalidSignature    = errors.New("invalid sso signature")
	ErrMalformedPayload    = errors.New("malformed sso payload")
	ErrIncompletePayload   = errors.New("incomplete sso payload")
	ErrNonceReplayed       = errors.New("sso nonce already used")
	ErrReturnURLNotAllowed = errors.New("return_sso_url not allowed")

	// ErrMalformedSignature is returned by Verify for a signature that is not hex.
	ErrMalformedSignature = errors.New("malformed signature encoding")

	// Configuration errors make the route report the service as unavailable.
	ErrConfiguration       = errors.New("sso configuration error")
	ErrSecretNotConfigured = errors.New("DISCOURSE_SSO_SECRET is not configured")
)

// IsRejection reports whether err is an expected inbound rejection rather than
// a deployment or infrastructure failure.
func IsRejection(err error) bool {
	switch {
	case errors.Is(err, ErrMissingParameters),
		errors.Is(err, ErrInvalidSignature),
		errors.Is(err, ErrMalformedPayload),
		errors.Is(err, ErrIncompletePayload),
		errors.Is(err, ErrNonceReplayed),
		errors.Is(err, ErrReturnURLNotAllowed):
		return true
	}
	return false
}

// RejectionReason returns a short, stable label for logs and metrics.
func RejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrMissingParameters):
		return "missing_parameters"
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrMalformedPayload):
		return "malformed_payload"
	case errors.Is(err, ErrIncompletePayload):
		return "incomplete_payload"
	case errors.Is(err, ErrNonceReplayed):
		return "nonce_replayed"
	case errors.Is(err, ErrReturnURLNotAllowed):
		return "return_url_not_allowed"
	case errors.Is(err, ErrConfiguration):
		return "configuration"
	}
	return "internal"
}
