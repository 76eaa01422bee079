package errors

import "fmt"

// SSOError is the JSON body returned when the SSO endpoint cannot complete a handshake.
type SSOError struct {
	Code        string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func (e *SSOError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Error codes
const (
	SSOFailed       = "sso_failed"
	NotConfigured   = "not_configured"
	ServerError     = "server_error"
	Unauthenticated = "unauthenticated"
)

// NewAuthenticationFailed is the single generic rejection for inbound requests.
// The reason is logged, never returned to the caller.
func NewAuthenticationFailed() *SSOError {
	return &SSOError{
		Code:        SSOFailed,
		Description: "SSO authentication failed",
	}
}

func NewNotConfigured() *SSOError {
	return &SSOError{
		Code:        NotConfigured,
		Description: "SSO is not configured",
	}
}

func NewServerError(description string) *SSOError {
	return &SSOError{
		Code:        ServerError,
		Description: description,
	}
}

func NewUnauthenticated() *SSOError {
	return &SSOError{
		Code:        Unauthenticated,
		Description: "sign in required",
	}
}
