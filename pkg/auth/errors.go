package auth

import "errors"

// Authentication failures. Handlers convert these into redirects or 401
// JSON bodies; the concrete reason is never surfaced to a browser beyond
// a generic message, but it does drive logs and metrics.
var (
	// ErrInvalidCredentials is returned for any local credential mismatch,
	// without distinguishing which field was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrCSRFViolation is returned when a state token is missing, already
	// consumed, or does not match the session's pending token.
	ErrCSRFViolation = errors.New("state token mismatch")

	// ErrUnauthenticated is returned by the authorization gate when no
	// claim is present on the session.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrCodeExchangeFailed covers provider-side rejection (or timeout) of
	// the authorization code exchange.
	ErrCodeExchangeFailed = errors.New("authorization code exchange failed")

	// ErrTokenInvalid covers any error reported by token introspection.
	ErrTokenInvalid = errors.New("access token invalid")

	// ErrSubjectMismatch means the introspected subject does not equal the
	// subject embedded in the exchanged credential.
	ErrSubjectMismatch = errors.New("token subject mismatch")

	// ErrAudienceMismatch means the introspected audience does not equal
	// this application's client id.
	ErrAudienceMismatch = errors.New("token audience mismatch")
)

// Reason maps an auth error to a stable label for logs and metrics.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrCSRFViolation):
		return "csrf_violation"
	case errors.Is(err, ErrUnauthenticated):
		return "unauthenticated"
	case errors.Is(err, ErrCodeExchangeFailed):
		return "code_exchange_failed"
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid"
	case errors.Is(err, ErrSubjectMismatch):
		return "subject_mismatch"
	case errors.Is(err, ErrAudienceMismatch):
		return "audience_mismatch"
	default:
		return "other"
	}
}
