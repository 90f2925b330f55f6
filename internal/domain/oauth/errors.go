package oauth

import "errors"

var (
	// ErrInvalidState indicates the state is unknown, expired, or already
	// consumed. Callers map this to a user-facing session-expired error.
	ErrInvalidState = errors.New("oauth: invalid state")
	// ErrInvalidRequest indicates caller input validation errors.
	ErrInvalidRequest = errors.New("oauth: invalid request")
	// ErrExchangeFailed indicates the code-for-token exchange with GitHub
	// failed. The provider error is logged, never surfaced.
	ErrExchangeFailed = errors.New("oauth: token exchange failed")
	// ErrRefreshFailed indicates the refresh-token grant failed. Distinct from
	// ErrExchangeFailed so callers can decide whether to keep serving an
	// unexpired token.
	ErrRefreshFailed = errors.New("oauth: token refresh failed")
)
