package middleware

import (
	"errors"
	"net/http"

	authcore "github.com/authcore-io/authcore"
)

// WriteError maps engine errors to HTTP responses. Bodies stay generic;
// clients get a status code, not a failure cause.
func WriteError(w http.ResponseWriter, err error) {
	var limited *authcore.RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", retryAfterSeconds(limited.RetryAfter))
		http.Error(w, "too many requests", http.StatusTooManyRequests)
		return
	}

	switch {
	case errors.Is(err, authcore.ErrRateLimited):
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	case errors.Is(err, authcore.ErrAccountLocked):
		http.Error(w, "account locked", http.StatusLocked)
	case errors.Is(err, authcore.ErrCSRFInvalid):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, authcore.ErrUnauthenticated),
		errors.Is(err, authcore.ErrSessionExpired),
		errors.Is(err, authcore.ErrRefreshReuse),
		errors.Is(err, authcore.ErrInvalidCredentials),
		errors.Is(err, authcore.ErrTwoFactorChallengeInvalid):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, authcore.ErrAccountExists):
		http.Error(w, "conflict", http.StatusConflict)
	case errors.Is(err, authcore.ErrStoreUnavailable):
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
	default:
		http.Error(w, "bad request", http.StatusBadRequest)
	}
}
