package middleware

import (
	"net/http"
	"strconv"
	"time"

	authcore "github.com/authcore-io/authcore"
)

// RateLimit charges one global-class point per request against the caller's
// network fingerprint. Allowed requests carry X-RateLimit-* headers; refused
// ones get 429 with Retry-After. Endpoint-specific classes (login,
// registration, 2FA) are charged inside the engine operations themselves,
// so a throttled endpoint class never burns global budget twice.
func RateLimit(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				next.ServeHTTP(w, r)
				return
			}

			status, err := engine.ConsumeRateAction(r.Context(), authcore.RateGlobal)
			if err != nil {
				WriteError(w, err)
				return
			}
			if status != nil {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.ResetAt.Unix(), 10))
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(d time.Duration) string {
	secs := int64(d / time.Second)
	if d%time.Second != 0 || secs == 0 {
		secs++
	}
	return strconv.FormatInt(secs, 10)
}
