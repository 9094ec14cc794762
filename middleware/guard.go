package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	authcore "github.com/authcore-io/authcore"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the identity a Guard-validated request proved.
func ClaimsFromContext(ctx context.Context) (*authcore.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*authcore.Claims)
	return claims, ok
}

// WithRequestContext copies the request's network identity (client IP, user
// agent, optional X-Device-ID header) into the context the engine reads.
// Mount it outermost; Guard, CSRF, and RateLimit all depend on it.
func WithRequestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = authcore.WithClientIP(ctx, clientIP(r))
		ctx = authcore.WithUserAgent(ctx, r.UserAgent())
		if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
			ctx = authcore.WithDeviceID(ctx, deviceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Guard rejects requests without a valid access token and injects the
// validated claims into the request context.
func Guard(engine *authcore.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := engine.ValidateAccess(r.Context(), token)
			if err != nil {
				WriteError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}
	return token, true
}

// clientIP trusts the leftmost X-Forwarded-For hop when present; deployments
// not behind a proxy get the socket address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
