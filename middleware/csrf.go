package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	authcore "github.com/authcore-io/authcore"
)

// CSRFOptions tunes the double-submit check.
type CSRFOptions struct {
	// CookieName and HeaderName default to the engine configuration's
	// conventions when empty.
	CookieName string
	HeaderName string
	// SkipPaths are exact request paths exempt from the check, typically the
	// token-issuing and refresh endpoints that cannot carry a token yet.
	SkipPaths []string
}

// CSRF enforces double-submit cookie verification on state-changing methods.
// The header value must byte-match the cookie and must verify against the
// account's server-side token. Safe methods and whitelisted paths pass
// through. Mount it inside Guard: it needs the validated claims.
func CSRF(engine *authcore.Engine, opts CSRFOptions) func(http.Handler) http.Handler {
	cookieName := opts.CookieName
	if cookieName == "" {
		cookieName = "csrf_token"
	}
	headerName := opts.HeaderName
	if headerName == "" {
		headerName = "X-CSRF-Token"
	}

	skip := make(map[string]struct{}, len(opts.SkipPaths))
	for _, p := range opts.SkipPaths {
		skip[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := skip[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			cookie, err := r.Cookie(cookieName)
			if err != nil || cookie.Value == "" {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			header := r.Header.Get(headerName)
			if subtle.ConstantTimeCompare([]byte(cookie.Value), []byte(header)) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			if err := engine.VerifyCSRFToken(r.Context(), claims.AccountID, header); err != nil {
				WriteError(w, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func safeMethod(method string) bool {
	switch strings.ToUpper(method) {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
