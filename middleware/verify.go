package middleware

import (
	"net/http"
	"strings"

	"github.com/bigtreetc/tokenauth"
	"github.com/rs/zerolog"
)

// Verifier checks access tokens. *tokenauth.Engine implements it.
type Verifier interface {
	Verify(tokenStr string) tokenauth.VerifyResult
}

// PermitList holds path patterns that bypass access-token verification.
// A pattern is either an exact path or a prefix ending in "/**".
type PermitList []string

// Match reports whether path is covered by the list.
func (l PermitList) Match(path string) bool {
	for _, pattern := range l {
		if prefix, ok := strings.CutSuffix(pattern, "/**"); ok {
			if path == prefix || strings.HasPrefix(path, prefix+"/") {
				return true
			}
			continue
		}
		if path == pattern {
			return true
		}
	}
	return false
}

// Verify authenticates the bearer token on every request whose path is not
// permitted. Requests without an Authorization bearer header continue
// anonymously; a token that fails verification ends the request with 401.
// On success the principal is attached with [tokenauth.WithPrincipal].
func Verify(v Verifier, permit PermitList, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if permit.Match(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			token, present := BearerToken(r)
			if !present {
				next.ServeHTTP(w, r)
				return
			}

			res := v.Verify(token)
			if !res.OK() {
				logger.Debug().
					Str("failure", res.Failure.String()).
					Str("path", r.URL.Path).
					Str("request_id", RequestIDFromContext(r.Context())).
					Msg("access token rejected")
				WriteUnauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(tokenauth.WithPrincipal(r.Context(), res.Principal)))
		})
	}
}

// BearerToken extracts the token from an Authorization: Bearer header.
// present is false when there is no bearer header at all; an empty token
// after the scheme is reported as present so that it fails verification.
func BearerToken(r *http.Request) (token string, present bool) {
	scheme, rest, _ := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	return strings.TrimSpace(rest), true
}
