package middleware

import (
	"errors"
	"net/http"

	"github.com/bigtreetc/tokenauth"
)

// RequireAuthenticated rejects anonymous requests with 401 unless the path
// is permitted.
func RequireAuthenticated(permit PermitList) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !permit.Match(r.URL.Path) {
				if _, ok := tokenauth.PrincipalFromContext(r.Context()); !ok {
					WriteUnauthorized(w)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAuthority lets a request through when its principal holds at least
// one of authorities. Anonymous requests get 401, others without a matching
// authority get 403.
func RequireAuthority(authorities ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, _ := tokenauth.PrincipalFromContext(r.Context())
			switch err := p.Require(authorities...); {
			case err == nil:
				next.ServeHTTP(w, r)
				return
			case errors.Is(err, tokenauth.ErrUnauthorized):
				WriteUnauthorized(w)
				return
			}
			writeForbidden(w)
		})
	}
}
