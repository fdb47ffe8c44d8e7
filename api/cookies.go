package api

import (
	"net/http"
	"time"

	"github.com/bigtreetc/tokenauth"
)

func (h *handler) setSessionCookies(w http.ResponseWriter, tokens tokenauth.TokenPair) {
	c := h.config.Cookie
	http.SetCookie(w, h.cookie(c.SessionName, tokens.SessionID, c.SessionMaxAge))
	http.SetCookie(w, h.cookie(c.RefreshName, tokens.RefreshToken, c.RefreshMaxAge))
}

func (h *handler) clearSessionCookies(w http.ResponseWriter) {
	c := h.config.Cookie
	for _, name := range []string{c.SessionName, c.RefreshName} {
		cookie := h.cookie(name, "", 0)
		cookie.MaxAge = -1
		cookie.Expires = time.Unix(0, 0)
		http.SetCookie(w, cookie)
	}
}

func (h *handler) cookie(name, value string, maxAge time.Duration) *http.Cookie {
	c := h.config.Cookie
	sameSite := c.SameSite
	if sameSite == 0 {
		sameSite = http.SameSiteStrictMode
	}

	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   h.config.SecureCookies(),
		SameSite: sameSite,
	}
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
