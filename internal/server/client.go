package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// clientCookie carries the browser's client token. Drafts are stored per
// token, so one visitor's edits never become another's starting source.
const clientCookie = "fxlab_client"

const clientCookieMaxAge = 365 * 24 * time.Hour

// clientID returns the request's client token, or "" when it has none.
func clientID(r *http.Request) string {
	c, err := r.Cookie(clientCookie)
	if err != nil {
		return ""
	}
	if _, err := uuid.Parse(c.Value); err != nil {
		return ""
	}
	return c.Value
}

// ensureClientID returns the request's client token, issuing a new one when
// the request carries none. It must run before the response is written.
func ensureClientID(w http.ResponseWriter, r *http.Request) string {
	if id := clientID(r); id != "" {
		return id
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     clientCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(clientCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}
