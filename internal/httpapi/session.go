package httpapi

import (
	"net/http"

	"github.com/google/uuid"
)

// SessionCookie names the cookie carrying the shopper's session id.
const SessionCookie = "sid"

const sessionMaxAge = 30 * 24 * 60 * 60

// session returns the session id from the request, issuing a new cookie
// when none is present.
func (s *Server) session(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	sid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sid,
		Path:     "/",
		MaxAge:   sessionMaxAge,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	return sid
}
