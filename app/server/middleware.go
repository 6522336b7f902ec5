package server

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"time"

	log "github.com/go-pkgz/lgr"
	um "github.com/go-pkgz/rest"
	"golang.org/x/crypto/bcrypt"
)

// hardcoded username for basic auth
const authUser = "pasta"

// authRequired gates mutating endpoints behind basic auth when an auth
// hash is configured. Reads stay open, uploads and edits don't.
func (s Server) authRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.AuthHash == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !s.checkBasicAuth(r) {
			w.Header().Set("WWW-Authenticate", `Basic realm="pasta"`)
			um.SendErrorJSON(w, r, log.Default(), http.StatusUnauthorized, nil, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkBasicAuth validates basic auth credentials for API access
func (s Server) checkBasicAuth(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}

	// constant-time username comparison
	usernameCorrect := subtle.ConstantTimeCompare([]byte(username), []byte(authUser)) == 1

	// bcrypt password check (already constant-time)
	passwordCorrect := bcrypt.CompareHashAndPassword([]byte(s.cfg.AuthHash), []byte(password)) == nil

	return usernameCorrect && passwordCorrect
}

// Logger middleware with masking for the password query parameter.
// Must run after rest.RealIP which sets r.RemoteAddr to the client IP.
func Logger(l log.L) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()

			h.ServeHTTP(ww, r)

			l.Logf("[DEBUG] %s - %s - %s - %d - %v", r.Method, maskedURL(r.URL), r.RemoteAddr, ww.status, time.Since(start))
		}
		return http.HandlerFunc(fn)
	}
}

// maskedURL hides paste passwords in access logs
func maskedURL(u *url.URL) string {
	if u.Query().Get("password") == "" {
		return u.String()
	}
	masked := *u
	q := masked.Query()
	q.Set("password", "*****")
	masked.RawQuery = q.Encode()
	return masked.String()
}

// statusWriter wraps http.ResponseWriter to capture status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
