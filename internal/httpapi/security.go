package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// csrfSigner issues stateless anti-forgery tokens. A token is the HMAC of
// the period it was minted in and stays good through the following period.
type csrfSigner struct {
	secret []byte
	period time.Duration
	now    func() time.Time
}

func newCSRFSigner(period time.Duration) *csrfSigner {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		log.Warn().Err(err).Msg("csrf: random secret unavailable, deriving one from the clock")
		sum := sha256.Sum256([]byte(time.Now().String()))
		secret = sum[:]
	}
	return &csrfSigner{secret: secret, period: period, now: time.Now}
}

func (c *csrfSigner) slot(at time.Time) int64 {
	return at.UTC().Truncate(c.period).Unix()
}

func (c *csrfSigner) sign(slot int64) string {
	mac := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(mac, "csrf:%d", slot)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *csrfSigner) Issue() string {
	return c.sign(c.slot(c.now()))
}

func (c *csrfSigner) Verify(token string) bool {
	if token == "" {
		return false
	}
	current := c.slot(c.now())
	previous := current - int64(c.period/time.Second)
	for _, slot := range []int64{current, previous} {
		if hmac.Equal([]byte(token), []byte(c.sign(slot))) {
			return true
		}
	}
	return false
}

func (a *API) handleCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"csrf_token": a.csrf.Issue()})
}

// Login mints the session, so it cannot already carry a token.
var csrfExemptPaths = map[string]bool{
	"/api/v1/auth/login": true,
}

func mutates(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	if !mutates(r.Method) || csrfExemptPaths[r.URL.Path] {
		return true
	}
	if !a.csrf.Verify(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

// loginThrottle caps login attempts per client over a sliding window.
// Rejected attempts are not recorded, so a client that keeps hammering is
// let back in once its oldest accepted attempt ages out.
type loginThrottle struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	now      func() time.Time
	attempts map[string][]time.Time
}

func newLoginThrottle(limit int, window time.Duration) *loginThrottle {
	if window <= 0 {
		window = time.Minute
	}
	return &loginThrottle{
		limit:    max(limit, 1),
		window:   window,
		now:      time.Now,
		attempts: make(map[string][]time.Time),
	}
}

func (t *loginThrottle) Allow(client string) bool {
	if t == nil {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	recent := slices.DeleteFunc(t.attempts[client], func(at time.Time) bool {
		return now.Sub(at) >= t.window
	})
	if len(recent) >= t.limit {
		t.attempts[client] = recent
		return false
	}
	t.attempts[client] = append(recent, now)
	return true
}

// clientKey identifies the caller by remote IP, dropping the port.
func clientKey(r *http.Request) string {
	remote := strings.TrimSpace(r.RemoteAddr)
	if remote == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		return remote
	}
	return host
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method != http.MethodGet && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		startedAt := time.Now()
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}
