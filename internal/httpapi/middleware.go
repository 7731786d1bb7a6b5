package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/unrolled/secure"
	"golang.org/x/crypto/hkdf"
)

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		startedAt := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(startedAt)).
			Msg("http: request")
	})
}

func securityHeaders() func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
	})
	return sec.Handler
}

func (a *API) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func limitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && isMutating(r.Method) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

func isMutating(method string) bool {
	return method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch || method == http.MethodDelete
}

// csrfExemptPaths are called before a client can hold a token.
var csrfExemptPaths = map[string]bool{
	"/api/v1/auth/login": true,
}

func (a *API) checkCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !isMutating(r.Method) || csrfExemptPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		if !a.csrf.Valid(strings.TrimSpace(r.Header.Get("X-CSRF-Token"))) {
			log.Warn().Str("path", r.URL.Path).Str("request_id", middleware.GetReqID(r.Context())).Msg("http: csrf validation failed")
			writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// csrfSigner issues stateless tokens: an HMAC of the current hour bucket.
// A token stays valid for the bucket it was issued in and the next one.
type csrfSigner struct {
	secret []byte
	now    func() time.Time
}

// newCSRFSigner derives the signing key from the auth secret so every
// instance sharing AUTH_SECRET accepts the same tokens. Without a secret the
// key is random and tokens only hold for this process.
func newCSRFSigner(authSecret []byte) *csrfSigner {
	secret := make([]byte, 32)
	if len(authSecret) == 0 {
		if _, err := rand.Read(secret); err != nil {
			log.Fatal().Err(err).Msg("http: failed to generate csrf secret")
		}
		return &csrfSigner{secret: secret, now: time.Now}
	}
	kdf := hkdf.New(sha256.New, authSecret, nil, []byte("kasirkredit csrf v1"))
	if _, err := io.ReadFull(kdf, secret); err != nil {
		log.Fatal().Err(err).Msg("http: failed to derive csrf secret")
	}
	return &csrfSigner{secret: secret, now: time.Now}
}

func (c *csrfSigner) tokenFor(bucket int64) string {
	h := hmac.New(sha256.New, c.secret)
	fmt.Fprintf(h, "%d", bucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (c *csrfSigner) Issue() string {
	return c.tokenFor(c.now().UTC().Truncate(time.Hour).Unix())
}

func (c *csrfSigner) Valid(token string) bool {
	if token == "" {
		return false
	}
	current := c.now().UTC().Truncate(time.Hour).Unix()
	return hmac.Equal([]byte(token), []byte(c.tokenFor(current))) ||
		hmac.Equal([]byte(token), []byte(c.tokenFor(current-3600)))
}
