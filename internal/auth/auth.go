package auth

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"lira/internal/config"
)

// ServerHeader is sent with every response.
const ServerHeader = "Lira Service"

// DefaultFailureDelay slows down token guessing.
const DefaultFailureDelay = time.Second

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Mode names an authentication scheme.
type Mode string

const (
	ModeToken Mode = "token"
	ModeHMAC  Mode = "hmac"
)

// Strategy checks whether a request came from the data store.
type Strategy interface {
	Mode() Mode
	Verify(r *http.Request, body []byte) error
}

// TokenStrategy accepts requests whose auth query parameter equals the
// shared notification token.
type TokenStrategy struct {
	token []byte
}

// NewTokenStrategy creates a TokenStrategy for token.
func NewTokenStrategy(token string) *TokenStrategy {
	return &TokenStrategy{token: []byte(token)}
}

func (s *TokenStrategy) Mode() Mode { return ModeToken }

func (s *TokenStrategy) Verify(r *http.Request, _ []byte) error {
	got := r.URL.Query().Get("auth")
	if got == "" {
		return errors.New("missing auth query parameter")
	}
	if len(s.token) == 0 || subtle.ConstantTimeCompare([]byte(got), s.token) != 1 {
		return errors.New("auth query parameter does not match")
	}
	return nil
}

// HMACStrategy verifies HTTP signatures made with a shared HMAC-SHA256
// key. The signature must cover the Date header, the Date must not be
// older than the staleness window (when one is set) and the Digest
// header must match the body.
type HMACStrategy struct {
	key       []byte
	staleness time.Duration
	now       func() time.Time
}

// NewHMACStrategy creates an HMACStrategy. A zero staleness disables the
// age check.
func NewHMACStrategy(key []byte, staleness time.Duration) *HMACStrategy {
	return &HMACStrategy{key: key, staleness: staleness, now: time.Now}
}

func (s *HMACStrategy) Mode() Mode { return ModeHMAC }

func (s *HMACStrategy) Verify(r *http.Request, body []byte) error {
	header := r.Header.Get("Authorization")
	if header == "" {
		return errors.New("no authorization header")
	}
	if !strings.HasPrefix(header, "Signature ") {
		return errors.New("authorization header is not an http signature")
	}
	if !signsDate(header) {
		return fmt.Errorf("no date in auth header: %s", header)
	}

	verifier, err := httpsig.NewVerifier(r)
	if err != nil {
		return fmt.Errorf("parse signature: %w", err)
	}
	if err := verifier.Verify(s.key, httpsig.HMAC_SHA256); err != nil {
		return fmt.Errorf("verify signature: %w", err)
	}

	dateHeader := r.Header.Get("Date")
	if dateHeader == "" {
		return errors.New("no date header")
	}
	sent, err := mail.ParseDate(dateHeader)
	if err != nil {
		return fmt.Errorf("parse date header: %w", err)
	}
	if s.staleness > 0 {
		if age := s.now().Sub(sent); age > s.staleness {
			return fmt.Errorf("notification is stale: sent %s ago", age.Truncate(time.Second))
		}
	}

	sum := sha256.Sum256(body)
	want := "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
	if got := r.Header.Get("Digest"); subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
		return errors.New("digests do not match")
	}
	return nil
}

// signsDate reports whether the headers parameter of a signature
// includes date. A signature without a headers parameter covers only
// the Date header.
func signsDate(header string) bool {
	params := strings.TrimPrefix(header, "Signature ")
	for _, param := range strings.Split(params, ",") {
		name, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || name != "headers" {
			continue
		}
		for _, h := range strings.Fields(strings.Trim(value, `"`)) {
			if strings.EqualFold(h, "date") {
				return true
			}
		}
		return false
	}
	return true
}

// Authenticator decides whether inbound notifications are authentic.
type Authenticator struct {
	strategy Strategy
	logger   Logger
	failures metric.Int64Counter

	// FailureDelay is waited before answering a failed token check.
	FailureDelay time.Duration
}

// New creates an Authenticator from the application configuration. HMAC
// mode is used when an HMAC key is configured, token mode otherwise.
func New(cfg *config.Config, logger Logger) (*Authenticator, error) {
	switch {
	case cfg.HMACKey != "":
		return NewAuthenticator(NewHMACStrategy([]byte(cfg.HMACKey), cfg.StaleTimeout()), logger), nil
	case cfg.NotificationToken != "":
		return NewAuthenticator(NewTokenStrategy(cfg.NotificationToken), logger), nil
	default:
		return nil, errors.New("auth configuration is incomplete")
	}
}

// NewAuthenticator wraps a strategy.
func NewAuthenticator(strategy Strategy, logger Logger) *Authenticator {
	counter, err := otel.Meter("lira/auth").Int64Counter("lira.auth.failures")
	if err != nil {
		counter = noop.Int64Counter{}
	}
	return &Authenticator{
		strategy:     strategy,
		logger:       logger,
		failures:     counter,
		FailureDelay: DefaultFailureDelay,
	}
}

// Mode returns the active authentication mode.
func (a *Authenticator) Mode() Mode {
	return a.strategy.Mode()
}

// Authenticate reports whether r, with the already-read body, is
// authentic. It never panics and never returns an error: every failure
// is logged and reported as false.
func (a *Authenticator) Authenticate(r *http.Request, body []byte) (ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			a.reject(r.Context(), fmt.Errorf("panic during verification: %v", rec))
			ok = false
		}
	}()

	if err := a.strategy.Verify(r, body); err != nil {
		a.reject(r.Context(), err)
		return false
	}
	return true
}

func (a *Authenticator) reject(ctx context.Context, reason error) {
	a.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", string(a.strategy.Mode()))))
	if a.logger != nil {
		a.logger.Error("auth error", "mode", a.strategy.Mode(), "reason", reason.Error())
	}
}

// RequireAuth is middleware that only lets authentic notifications
// through. The request body is read for verification and restored for
// the next handler.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Body != nil {
			var err error
			body, err = io.ReadAll(r.Body)
			if errors.Is(err, echo.ErrStatusRequestEntityTooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, `{"error":"Request Entity Too Large"}`)
				return
			}
			if err != nil {
				a.unauthorized(w, r, fmt.Errorf("read body: %w", err))
				return
			}
			r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
		}

		if !a.Authenticate(r, body) {
			a.unauthorized(w, r, nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) unauthorized(w http.ResponseWriter, r *http.Request, reason error) {
	if reason != nil {
		a.reject(r.Context(), reason)
	}
	if a.strategy.Mode() == ModeToken && a.FailureDelay > 0 {
		timer := time.NewTimer(a.FailureDelay)
		select {
		case <-timer.C:
		case <-r.Context().Done():
			timer.Stop()
		}
	}

	writeJSON(w, http.StatusUnauthorized, `{"error":"Unauthorized"}`)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Server", ServerHeader)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
