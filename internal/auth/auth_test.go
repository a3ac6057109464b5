package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-fed/httpsig"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lira/internal/config"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// recordingLogger keeps every logged argument so tests can check what
// leaks into logs.
type recordingLogger struct {
	NoOpLogger
	lines []string
}

func (l *recordingLogger) Error(msg string, args ...any) {
	parts := []string{msg}
	for _, a := range args {
		if s, ok := a.(string); ok {
			parts = append(parts, s)
		}
	}
	l.lines = append(l.lines, strings.Join(parts, " "))
}

const notificationBody = `{"subscription_id":"sub","match":{"bundle_uuid":"u","bundle_version":"v"}}`

var hmacKey = []byte("top-secret-hmac-key")

func signedRequest(t *testing.T, key []byte, date time.Time, headers []string, body string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Date", date.UTC().Format(http.TimeFormat))

	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.HMAC_SHA256},
		httpsig.DigestSha256,
		headers,
		httpsig.Authorization,
		0,
	)
	require.NoError(t, err)
	require.NoError(t, signer.SignRequest(key, "hca-dss", req, []byte(body)))
	return req
}

func defaultSignedHeaders() []string {
	return []string{httpsig.RequestTarget, "date", "digest"}
}

func TestTokenStrategy(t *testing.T) {
	s := NewTokenStrategy("secret")

	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{"matching token", "/notifications?auth=secret", true},
		{"wrong token", "/notifications?auth=wrong", false},
		{"missing token", "/notifications", false},
		{"empty token", "/notifications?auth=", false},
		{"token prefix", "/notifications?auth=secre", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tt.url, nil)
			err := s.Verify(req, nil)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestHMACStrategyAcceptsValidSignature(t *testing.T) {
	s := NewHMACStrategy(hmacKey, time.Minute)
	req := signedRequest(t, hmacKey, time.Now(), defaultSignedHeaders(), notificationBody)

	assert.NoError(t, s.Verify(req, []byte(notificationBody)))
}

func TestHMACStrategyRejections(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		build func(t *testing.T) (*http.Request, []byte)
	}{
		{
			name: "no authorization header",
			build: func(t *testing.T) (*http.Request, []byte) {
				req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(notificationBody))
				req.Header.Set("Date", now.UTC().Format(http.TimeFormat))
				return req, []byte(notificationBody)
			},
		},
		{
			name: "wrong key",
			build: func(t *testing.T) (*http.Request, []byte) {
				return signedRequest(t, []byte("other-key"), now, defaultSignedHeaders(), notificationBody), []byte(notificationBody)
			},
		},
		{
			name: "date not signed",
			build: func(t *testing.T) (*http.Request, []byte) {
				headers := []string{httpsig.RequestTarget, "digest"}
				return signedRequest(t, hmacKey, now, headers, notificationBody), []byte(notificationBody)
			},
		},
		{
			name: "stale date",
			build: func(t *testing.T) (*http.Request, []byte) {
				return signedRequest(t, hmacKey, now.Add(-2*time.Minute), defaultSignedHeaders(), notificationBody), []byte(notificationBody)
			},
		},
		{
			name: "tampered body",
			build: func(t *testing.T) (*http.Request, []byte) {
				req := signedRequest(t, hmacKey, now, defaultSignedHeaders(), notificationBody)
				return req, []byte(strings.Replace(notificationBody, `"u"`, `"x"`, 1))
			},
		},
		{
			name: "tampered date header",
			build: func(t *testing.T) (*http.Request, []byte) {
				req := signedRequest(t, hmacKey, now, defaultSignedHeaders(), notificationBody)
				req.Header.Set("Date", now.Add(time.Second).UTC().Format(http.TimeFormat))
				return req, []byte(notificationBody)
			},
		},
		{
			name: "bearer scheme",
			build: func(t *testing.T) (*http.Request, []byte) {
				req := httptest.NewRequest(http.MethodPost, "/notifications", strings.NewReader(notificationBody))
				req.Header.Set("Authorization", "Bearer abc")
				return req, []byte(notificationBody)
			},
		},
	}

	s := NewHMACStrategy(hmacKey, time.Minute)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, body := tt.build(t)
			assert.Error(t, s.Verify(req, body))
		})
	}
}

func TestHMACStrategyUnsignedDigestIsStillChecked(t *testing.T) {
	s := NewHMACStrategy(hmacKey, 0)
	headers := []string{httpsig.RequestTarget, "date"}
	req := signedRequest(t, hmacKey, time.Now(), headers, notificationBody)

	require.NoError(t, s.Verify(req, []byte(notificationBody)))

	req.Header.Set("Digest", "SHA-256=AAAA")
	assert.Error(t, s.Verify(req, []byte(notificationBody)))
}

func TestHMACStrategyZeroTimeoutDisablesStaleness(t *testing.T) {
	s := NewHMACStrategy(hmacKey, 0)
	req := signedRequest(t, hmacKey, time.Now().Add(-24*time.Hour), defaultSignedHeaders(), notificationBody)

	assert.NoError(t, s.Verify(req, []byte(notificationBody)))
}

func TestHMACStrategyUsesInjectedClock(t *testing.T) {
	sent := time.Date(2018, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewHMACStrategy(hmacKey, time.Minute)
	s.now = func() time.Time { return sent.Add(30 * time.Second) }

	req := signedRequest(t, hmacKey, sent, defaultSignedHeaders(), notificationBody)
	assert.NoError(t, s.Verify(req, []byte(notificationBody)))

	s.now = func() time.Time { return sent.Add(61 * time.Second) }
	assert.Error(t, s.Verify(req, []byte(notificationBody)))
}

func TestSignsDate(t *testing.T) {
	assert.True(t, signsDate(`Signature keyId="k",algorithm="hmac-sha256",headers="(request-target) date digest",signature="x"`))
	assert.False(t, signsDate(`Signature keyId="k",algorithm="hmac-sha256",headers="(request-target) digest",signature="x"`))
	assert.True(t, signsDate(`Signature keyId="k",signature="x"`))
}

type panickingStrategy struct{}

func (panickingStrategy) Mode() Mode                         { return ModeHMAC }
func (panickingStrategy) Verify(*http.Request, []byte) error { panic("boom") }

func TestAuthenticateRecoversPanics(t *testing.T) {
	a := NewAuthenticator(panickingStrategy{}, &NoOpLogger{})
	req := httptest.NewRequest(http.MethodPost, "/notifications", nil)

	assert.False(t, a.Authenticate(req, nil))
}

func TestAuthenticateDoesNotLogSecrets(t *testing.T) {
	logger := &recordingLogger{}
	a := NewAuthenticator(NewTokenStrategy("super-secret-token"), logger)
	req := httptest.NewRequest(http.MethodPost, "/notifications?auth=wrong", nil)

	assert.False(t, a.Authenticate(req, nil))
	require.NotEmpty(t, logger.lines)
	for _, line := range logger.lines {
		assert.NotContains(t, line, "super-secret-token")
	}
}

func TestNewSelectsMode(t *testing.T) {
	a, err := New(&config.Config{NotificationToken: "t"}, &NoOpLogger{})
	require.NoError(t, err)
	assert.Equal(t, ModeToken, a.Mode())

	a, err = New(&config.Config{HMACKey: "k", StaleNotificationTimeout: 60}, &NoOpLogger{})
	require.NoError(t, err)
	assert.Equal(t, ModeHMAC, a.Mode())

	_, err = New(&config.Config{}, &NoOpLogger{})
	assert.Error(t, err)
}

func okHandler(t *testing.T, wantBody string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, wantBody, string(body))
		w.WriteHeader(http.StatusCreated)
	})
}

func TestRequireAuth_Token_PassesBodyThrough(t *testing.T) {
	a := NewAuthenticator(NewTokenStrategy("secret"), &NoOpLogger{})
	req := httptest.NewRequest(http.MethodPost, "/notifications?auth=secret", strings.NewReader(notificationBody))
	rec := httptest.NewRecorder()

	a.RequireAuth(okHandler(t, notificationBody)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestRequireAuth_Token_RejectsAfterDelay(t *testing.T) {
	a := NewAuthenticator(NewTokenStrategy("secret"), &NoOpLogger{})
	a.FailureDelay = 100 * time.Millisecond
	req := httptest.NewRequest(http.MethodPost, "/notifications?auth=wrong", strings.NewReader(notificationBody))
	rec := httptest.NewRecorder()

	start := time.Now()
	a.RequireAuth(okHandler(t, "")).ServeHTTP(rec, req)

	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())
	assert.Equal(t, ServerHeader, rec.Header().Get("Server"))
}

func TestRequireAuth_Token_DelayHonoursCancellation(t *testing.T) {
	a := NewAuthenticator(NewTokenStrategy("secret"), &NoOpLogger{})
	a.FailureDelay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/notifications?auth=wrong", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	a.RequireAuth(okHandler(t, "")).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

type oversizedBody struct{}

func (oversizedBody) Read([]byte) (int, error) { return 0, echo.ErrStatusRequestEntityTooLarge }

func TestRequireAuth_OversizedBodyIsNotUnauthorized(t *testing.T) {
	a := NewAuthenticator(NewTokenStrategy("secret"), &NoOpLogger{})
	a.FailureDelay = 500 * time.Millisecond
	req := httptest.NewRequest(http.MethodPost, "/notifications?auth=secret", io.NopCloser(oversizedBody{}))
	rec := httptest.NewRecorder()

	start := time.Now()
	a.RequireAuth(okHandler(t, "")).ServeHTTP(rec, req)

	assert.Less(t, time.Since(start), a.FailureDelay)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, ServerHeader, rec.Header().Get("Server"))
}

func TestRequireAuth_HMAC(t *testing.T) {
	a := NewAuthenticator(NewHMACStrategy(hmacKey, time.Minute), &NoOpLogger{})
	a.FailureDelay = time.Hour

	req := signedRequest(t, hmacKey, time.Now(), defaultSignedHeaders(), notificationBody)
	rec := httptest.NewRecorder()
	a.RequireAuth(okHandler(t, notificationBody)).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusCreated, rec.Code)

	// no delay in hmac mode, so this returns immediately despite the hour
	bad := signedRequest(t, []byte("wrong"), time.Now(), defaultSignedHeaders(), notificationBody)
	rec = httptest.NewRecorder()
	a.RequireAuth(okHandler(t, "")).ServeHTTP(rec, bad)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, ServerHeader, rec.Header().Get("Server"))
}
