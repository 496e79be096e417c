package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signedToken(t *testing.T, sub string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": sub,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestFromRequestAnonymousWithoutHeader(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	ident, err := FromRequest(r, testSecret)
	require.NoError(t, err)
	assert.Equal(t, KindAnonymous, ident.Kind)
	assert.False(t, ident.Authenticated())
}

func TestFromRequestAuthenticated(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signedToken(t, "u1"))

	ident, err := FromRequest(r, testSecret)
	require.NoError(t, err)
	assert.True(t, ident.Authenticated())
	assert.Equal(t, "u1", ident.UserID)
}

func TestFromRequestRejectsBadToken(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")

	_, err := FromRequest(r, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequestRejectsWrongScheme(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Basic dXNlcjpwYXNz")

	_, err := FromRequest(r, testSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	_, err := ParseToken(signedToken(t, "u1"), "a-different-secret")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestParseTokenRejectsEverythingWhenSecretUnset(t *testing.T) {
	// A token signed with the empty key must not authenticate when no
	// secret is configured, or anyone could mint identities.
	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "victim-user",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := forged.SignedString([]byte(""))
	require.NoError(t, err)

	_, err = ParseToken(signed, "")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken(signedToken(t, "u1"), "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestFromRequestWithSecretUnset(t *testing.T) {
	// No header still resolves anonymously; any bearer is rejected.
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	ident, err := FromRequest(r, "")
	require.NoError(t, err)
	assert.Equal(t, KindAnonymous, ident.Kind)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "victim-user"})
	signed, err := forged.SignedString([]byte(""))
	require.NoError(t, err)

	r = httptest.NewRequest(http.MethodPost, "/", nil)
	r.Header.Set("Authorization", "Bearer "+signed)
	_, err = FromRequest(r, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCookieStoreRoundTrip(t *testing.T) {
	cfg := DefaultCookieConfig()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)

	s := NewCookieStore(w, r, cfg)
	assert.Empty(t, s.SessionID())

	s.SetAnonID("a1")
	s.SetSessionID("s1")

	// Writes during the same request are visible to later reads.
	assert.Equal(t, "a1", s.AnonID())
	assert.Equal(t, "s1", s.SessionID())

	cookies := w.Result().Cookies()
	byName := make(map[string]*http.Cookie)
	for _, c := range cookies {
		byName[c.Name] = c
	}

	anon := byName[cfg.AnonName]
	require.NotNil(t, anon)
	assert.Equal(t, "a1", anon.Value)
	assert.Equal(t, int((365 * 24 * time.Hour).Seconds()), anon.MaxAge)
	assert.True(t, anon.HttpOnly)

	sess := byName[cfg.SessionName]
	require.NotNil(t, sess)
	assert.Equal(t, "s1", sess.Value)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), sess.MaxAge)
}

func TestCookieStoreClearSession(t *testing.T) {
	cfg := DefaultCookieConfig()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: cfg.SessionName, Value: "stale"})

	s := NewCookieStore(w, r, cfg)
	assert.Equal(t, "stale", s.SessionID())

	s.ClearSessionID()
	assert.Empty(t, s.SessionID())

	var cleared *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == cfg.SessionName {
			cleared = c
		}
	}
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)
}

func TestCookieStoreReadsRequestCookies(t *testing.T) {
	cfg := DefaultCookieConfig()
	r := httptest.NewRequest(http.MethodPost, "/", nil)
	r.AddCookie(&http.Cookie{Name: cfg.AnonName, Value: "from-browser"})

	s := NewCookieStore(httptest.NewRecorder(), r, cfg)
	assert.Equal(t, "from-browser", s.AnonID())
}
