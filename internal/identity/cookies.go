package identity

import (
	"net/http"
	"time"
)

// CookieConfig controls the two widget cookies.
type CookieConfig struct {
	AnonName    string
	SessionName string
	AnonTTL     time.Duration
	SessionTTL  time.Duration
	Secure      bool
}

// DefaultCookieConfig matches the widget contract: the anonymous id lives
// for about a year, the session id for a week.
func DefaultCookieConfig() CookieConfig {
	return CookieConfig{
		AnonName:    "sw_anon_id",
		SessionName: "sw_session_id",
		AnonTTL:     365 * 24 * time.Hour,
		SessionTTL:  7 * 24 * time.Hour,
	}
}

// CookieStore implements Store on top of HTTP cookies for one
// request/response pair. Reads prefer values written during the same
// request so that resolve-then-persist sees its own writes.
type CookieStore struct {
	w   http.ResponseWriter
	r   *http.Request
	cfg CookieConfig

	anonOverride    *string
	sessionOverride *string
}

// NewCookieStore wraps a request/response pair.
func NewCookieStore(w http.ResponseWriter, r *http.Request, cfg CookieConfig) *CookieStore {
	return &CookieStore{w: w, r: r, cfg: cfg}
}

func (s *CookieStore) AnonID() string {
	if s.anonOverride != nil {
		return *s.anonOverride
	}
	return s.read(s.cfg.AnonName)
}

func (s *CookieStore) SetAnonID(id string) {
	s.anonOverride = &id
	s.write(s.cfg.AnonName, id, s.cfg.AnonTTL)
}

func (s *CookieStore) SessionID() string {
	if s.sessionOverride != nil {
		return *s.sessionOverride
	}
	return s.read(s.cfg.SessionName)
}

func (s *CookieStore) SetSessionID(id string) {
	s.sessionOverride = &id
	s.write(s.cfg.SessionName, id, s.cfg.SessionTTL)
}

func (s *CookieStore) ClearSessionID() {
	empty := ""
	s.sessionOverride = &empty
	s.write(s.cfg.SessionName, "", -1)
}

func (s *CookieStore) read(name string) string {
	c, err := s.r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *CookieStore) write(name, value string, ttl time.Duration) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl / time.Second)
	}
	http.SetCookie(s.w, c)
}
