// Package secretstore defines the caller-scoped key/value store that carries
// session identifiers and OAuth ephemeral secrets across requests.
package secretstore

import (
	"net/http"
	"time"
)

type Attributes struct {
	Path     string
	Expires  time.Time
	HTTPOnly bool
	Secure   bool
	SameSite http.SameSite
}

// Store is the minimal capability the authentication components need from
// the caller. Implementations are scoped to a single request.
type Store interface {
	Get(name string) (string, bool)
	Set(name, value string, attrs Attributes)
	// Delete removes the value; path must match the one used by Set.
	Delete(name, path string)
}

// CookieStore keeps values in HTTP cookies. Values written during the
// request are visible to later Get calls of the same request.
type CookieStore struct {
	w       http.ResponseWriter
	r       *http.Request
	written map[string]*string
}

var _ Store = (*CookieStore)(nil)

func NewCookieStore(w http.ResponseWriter, r *http.Request) *CookieStore {
	return &CookieStore{w: w, r: r, written: make(map[string]*string)}
}

func (s *CookieStore) Get(name string) (string, bool) {
	if v, ok := s.written[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}

	c, err := s.r.Cookie(name)
	if err != nil || c.Value == "" {
		return "", false
	}

	return c.Value, true
}

func (s *CookieStore) Set(name, value string, attrs Attributes) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     attrs.Path,
		Expires:  attrs.Expires,
		HttpOnly: attrs.HTTPOnly,
		Secure:   attrs.Secure,
		SameSite: attrs.SameSite,
	})
	s.written[name] = &value
}

func (s *CookieStore) Delete(name, path string) {
	http.SetCookie(s.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
	})
	s.written[name] = nil
}
