package secretstoremock

import (
	"github.com/openkcm/session-auth/internal/secretstore"
)

type Entry struct {
	Value string
	Attrs secretstore.Attributes
}

// Store is an in-memory secretstore.Store recording every write.
type Store struct {
	Entries map[string]Entry
	Deleted []string
}

var _ secretstore.Store = (*Store)(nil)

type Option func(*Store)

func WithValue(name, value string) Option {
	return func(s *Store) { s.Entries[name] = Entry{Value: value} }
}

func New(opts ...Option) *Store {
	s := &Store{Entries: make(map[string]Entry)}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

func (s *Store) Get(name string) (string, bool) {
	e, ok := s.Entries[name]
	if !ok || e.Value == "" {
		return "", false
	}

	return e.Value, true
}

func (s *Store) Set(name, value string, attrs secretstore.Attributes) {
	s.Entries[name] = Entry{Value: value, Attrs: attrs}
}

func (s *Store) Delete(name, _ string) {
	delete(s.Entries, name)
	s.Deleted = append(s.Deleted, name)
}
