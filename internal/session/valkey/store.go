package sessionvalkey

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/openkcm/session-auth/internal/serviceerr"
)

type writeMode int

const (
	writeAlways writeMode = iota
	writeIfAbsent
	writeIfPresent
)

type store struct {
	valkey valkey.Client
	prefix string
}

func newStore(valkeyClient valkey.Client, prefix string) *store {
	return &store{
		valkey: valkeyClient,
		prefix: strings.TrimSuffix(prefix, ":"),
	}
}

// get decodes the value at key. A missing key is serviceerr.ErrNotFound.
func (s *store) get(ctx context.Context, key string, decodeInto any) error {
	bytes, err := s.valkey.Do(ctx, s.valkey.B().Get().Key(key).Build()).AsBytes()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return serviceerr.ErrNotFound
		}

		return fmt.Errorf("executing get command: %w", err)
	}

	if err := json.Unmarshal(bytes, decodeInto); err != nil {
		return fmt.Errorf("unmarshaling json: %w", err)
	}

	return nil
}

// set stores val at key for ttl. Conditional writes that do not apply are
// reported as serviceerr.ErrConflict (absent) or serviceerr.ErrNotFound
// (present).
func (s *store) set(ctx context.Context, key string, val any, ttl time.Duration, mode writeMode) error {
	bytes, err := json.Marshal(val)
	if err != nil {
		return fmt.Errorf("marshaling json: %w", err)
	}

	seconds := max(int64(ttl.Round(time.Second)/time.Second), 1)
	value := valkey.BinaryString(bytes)

	var cmd valkey.Completed
	switch mode {
	case writeIfAbsent:
		cmd = s.valkey.B().Set().Key(key).Value(value).Nx().ExSeconds(seconds).Build()
	case writeIfPresent:
		cmd = s.valkey.B().Set().Key(key).Value(value).Xx().ExSeconds(seconds).Build()
	default:
		cmd = s.valkey.B().Set().Key(key).Value(value).ExSeconds(seconds).Build()
	}

	if err := s.valkey.Do(ctx, cmd).Error(); err != nil {
		if !valkey.IsValkeyNil(err) {
			return fmt.Errorf("executing set command: %w", err)
		}
		if mode == writeIfAbsent {
			return serviceerr.ErrConflict
		}

		return serviceerr.ErrNotFound
	}

	return nil
}

func (s *store) del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	n, err := s.valkey.Do(ctx, s.valkey.B().Del().Key(keys...).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("executing del command: %w", err)
	}

	return n, nil
}

func (s *store) addMembers(ctx context.Context, key string, members ...string) error {
	if err := s.valkey.Do(ctx, s.valkey.B().Sadd().Key(key).Member(members...).Build()).Error(); err != nil {
		return fmt.Errorf("executing sadd command: %w", err)
	}

	return nil
}

func (s *store) members(ctx context.Context, key string) ([]string, error) {
	members, err := s.valkey.Do(ctx, s.valkey.B().Smembers().Key(key).Build()).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("executing smembers command: %w", err)
	}

	return members, nil
}

func (s *store) removeMembers(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}

	n, err := s.valkey.Do(ctx, s.valkey.B().Srem().Key(key).Member(members...).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("executing srem command: %w", err)
	}

	return n, nil
}

func (s *store) exists(ctx context.Context, key string) (bool, error) {
	n, err := s.valkey.Do(ctx, s.valkey.B().Exists().Key(key).Build()).AsInt64()
	if err != nil {
		return false, fmt.Errorf("executing exists command: %w", err)
	}

	return n > 0, nil
}

// scan calls fn for every key matching pattern.
func (s *store) scan(ctx context.Context, pattern string, fn func(key string) error) error {
	var cursor uint64
	for {
		entry, err := s.valkey.Do(ctx, s.valkey.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build()).AsScanEntry()
		if err != nil {
			return fmt.Errorf("executing scan command: %w", err)
		}

		for _, key := range entry.Elements {
			if err := fn(key); err != nil {
				return err
			}
		}

		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (s *store) key(objectType objectType, objectID string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, objectType, objectID)
}
