package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultTTL is the idle expiry applied to a session's Redis hash
// every time it is saved.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "bengproxy:session:"

// RedisStore is the reference Store implementation: one Redis hash
// per session, keyed "bengproxy:session:<id>", with one hash field per
// realm holding that realm's widget session tree as JSON.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	log    zerolog.Logger
}

// RedisOption configures a RedisStore at construction.
type RedisOption func(*RedisStore)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = ttl }
}

// WithLogger attaches a structured logger; defaults to zerolog's
// global logger.
func WithLogger(l zerolog.Logger) RedisOption {
	return func(s *RedisStore) { s.log = l }
}

// NewRedisStore wraps an existing go-redis client.
func NewRedisStore(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, ttl: DefaultTTL, log: log.Logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

func key(id Id) string { return keyPrefix + id.Format() }

// Load fetches the session for id, or returns (nil, nil) if the Redis
// hash does not exist (expired or never saved).
func (s *RedisStore) Load(ctx context.Context, id Id) (*Session, error) {
	fields, err := s.client.HGetAll(ctx, key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("session: redis HGETALL: %w", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	sess := NewSession(id)
	sess.realms = make(map[string]*RealmSession, len(fields))
	for realm, data := range fields {
		rs, err := unmarshalRealm(realm, []byte(data))
		if err != nil {
			s.log.Warn().Err(err).Str("realm", realm).Str("session", id.Format()).
				Msg("session: dropping corrupt realm entry")
			continue
		}
		sess.realms[realm] = rs
	}
	return sess, nil
}

func (s *Session) realmsSnapshot() map[string]*RealmSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*RealmSession, len(s.realms))
	for k, v := range s.realms {
		out[k] = v
	}
	return out
}

// Save persists every realm currently held by sess into its Redis hash
// and refreshes the hash's expiry.
func (s *RedisStore) Save(ctx context.Context, sess *Session) error {
	realms := sess.realmsSnapshot()
	if len(realms) == 0 {
		return nil
	}

	fields := make(map[string]any, len(realms))
	for name, rs := range realms {
		data, err := marshalRealm(rs)
		if err != nil {
			return fmt.Errorf("session: marshalling realm %q: %w", name, err)
		}
		fields[name] = data
	}

	k := key(sess.ID)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, k, fields)
	pipe.Expire(ctx, k, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("session: redis save: %w", err)
	}
	return nil
}

// New generates a fresh session id and returns an empty Session for
// it. The session has no realms yet, so the first Save is a no-op
// (see Save); it becomes durable once a realm is touched and saved.
func (s *RedisStore) New(ctx context.Context) (*Session, error) {
	id, err := NewId()
	if err != nil {
		return nil, err
	}
	return NewSession(id), nil
}
