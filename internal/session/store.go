package session

import "context"

// Store is the session persistence collaborator: spec.md §1 names
// session persistence as an external concern; this interface is the
// seam a front controller depends on, with RedisStore shipped as the
// default, swappable implementation.
type Store interface {
	// Load returns the session for id, or (nil, nil) if none exists.
	Load(ctx context.Context, id Id) (*Session, error)
	// Save persists s, refreshing its expiry.
	Save(ctx context.Context, s *Session) error
	// New generates a brand new session with a fresh id. RedisStore
	// does not persist it until a Save that has at least one realm.
	New(ctx context.Context) (*Session, error)
}
