// Package accesslog implements the Postgres-backed access-log sink
// collaborator (SPEC_FULL.md §11): an alternative to the original's
// out-of-scope external log shipper, for operators who want
// query-able per-request records instead of flat files.
package accesslog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Entry is one recorded request, written after the response has been
// fully sent.
type Entry struct {
	Time        time.Time
	RemoteAddr  string
	Method      string
	URI         string
	Status      int
	Duration    time.Duration
	WidgetClass string
	SessionID   string
}

// Sink receives completed request records. A front controller calls
// Write once per request on a best-effort basis; a slow or unreachable
// sink must never hold up the response it is logging.
type Sink interface {
	Write(ctx context.Context, e Entry) error
	Close() error
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS access_log (
	id           BIGSERIAL PRIMARY KEY,
	time         TIMESTAMPTZ NOT NULL,
	remote_addr  TEXT NOT NULL,
	method       TEXT NOT NULL,
	uri          TEXT NOT NULL,
	status       INTEGER NOT NULL,
	duration_ms  BIGINT NOT NULL,
	widget_class TEXT NOT NULL DEFAULT '',
	session_id   TEXT NOT NULL DEFAULT ''
)`

const insertSQL = `
INSERT INTO access_log
	(time, remote_addr, method, uri, status, duration_ms, widget_class, session_id)
VALUES
	($1, $2, $3, $4, $5, $6, $7, $8)`

// PostgresSink is the default Sink, grounded on the same
// interface-plus-Option collaborator shape as session.RedisStore.
type PostgresSink struct {
	db     *sql.DB
	log    zerolog.Logger
	insert *sql.Stmt
}

// Option configures a PostgresSink.
type Option func(*PostgresSink)

// WithLogger attaches a logger for write failures.
func WithLogger(l zerolog.Logger) Option {
	return func(s *PostgresSink) { s.log = l }
}

// NewPostgresSink opens dsn, ensures the access_log table exists, and
// prepares the insert statement used by every Write call.
func NewPostgresSink(ctx context.Context, dsn string, opts ...Option) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("accesslog: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("accesslog: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("accesslog: create table: %w", err)
	}
	stmt, err := db.PrepareContext(ctx, insertSQL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("accesslog: prepare insert: %w", err)
	}

	s := &PostgresSink{db: db, insert: stmt, log: zerolog.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Write inserts one access-log row.
func (s *PostgresSink) Write(ctx context.Context, e Entry) error {
	_, err := s.insert.ExecContext(ctx,
		e.Time, e.RemoteAddr, e.Method, e.URI, e.Status,
		e.Duration.Milliseconds(), e.WidgetClass, e.SessionID)
	if err != nil {
		s.log.Error().Err(err).Str("uri", e.URI).Msg("accesslog write failed")
	}
	return err
}

// Close releases the prepared statement and the underlying pool.
func (s *PostgresSink) Close() error {
	s.insert.Close()
	return s.db.Close()
}

// NopSink discards every entry; used when AccessLog.Enabled is false.
type NopSink struct{}

func (NopSink) Write(context.Context, Entry) error { return nil }
func (NopSink) Close() error                        { return nil }
