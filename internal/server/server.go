// Package server implements the front controller: it wires the
// HTTP/1.x codec (component E), the template processor (component K,
// with the CSS processor L as its style handler), the widget tree and
// resolver (M/O), the inline-widget driver (P), and the session store
// (Q) into a running reverse proxy, plus the administrative mux routes
// spec.md §1 names as an external "listener socket plumbing" concern
// that a runnable binary still needs a concrete rendition of.
package server

import (
	"context"
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cm4all/bengproxy/internal/accesslog"
	"github.com/cm4all/bengproxy/internal/cache"
	"github.com/cm4all/bengproxy/internal/httpwire"
	"github.com/cm4all/bengproxy/internal/resolver"
	"github.com/cm4all/bengproxy/internal/session"
	"github.com/cm4all/bengproxy/internal/sockbuf"
	"github.com/cm4all/bengproxy/internal/xmlproc"
)

// Config carries the values internal/config.ServerConfig resolves
// into concrete collaborators before Server construction.
type Config struct {
	ListenAddr string

	// TopLevelClassName derives the widget class_name the front
	// controller resolves for a request's top-level widget. The actual
	// URI-to-class_name routing table is itself a translation-
	// collaborator concern (spec.md §1's "listener socket plumbing" and
	// registry are both named external); this hook lets an operator
	// supply that policy without the core depending on it.
	TopLevelClassName func(target string) string

	ConnTimeout time.Duration

	ClusterSize uint32
	ClusterNode uint32

	RealmName string
}

// DefaultTopLevelClassName resolves every request to a single
// "root" widget class, the simplest useful policy for a
// self-contained deployment with one top-level template.
func DefaultTopLevelClassName(string) string { return "root" }

// Server is the front controller: one instance owns the listener and
// the collaborators shared across every connection. Per-request state
// (the widget tree, the inline-widget driver, the realm session) is
// built fresh in connHandler.OnRequest.
type Server struct {
	cfg Config
	log zerolog.Logger

	collab    resolver.Collaborator
	resolver  *resolver.Resolver
	backend   *HTTPBackend
	sessions  session.Store
	accesslog accesslog.Sink
	cache     cache.Invalidator
}

// New builds a Server from its resolved collaborators.
func New(cfg Config, collab resolver.Collaborator, sessions session.Store, sink accesslog.Sink, inv cache.Invalidator) *Server {
	if cfg.TopLevelClassName == nil {
		cfg.TopLevelClassName = DefaultTopLevelClassName
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = 30 * time.Second
	}
	if cfg.RealmName == "" {
		cfg.RealmName = "default"
	}
	return &Server{
		cfg:       cfg,
		log:       log.Logger,
		collab:    collab,
		resolver:  resolver.New(collab),
		backend:   NewHTTPBackend(),
		sessions:  sessions,
		accesslog: sink,
		cache:     inv,
	}
}

// Listen opens the front controller's listener and serves connections
// until ctx is cancelled.
func (s *Server) Listen(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	s.log.Info().Str("addr", s.cfg.ListenAddr).Msg("front controller listening")
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	sock := sockbuf.New(conn, sockbuf.WithTimeouts(s.cfg.ConnTimeout, s.cfg.ConnTimeout), sockbuf.WithLogger(s.log))
	h := &connHandler{srv: s, sock: sock, ctx: ctx, remoteAddr: conn.RemoteAddr().String()}
	reqServer := httpwire.NewServer(h)
	sock.SetHandler(reqServer)
	sock.Connect()

	for {
		switch sock.State() {
		case sockbuf.StateEnded, sockbuf.StateDestroyed:
			return
		}
		sock.Read(ctx)
	}
}

// xmlOptionsFor returns the processing bitmask applied to every
// top-level document: URL rewriting, widget embedding, CSS class/id
// prefixing and <style> handling all run by default (spec §4.8's full
// rule set); there is no per-request opt-out surface in this core.
func xmlOptionsFor() xmlproc.Options {
	return xmlproc.OptRewriteURL | xmlproc.OptPrefixCSSClass | xmlproc.OptPrefixXMLID |
		xmlproc.OptStyle | xmlproc.OptContainer
}
