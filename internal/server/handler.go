package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/cm4all/bengproxy/internal/cssproc"
	"github.com/cm4all/bengproxy/internal/httpwire"
	"github.com/cm4all/bengproxy/internal/inline"
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/rewrite"
	"github.com/cm4all/bengproxy/internal/session"
	"github.com/cm4all/bengproxy/internal/sockbuf"
	"github.com/cm4all/bengproxy/internal/widget"
	"github.com/cm4all/bengproxy/internal/xmlproc"
)

const sessionCookieName = "session_id"

// connHandler implements httpwire.RequestHandler for one accepted
// connection. It only ever handles a single request per connection:
// the response is always sent with a close-the-connection policy, a
// deliberate simplification of the HTTP/1.x keep-alive rules the codec
// itself (component E) fully implements and is tested against.
type connHandler struct {
	srv        *Server
	sock       *sockbuf.Socket
	ctx        context.Context
	remoteAddr string
}

func (h *connHandler) OnRequest(method, target string, headers http.Header, keepAlive bool, body istream.Istream) {
	start := time.Now()
	if body != nil {
		body.Close()
	}

	sess, isNew := h.loadOrCreateSession(headers)
	realm := sess.Realm(h.srv.cfg.RealmName)

	root := widget.NewRoot("root")
	top := widget.NewChild(root)
	top.SetID("0")
	className := h.srv.cfg.TopLevelClassName(target)
	top.SetClassName(className)
	top.Attach()

	reqCtx := inline.RequestContext{}
	rwCtx := rewrite.Context{ExternalBaseURI: target, AbsoluteURI: target}

	driver := inline.New(h.srv.backend, h.srv.resolver, realm)
	embedder := &embedderAdapter{driver: driver}

	h.srv.resolver.Resolve(h.ctx, top, func(cls *widget.Class, err error) {
		if err != nil {
			h.writeError(http.StatusBadGateway, start, target, sess)
			return
		}
		if !top.InitApproval(false) {
			h.writeError(http.StatusForbidden, start, target, sess)
			return
		}
		if err := top.CheckApproval(); err != nil {
			h.writeError(http.StatusForbidden, start, target, sess)
			return
		}

		realm.SyncWidgetSession(top)

		cancel := h.srv.backend.SendRequest(h.ctx, top, &topResponseHandler{
			h: h, w: top, realm: realm, reqCtx: reqCtx, rwCtx: rwCtx, embedder: embedder,
			start: start, target: target, sess: sess, isNewSession: isNew,
		})
		_ = cancel
	})
}

func (h *connHandler) OnError(err error) {
	h.srv.log.Debug().Err(err).Str("remote", h.remoteAddr).Msg("request parse failed")
}

// topResponseHandler receives the top-level widget's backend response
// and drives it through the template processor before writing it back
// to the client.
type topResponseHandler struct {
	h            *connHandler
	w            *widget.Widget
	realm        *session.RealmSession
	reqCtx       inline.RequestContext
	rwCtx        rewrite.Context
	embedder     *embedderAdapter
	start        time.Time
	target       string
	sess         *session.Session
	isNewSession bool
}

func (t *topResponseHandler) OnResponse(status int, headers http.Header, body istream.Istream) {
	xmlReqCtx := xmlproc.EmbedRequestContext{UntrustedHost: t.reqCtx.UntrustedHost, SiteName: t.reqCtx.SiteName}

	processed := body
	if isHTMLLike(headers.Get("Content-Type")) {
		styleHandler := cssproc.NewStyleHandler(xmlOptionsFor(), t.rwCtx)
		processed = xmlproc.NewProcessor(body, t.w, xmlOptionsFor(), t.rwCtx, xmlReqCtx, t.embedder,
			xmlproc.WithStyleHandler(styleHandler))
	}

	t.realm.CommitWidgetSession(t.w)

	respHeaders := headers.Clone()
	respHeaders.Set("Connection", "close")
	if t.isNewSession {
		respHeaders.Add("Set-Cookie", sessionCookieName+"="+t.sess.ID.Format()+"; Path=/; HttpOnly")
	}

	resp := httpwire.BuildResponse(status, "", respHeaders, processed, -1)
	t.writeAndLog(resp, status)
}

func (t *topResponseHandler) OnError(err error) {
	t.h.writeError(http.StatusBadGateway, t.start, t.target, t.sess)
}

func (t *topResponseHandler) writeAndLog(resp istream.Istream, status int) {
	if err := pumpToWriter(t.h.ctx, resp, t.h.sock); err != nil {
		t.h.srv.log.Debug().Err(err).Msg("response write failed")
	}
	t.h.sock.Close()
	t.h.saveSession(t.sess)
	t.h.logAccess(t.start, t.target, status, t.sess)
}

func (h *connHandler) writeError(status int, start time.Time, target string, sess *session.Session) {
	body := []byte(http.StatusText(status))
	headers := make(http.Header)
	headers.Set("Content-Type", "text/plain; charset=utf-8")
	headers.Set("Connection", "close")
	resp := httpwire.BuildResponse(status, "", headers, istream.NewByteStream(body), int64(len(body)))
	if err := pumpToWriter(h.ctx, resp, h.sock); err != nil {
		h.srv.log.Debug().Err(err).Msg("error response write failed")
	}
	h.sock.Close()
	h.saveSession(sess)
	h.logAccess(start, target, status, sess)
}

// saveSession persists the session after the response has been
// dispatched, picking up anything SyncWidgetSession/CommitWidgetSession
// recorded on it during the request.
func (h *connHandler) saveSession(sess *session.Session) {
	if sess == nil {
		return
	}
	if err := h.srv.sessions.Save(context.Background(), sess); err != nil {
		h.srv.log.Debug().Err(err).Msg("session save failed")
	}
}

func (h *connHandler) logAccess(start time.Time, target string, status int, sess *session.Session) {
	if h.srv.accesslog == nil {
		return
	}
	sessionID := ""
	if sess != nil {
		sessionID = sess.ID.Format()
	}
	_ = h.srv.accesslog.Write(context.Background(), accessLogEntry(h.remoteAddr, target, status, time.Since(start), sessionID))
}

func (h *connHandler) loadOrCreateSession(headers http.Header) (*session.Session, bool) {
	if cookie := headers.Get("Cookie"); cookie != "" {
		if raw, ok := extractCookie(cookie, sessionCookieName); ok {
			if id, err := session.ParseId(raw); err == nil {
				if sess, err := h.srv.sessions.Load(h.ctx, id); err == nil && sess != nil {
					return sess, false
				}
			}
		}
	}
	sess, err := h.srv.sessions.New(h.ctx)
	if err != nil {
		sess = session.NewSession(mustNewId())
	}
	return sess, true
}

func extractCookie(header, name string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] == name {
			return kv[1], true
		}
	}
	return "", false
}

func mustNewId() session.Id {
	id, err := session.NewId()
	if err != nil {
		return session.Id{}
	}
	return id
}

func isHTMLLike(contentType string) bool {
	if contentType == "" {
		return true
	}
	return strings.Contains(contentType, "text/html") || strings.Contains(contentType, "application/xhtml+xml")
}
