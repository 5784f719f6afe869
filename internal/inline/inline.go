// Package inline implements component P: the inline-widget driver. It
// ties the throttle queue, the widget resolver, widget approval/host
// checks, and a backend transport together to embed one resolved
// widget's response into a parent template stream (spec §4.11).
package inline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cm4all/bengproxy/internal/bperror"
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/resolver"
	"github.com/cm4all/bengproxy/internal/throttle"
	"github.com/cm4all/bengproxy/internal/widget"
)

const (
	headerTimeout = 5 * time.Second
	// BodyTimeout is the overall idle deadline covering the whole
	// lifetime of an embedded widget's response — from the moment a
	// consumer starts reading it (including time spent throttled,
	// resolving, and awaiting the backend's header) until the next byte
	// arrives.
	BodyTimeout = 10 * time.Second

	throttleLimit = 32
)

// Cancel detaches a caller from an asynchronous operation it started.
type Cancel func()

// ResponseHandler receives the outcome of a backend request issued on
// behalf of a widget.
type ResponseHandler interface {
	OnResponse(status int, headers http.Header, body istream.Istream)
	OnError(err error)
}

// Backend issues the HTTP-shaped request to a resolved widget's
// backend (an httpwire, ajp, or was client in production).
type Backend interface {
	SendRequest(ctx context.Context, w *widget.Widget, handler ResponseHandler) Cancel
}

// SessionLoader copies a widget's persisted path_info/query_string out
// of its session. It returns false if the widget has no session to
// load from, in which case the caller clears SessionSyncPending.
type SessionLoader interface {
	LoadWidgetSession(w *widget.Widget) bool
}

// RequestContext carries the per-request values the driver needs for
// widget approval/host checks, independent of the resolver or backend.
type RequestContext struct {
	UntrustedHost string
	SiteName      string
}

// Driver embeds widgets on behalf of a single server. Each parent
// widget gets its own LimitedConcurrencyQueue (limit 32), created
// lazily and shared by all of that parent's children.
type Driver struct {
	Backend  Backend
	Resolver *resolver.Resolver
	Session  SessionLoader

	mu         sync.Mutex
	throttlers map[*widget.Widget]*throttle.Queue
}

// New builds a Driver. Session may be nil if no session store is wired
// up (widgets then have SessionSyncPending cleared to false
// immediately, matching "no session ⇒ sync pending is dropped").
func New(backend Backend, res *resolver.Resolver, session SessionLoader) *Driver {
	return &Driver{
		Backend:    backend,
		Resolver:   res,
		Session:    session,
		throttlers: make(map[*widget.Widget]*throttle.Queue),
	}
}

func (d *Driver) throttlerFor(parent *widget.Widget) *throttle.Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.throttlers[parent]
	if !ok {
		q = throttle.New(throttleLimit)
		d.throttlers[parent] = q
	}
	return q
}

// Embed requests w's backend and returns an istream that delivers its
// (possibly reformatted) body once available. plainText selects the
// plain-text content-type policy over the default HTML one. Closing
// the returned istream before it resolves stops the header timer,
// cancels the widget, then cancels the backend request and the
// resolver lookup, and finally releases the throttle job (spec §4.11 "Cancellation at any point
// closes the widget and unlinks the job").
func (d *Driver) Embed(ctx context.Context, reqCtx RequestContext, plainText bool, w *widget.Widget) istream.Istream {
	delayed := istream.NewDelayed()
	iw := &inlineWidget{
		driver:    d,
		ctx:       ctx,
		reqCtx:    reqCtx,
		plainText: plainText,
		widget:    w,
		delayed:   delayed,
	}
	delayed.OnClose = iw.cancel

	result := istream.NewTimeout(delayed, BodyTimeout)
	iw.start()
	return result
}

type inlineWidget struct {
	driver    *Driver
	ctx       context.Context
	reqCtx    RequestContext
	plainText bool
	widget    *widget.Widget
	delayed   *istream.Delayed

	job *throttle.Job

	mu            sync.Mutex
	done          bool
	headerTimer   *time.Timer
	cancelBackend Cancel
	cancelResolve resolver.Cancel
}

// start pushes the widget onto its parent's throttle queue and, if its
// class isn't already known, kicks off an async registry lookup. The
// class-nil check must happen before Schedule: onThrottled only issues
// the request if the class has already arrived by the time the queue
// admits this job (spec's ordering note in Inline.cxx).
func (iw *inlineWidget) start() {
	needResolve := iw.widget.Class == nil

	queue := iw.driver.throttlerFor(iw.widget.Parent)
	iw.job = queue.NewJob(iw.onThrottled)
	iw.job.Schedule()

	if needResolve {
		iw.cancelResolve = iw.driver.Resolver.Resolve(iw.ctx, iw.widget, iw.onResolved)
	}
}

func (iw *inlineWidget) onThrottled() {
	if iw.isDone() {
		return
	}
	if iw.widget.Class != nil {
		iw.sendRequest()
	}
}

func (iw *inlineWidget) onResolved(cls *widget.Class, err error) {
	iw.mu.Lock()
	iw.cancelResolve = nil
	iw.mu.Unlock()

	if iw.isDone() {
		return
	}

	if iw.widget.Class != nil {
		if iw.job.IsRunning() {
			iw.sendRequest()
		}
		return
	}

	iw.widget.Cancel()
	iw.fail(bperror.New(bperror.Unspecified, "failed to look up widget class"))
}

func (iw *inlineWidget) sendRequest() {
	w := iw.widget

	if err := w.CheckApproval(); err != nil {
		w.Cancel()
		iw.fail(err)
		return
	}
	if err := w.CheckHost(iw.reqCtx.UntrustedHost); err != nil {
		w.Cancel()
		iw.fail(err)
		return
	}
	if !w.HasDefaultView() {
		w.Cancel()
		iw.fail(bperror.New(bperror.NoSuchView, fmt.Sprintf("no such view: %s", w.FromTemplate.ViewName)))
		return
	}

	if w.SessionSyncPending {
		if iw.driver.Session == nil || !iw.driver.Session.LoadWidgetSession(w) {
			w.SessionSyncPending = false
		}
	}

	iw.mu.Lock()
	iw.headerTimer = time.AfterFunc(headerTimeout, iw.onHeaderTimeout)
	iw.mu.Unlock()

	cancelBackend := iw.driver.Backend.SendRequest(iw.ctx, w, iw)

	iw.mu.Lock()
	if iw.done {
		iw.mu.Unlock()
		cancelBackend()
		return
	}
	iw.cancelBackend = cancelBackend
	iw.mu.Unlock()
}

func (iw *inlineWidget) onHeaderTimeout() {
	if !iw.markDone() {
		return
	}
	iw.widget.Cancel()

	iw.mu.Lock()
	cancelBackend := iw.cancelBackend
	iw.mu.Unlock()
	if cancelBackend != nil {
		cancelBackend()
	}

	iw.releaseJob()
	iw.delayed.Fail(bperror.New(bperror.Timeout, "header timeout"))
}

// OnResponse implements ResponseHandler.
func (iw *inlineWidget) OnResponse(status int, headers http.Header, body istream.Istream) {
	iw.stopHeaderTimer()

	if status < 200 || status >= 300 {
		if body != nil {
			body.Close()
		}
		iw.fail(bperror.New(bperror.Unspecified, fmt.Sprintf("response status %d", status)))
		return
	}

	if body == nil {
		iw.finish(istream.NewByteStream(nil))
		return
	}

	formatted, err := formatResponse(headers, body, iw.plainText)
	if err != nil {
		body.Close()
		iw.fail(err)
		return
	}
	iw.finish(formatted)
}

// OnError implements ResponseHandler.
func (iw *inlineWidget) OnError(err error) {
	iw.stopHeaderTimer()
	iw.fail(err)
}

func (iw *inlineWidget) stopHeaderTimer() {
	iw.mu.Lock()
	t := iw.headerTimer
	iw.mu.Unlock()
	if t != nil {
		t.Stop()
	}
}

func (iw *inlineWidget) finish(body istream.Istream) {
	if !iw.markDone() {
		body.Close()
		return
	}
	iw.releaseJob()
	iw.delayed.SetSource(body)
}

func (iw *inlineWidget) fail(err error) {
	if !iw.markDone() {
		return
	}
	iw.releaseJob()
	iw.delayed.Fail(err)
}

// cancel is wired as delayed.OnClose: it fires if the consumer closes
// the result istream before the widget ever resolved.
func (iw *inlineWidget) cancel() {
	if !iw.markDone() {
		return
	}

	iw.mu.Lock()
	timer := iw.headerTimer
	cancelBackend := iw.cancelBackend
	cancelResolve := iw.cancelResolve
	iw.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}
	iw.widget.Cancel()
	if cancelBackend != nil {
		cancelBackend()
	}
	if cancelResolve != nil {
		cancelResolve()
	}
	iw.releaseJob()
}

func (iw *inlineWidget) isDone() bool {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	return iw.done
}

// markDone transitions the driver to its terminal state exactly once;
// callers only proceed with their cleanup/delivery if they win the race.
func (iw *inlineWidget) markDone() bool {
	iw.mu.Lock()
	defer iw.mu.Unlock()
	if iw.done {
		return false
	}
	iw.done = true
	return true
}

func (iw *inlineWidget) releaseJob() {
	if iw.job != nil {
		iw.job.Cancel()
	}
}

// formatResponse enforces the embedding content-type policy (spec
// §4.11 step 7) and converts a non-HTML/XML text/* body into
// `<pre>…</pre>`, HTML-escaped.
func formatResponse(headers http.Header, body istream.Istream, plainText bool) (istream.Istream, error) {
	if ce := headers.Get("Content-Encoding"); ce != "" && !strings.EqualFold(ce, "identity") {
		return nil, bperror.New(bperror.UnsupportedEncoding, "widget sent non-identity response, cannot embed")
	}

	contentType := headers.Get("Content-Type")

	if plainText {
		if !strings.HasPrefix(contentType, "text/plain") {
			return nil, bperror.New(bperror.WrongType, "widget sent non-text/plain response")
		}
		return body, nil
	}

	if contentType == "" ||
		(!strings.HasPrefix(contentType, "text/") &&
			!strings.HasPrefix(contentType, "application/xml") &&
			!strings.HasPrefix(contentType, "application/xhtml+xml")) {
		return nil, bperror.New(bperror.WrongType, "widget sent non-text response")
	}

	if strings.HasPrefix(contentType, "text/") {
		sub := contentType[len("text/"):]
		if !strings.HasPrefix(sub, "html") && !strings.HasPrefix(sub, "xml") {
			return wrapAsPre(body), nil
		}
	}

	return body, nil
}
