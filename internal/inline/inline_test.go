package inline

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cm4all/bengproxy/internal/bperror"
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/istream/istreamtest"
	"github.com/cm4all/bengproxy/internal/resolver"
	"github.com/cm4all/bengproxy/internal/widget"
)

// fakeBackend delivers a canned response (or error) either synchronously
// or, if release is set, once release is closed.
type fakeBackend struct {
	mu      sync.Mutex
	calls   int
	status  int
	headers http.Header
	body    istream.Istream
	sendErr error
	release chan struct{}
}

func (b *fakeBackend) SendRequest(ctx context.Context, w *widget.Widget, h ResponseHandler) Cancel {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()

	deliver := func() {
		if b.sendErr != nil {
			h.OnError(b.sendErr)
			return
		}
		h.OnResponse(b.status, b.headers, b.body)
	}

	if b.release != nil {
		go func() {
			select {
			case <-b.release:
				deliver()
			case <-ctx.Done():
			}
		}()
	} else {
		deliver()
	}

	return func() {}
}

func (b *fakeBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// blockingBackend records that it was asked to send a request and never
// replies on its own; the test drives completion/cancellation directly.
type blockingBackend struct {
	calls      int
	cancelFunc func()
}

func (b *blockingBackend) SendRequest(context.Context, *widget.Widget, ResponseHandler) Cancel {
	b.calls++
	return func() {
		if b.cancelFunc != nil {
			b.cancelFunc()
		}
	}
}

type signalingCollector struct {
	istreamtest.Collector
	done chan struct{}
}

func (c *signalingCollector) OnEOF() {
	c.Collector.OnEOF()
	close(c.done)
}

func (c *signalingCollector) OnError(err error) {
	c.Collector.OnError(err)
	close(c.done)
}

// drainAsync reads s to completion, tolerating completion happening on a
// background goroutine (widget resolution and backend delivery both run
// asynchronously relative to the caller).
func drainAsync(t *testing.T, s istream.Istream) *signalingCollector {
	t.Helper()
	c := &signalingCollector{done: make(chan struct{})}
	s.SetHandler(c, istream.NoDirect)
	s.Read(context.Background())
	select {
	case <-c.done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out draining istream")
	}
	return c
}

func newResolvedChild(parent *widget.Widget, id, className string) *widget.Widget {
	w := widget.NewChild(parent)
	w.SetID(id)
	w.SetClassName(className)
	w.Attach()
	w.Class = &widget.Class{}
	return w
}

func noopCollaborator() resolver.Collaborator {
	return resolver.CollaboratorFunc(func(context.Context, string) (*widget.Class, error) {
		return nil, nil
	})
}

func TestEmbedStreamsSuccessfulHTMLResponse(t *testing.T) {
	root := widget.NewRoot("")
	w := newResolvedChild(root, "1", "foo")

	backend := &fakeBackend{status: 200, headers: http.Header{"Content-Type": []string{"text/html"}}, body: istream.NewStringStream("<p>hi</p>")}
	d := New(backend, resolver.New(noopCollaborator()), nil)

	result := d.Embed(context.Background(), RequestContext{}, false, w)
	c := drainAsync(t, result)

	if c.Err != nil {
		t.Fatalf("unexpected error: %v", c.Err)
	}
	if string(c.Data) != "<p>hi</p>" {
		t.Fatalf("data = %q", c.Data)
	}
	if backend.callCount() != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.callCount())
	}
}

func TestEmbedResolvesClassBeforeRequesting(t *testing.T) {
	root := widget.NewRoot("")
	w := widget.NewChild(root)
	w.SetID("1")
	w.SetClassName("foo")
	w.Attach()

	cls := &widget.Class{}
	collab := resolver.CollaboratorFunc(func(context.Context, string) (*widget.Class, error) {
		return cls, nil
	})
	backend := &fakeBackend{status: 200, headers: http.Header{"Content-Type": []string{"text/html"}}, body: istream.NewStringStream("ok")}
	d := New(backend, resolver.New(collab), nil)

	result := d.Embed(context.Background(), RequestContext{}, false, w)
	c := drainAsync(t, result)

	if c.Err != nil || string(c.Data) != "ok" {
		t.Fatalf("data=%q err=%v", c.Data, c.Err)
	}
	if w.Class != cls {
		t.Fatalf("resolved class was not promoted onto the widget")
	}
}

func TestEmbedApprovalRefusedNeverCallsBackend(t *testing.T) {
	root := widget.NewRoot("")
	w := newResolvedChild(root, "1", "foo")
	w.Approval = widget.ApprovalDenied

	backend := &fakeBackend{status: 200, body: istream.NewStringStream("unused")}
	d := New(backend, resolver.New(noopCollaborator()), nil)

	result := d.Embed(context.Background(), RequestContext{}, false, w)
	c := drainAsync(t, result)

	var berr *bperror.Error
	if c.Err == nil {
		t.Fatalf("expected an error, got none")
	}
	if !asBperror(c.Err, &berr) || berr.Kind != bperror.Forbidden {
		t.Fatalf("err = %v, want a Forbidden bperror", c.Err)
	}
	if backend.callCount() != 0 {
		t.Fatalf("backend should not have been called")
	}
}

func asBperror(err error, target **bperror.Error) bool {
	e, ok := err.(*bperror.Error)
	if !ok {
		return false
	}
	*target = e
	return true
}

func TestEmbedWrapsNonHTMLTextInPre(t *testing.T) {
	root := widget.NewRoot("")
	w := newResolvedChild(root, "1", "foo")

	backend := &fakeBackend{status: 200, headers: http.Header{"Content-Type": []string{"text/csv"}}, body: istream.NewStringStream("a,<b>,c")}
	d := New(backend, resolver.New(noopCollaborator()), nil)

	result := d.Embed(context.Background(), RequestContext{}, false, w)
	c := drainAsync(t, result)

	want := `<pre class="beng_text_widget">a,&lt;b&gt;,c</pre>`
	if c.Err != nil || string(c.Data) != want {
		t.Fatalf("data=%q err=%v, want %q", c.Data, c.Err, want)
	}
}

func TestEmbedNonSuccessStatusFails(t *testing.T) {
	root := widget.NewRoot("")
	w := newResolvedChild(root, "1", "foo")

	backend := &fakeBackend{status: 404, headers: http.Header{"Content-Type": []string{"text/html"}}, body: istream.NewStringStream("not found")}
	d := New(backend, resolver.New(noopCollaborator()), nil)

	result := d.Embed(context.Background(), RequestContext{}, false, w)
	c := drainAsync(t, result)

	if c.Err == nil {
		t.Fatalf("expected an error for a 404 response")
	}
}

func TestEmbedNonIdentityEncodingRejected(t *testing.T) {
	root := widget.NewRoot("")
	w := newResolvedChild(root, "1", "foo")

	backend := &fakeBackend{status: 200, headers: http.Header{"Content-Type": []string{"text/html"}, "Content-Encoding": []string{"gzip"}}, body: istream.NewStringStream("x")}
	d := New(backend, resolver.New(noopCollaborator()), nil)

	result := d.Embed(context.Background(), RequestContext{}, false, w)
	c := drainAsync(t, result)

	var berr *bperror.Error
	if !asBperror(c.Err, &berr) || berr.Kind != bperror.UnsupportedEncoding {
		t.Fatalf("err = %v, want UnsupportedEncoding", c.Err)
	}
}

func TestThrottlerSharedPerParentNotAcrossParents(t *testing.T) {
	d := New(&fakeBackend{}, resolver.New(noopCollaborator()), nil)
	parentA := widget.NewRoot("")
	parentB := widget.NewRoot("")

	qA1 := d.throttlerFor(parentA)
	qA2 := d.throttlerFor(parentA)
	qB := d.throttlerFor(parentB)

	if qA1 != qA2 {
		t.Fatalf("expected the same throttle queue for the same parent")
	}
	if qA1 == qB {
		t.Fatalf("expected distinct throttle queues for distinct parents")
	}
}

func TestHeaderTimeoutCancelsBackendAndReleasesJob(t *testing.T) {
	root := widget.NewRoot("")
	w := newResolvedChild(root, "1", "foo")

	cancelCalled := false
	backend := &blockingBackend{cancelFunc: func() { cancelCalled = true }}
	d := New(backend, resolver.New(noopCollaborator()), nil)

	delayed := istream.NewDelayed()
	iw := &inlineWidget{driver: d, ctx: context.Background(), widget: w, delayed: delayed}
	delayed.OnClose = iw.cancel

	iw.start()
	if backend.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", backend.calls)
	}

	iw.onHeaderTimeout()

	if !cancelCalled {
		t.Fatalf("expected the backend's cancel to fire on header timeout")
	}
	if w.Class != nil {
		t.Fatalf("expected widget.Cancel() to have reset Class")
	}
	if iw.job.IsRunning() || iw.job.IsWaiting() {
		t.Fatalf("expected the throttle job to be released")
	}

	c := &istreamtest.Collector{}
	delayed.SetHandler(c, istream.NoDirect)
	delayed.Read(context.Background())

	var berr *bperror.Error
	if !asBperror(c.Err, &berr) || berr.Kind != bperror.Timeout {
		t.Fatalf("err = %v, want Timeout", c.Err)
	}
}

func TestCancelBeforeResolveDetachesResolverAndSkipsBackend(t *testing.T) {
	root := widget.NewRoot("")
	w := widget.NewChild(root)
	w.SetID("1")
	w.SetClassName("foo")
	w.Attach()

	release := make(chan struct{})
	var lookups int32
	collab := resolver.CollaboratorFunc(func(ctx context.Context, className string) (*widget.Class, error) {
		atomic.AddInt32(&lookups, 1)
		select {
		case <-release:
			return &widget.Class{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	backend := &fakeBackend{status: 200, body: istream.NewStringStream("unused")}
	d := New(backend, resolver.New(collab), nil)

	result := d.Embed(context.Background(), RequestContext{}, false, w)
	result.Close()
	close(release)

	time.Sleep(20 * time.Millisecond)
	if backend.callCount() != 0 {
		t.Fatalf("backend should never be called once embedding was cancelled before resolution finished")
	}
}
