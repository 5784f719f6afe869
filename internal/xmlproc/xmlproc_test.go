package xmlproc

import (
	"context"
	"strings"
	"testing"

	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/istream/istreamtest"
	"github.com/cm4all/bengproxy/internal/rewrite"
	"github.com/cm4all/bengproxy/internal/widget"
)

func newAttachedWidget(t *testing.T, id, className string) *widget.Widget {
	t.Helper()
	root := widget.NewRoot("root")
	w := widget.NewChild(root)
	w.SetID(id)
	if className != "" {
		w.SetClassName(className)
	}
	w.Attach()
	return w
}

func process(t *testing.T, body string, container *widget.Widget, opts Options, rwCtx rewrite.Context, embedder Embedder, os ...Option) string {
	t.Helper()
	src := istream.NewStringStream(body)
	out := NewProcessor(src, container, opts, rwCtx, EmbedRequestContext{}, embedder, os...)
	c := istreamtest.Drain(context.Background(), out, 64)
	if c.Err != nil {
		t.Fatalf("processor reported error: %v", c.Err)
	}
	if !c.EOF {
		t.Fatalf("processor never reached EOF, got %q so far", c.Data)
	}
	return string(c.Data)
}

func TestFocusWidgetDefaultRewritesHref(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")
	rwCtx := rewrite.Context{ExternalBaseURI: "/page"}

	out := process(t, `<a href="foo">text</a>`, container,
		OptRewriteURL|OptFocusWidget, rwCtx, nil)

	if !strings.Contains(out, ";focus=c1&path=foo") {
		t.Fatalf("href not rewritten to focus URI: %q", out)
	}
	if strings.Contains(out, "&frame=") {
		t.Fatalf("FOCUS mode must not add &frame=: %q", out)
	}
	if !strings.Contains(out, ">text</a>") {
		t.Fatalf("element content lost: %q", out)
	}
}

func TestCBaseWidgetRewritesHrefInPartialMode(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")
	rwCtx := rewrite.Context{ExternalBaseURI: "/page"}

	out := process(t, `<a c:base="widget" href="foo">text</a>`, container,
		OptRewriteURL, rwCtx, nil)

	if strings.Contains(out, "c:base") {
		t.Fatalf("c:base attribute should have been deleted: %q", out)
	}
	if !strings.Contains(out, ";focus=c1&path=foo") {
		t.Fatalf("href not rewritten: %q", out)
	}
	if !strings.Contains(out, "&frame=c1") {
		t.Fatalf("PARTIAL mode must add &frame=: %q", out)
	}
}

func TestDefaultTemplateBaseLeavesHrefAlone(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")
	rwCtx := rewrite.Context{ExternalBaseURI: "/page"}

	// No c:base and no OptFocusWidget: the default base is TEMPLATE,
	// which the original leaves untouched ("no need to rewrite the
	// attribute").
	out := process(t, `<a href="foo">text</a>`, container,
		OptRewriteURL, rwCtx, nil)

	if out != `<a href="foo">text</a>` {
		t.Fatalf("expected href unchanged, got %q", out)
	}
}

func TestClassAttributePrefixing(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")

	out := process(t, `<div class="___box __highlight plain">`, container,
		OptPrefixCSSClass, rewrite.Context{}, nil)

	want := `<div class="` + container.Prefix() + `box ` + container.QuotedClassName() + `highlight plain">`
	if out != want {
		t.Fatalf("class prefixing mismatch:\n got %q\nwant %q", out, want)
	}
}

func TestIDAttributePrefixing(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")

	out := process(t, `<div id="__box">`, container,
		OptPrefixXMLID, rewrite.Context{}, nil)

	want := `<div id="` + container.QuotedClassName() + `box">`
	if out != want {
		t.Fatalf("id prefixing mismatch:\n got %q\nwant %q", out, want)
	}
}

func TestMetaRefreshRewrite(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")
	rwCtx := rewrite.Context{ExternalBaseURI: "/page"}

	out := process(t, `<meta http-equiv="refresh" content="5;URL='foo'">`, container,
		OptRewriteURL|OptFocusWidget, rwCtx, nil)

	if !strings.Contains(out, `content="5;URL='`) {
		t.Fatalf("refresh prefix lost: %q", out)
	}
	if !strings.Contains(out, ";focus=c1&path=foo") {
		t.Fatalf("refresh URL not rewritten: %q", out)
	}
	if !strings.HasSuffix(out, `'">`) {
		t.Fatalf("refresh suffix lost: %q", out)
	}
}

// fakeEmbedder records the widget it was asked to embed and returns a
// canned response istream.
type fakeEmbedder struct {
	calls    int
	lastWidget *widget.Widget
	response string
}

func (e *fakeEmbedder) Embed(_ context.Context, _ EmbedRequestContext, _ bool, w *widget.Widget) istream.Istream {
	e.calls++
	e.lastWidget = w
	return istream.NewStringStream(e.response)
}

func TestWidgetElementExpansion(t *testing.T) {
	container := newAttachedWidget(t, "page", "shell")
	emb := &fakeEmbedder{response: "<em>embedded</em>"}

	out := process(t,
		`before<c:widget type="example" id="w1"><c:param name="a" value="b &amp; c"/></c:widget>after`,
		container, OptContainer, rewrite.Context{}, emb)

	if emb.calls != 1 {
		t.Fatalf("expected exactly one embed call, got %d", emb.calls)
	}
	if emb.lastWidget.ClassName != "example" {
		t.Fatalf("wrong widget class embedded: %q", emb.lastWidget.ClassName)
	}
	if emb.lastWidget.ID != "w1" {
		t.Fatalf("wrong widget id embedded: %q", emb.lastWidget.ID)
	}
	if want := "a=b+%26+c"; emb.lastWidget.FromTemplate.QueryString != want {
		t.Fatalf("param not flattened correctly: got %q want %q", emb.lastWidget.FromTemplate.QueryString, want)
	}
	if want := "before<em>embedded</em>after"; out != want {
		t.Fatalf("element not replaced by embed response:\n got %q\nwant %q", out, want)
	}
}

func TestWidgetElementWithoutContainerOptionIsInert(t *testing.T) {
	container := newAttachedWidget(t, "page", "shell")
	emb := &fakeEmbedder{response: "<em>embedded</em>"}

	// Without OptContainer, <c:widget> must be left as inert markup and
	// the embedder must never be invoked.
	in := `<c:widget type="example"></c:widget>`
	out := process(t, in, container, 0, rewrite.Context{}, emb)

	if emb.calls != 0 {
		t.Fatalf("embedder should not have been called, got %d calls", emb.calls)
	}
	if out != in {
		t.Fatalf("non-container view must leave <c:widget> untouched:\n got %q\nwant %q", out, in)
	}
}

func TestWidgetCancelledOnEmptyType(t *testing.T) {
	container := newAttachedWidget(t, "page", "shell")
	emb := &fakeEmbedder{response: "<em>embedded</em>"}

	in := `<c:widget type=""></c:widget>`
	out := process(t, in, container, OptContainer, rewrite.Context{}, emb)

	if emb.calls != 0 {
		t.Fatalf("embedder should not have been called for a cancelled widget")
	}
	if out != in {
		t.Fatalf("cancelled widget element should be left untouched:\n got %q\nwant %q", out, in)
	}
}

func TestScriptBodyIsNotTreatedAsMarkup(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")

	in := `<script>var a = "<notareal tag>"; </script>`
	out := process(t, in, container, OptRewriteURL|OptPrefixCSSClass, rewrite.Context{}, nil)

	if out != in {
		t.Fatalf("script body should pass through unchanged:\n got %q\nwant %q", out, in)
	}
}

func TestStyleElementUsesStyleHandler(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")

	var gotContainer *widget.Widget
	var gotCdata string
	handler := func(c *widget.Widget, cdata []byte) istream.Istream {
		gotContainer = c
		gotCdata = string(cdata)
		return istream.NewStringStream("/* processed */")
	}

	out := process(t, `<style>body{color:red}</style>`, container,
		OptStyle, rewrite.Context{}, nil, WithStyleHandler(handler))

	if gotContainer != container {
		t.Fatalf("style handler received wrong container widget")
	}
	if gotCdata != "body{color:red}" {
		t.Fatalf("style handler received wrong cdata: %q", gotCdata)
	}
	if out != `<style>/* processed */</style>` {
		t.Fatalf("style content not substituted: %q", out)
	}
}

func TestStyleAttributeURLRewrite(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")
	rwCtx := rewrite.Context{ExternalBaseURI: "/page"}

	// Plain (non-link) elements are only recognised as Tag::OTHER -
	// and thus eligible for the style="" rewrite - when at least one
	// of the class/id prefixing options is also active (matching
	// OnXmlTagStart2's fallthrough in the original).
	out := process(t, `<div style="background: url(foo.png) no-repeat">`, container,
		OptRewriteURL|OptStyle|OptFocusWidget|OptPrefixCSSClass, rwCtx, nil)

	if !strings.Contains(out, "url(") || !strings.Contains(out, ";focus=c1&path=foo.png") {
		t.Fatalf("style url() not rewritten: %q", out)
	}
}

func TestPlainTextPassesThroughUnchanged(t *testing.T) {
	container := newAttachedWidget(t, "c1", "example")

	in := `<p>Hello, world! No widgets or links here.</p>`
	out := process(t, in, container, OptRewriteURL|OptPrefixCSSClass|OptPrefixXMLID, rewrite.Context{}, nil)

	if out != in {
		t.Fatalf("plain markup should pass through unchanged:\n got %q\nwant %q", out, in)
	}
}
