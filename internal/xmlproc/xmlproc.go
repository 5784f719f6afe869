// Package xmlproc implements component K: the XML/HTML template
// processor. It drives an istream.Replace off a parser.Parser, turning
// the host document's <c:widget> elements, URI-bearing attributes and
// class/id underscore markers into substitutions against the original
// byte stream (spec §4.8, §4.13).
package xmlproc

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	htmlparser "github.com/cm4all/bengproxy/internal/markup/html"
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/rewrite"
	"github.com/cm4all/bengproxy/internal/widget"
)

// Options is the per-view processing bitmask selecting which rewrite
// rules a document's markup is subjected to.
type Options uint

const (
	// OptRewriteURL rewrites href/src/action-shaped attributes through
	// the widget URI rewriter.
	OptRewriteURL Options = 1 << iota
	// OptFocusWidget makes the default rewrite target the container
	// widget itself in FOCUS mode, rather than the template in PARTIAL
	// mode (used when rendering a widget's own focused response).
	OptFocusWidget
	// OptSelfContainer restricts embeddable children to the container's
	// own widget class (Approval.cxx's SELF_CONTAINER policy).
	OptSelfContainer
	// OptPrefixCSSClass rewrites "___"/"__" markers in class attributes.
	OptPrefixCSSClass
	// OptPrefixXMLID rewrites "___"/"__" markers in id/for attributes.
	OptPrefixXMLID
	// OptStyle hands <style> element content and style="" attributes to
	// the CSS processor / inline style rewriter.
	OptStyle
	// OptContainer allows <c:widget> elements to be expanded at all;
	// without it they are left as inert markup (a non-container view).
	OptContainer
)

func (o Options) has(bit Options) bool { return o&bit != 0 }

func (o Options) hasRewriteURL() bool    { return o.has(OptRewriteURL) }
func (o Options) hasPrefixClass() bool   { return o.has(OptPrefixCSSClass) }
func (o Options) hasPrefixID() bool      { return o.has(OptPrefixXMLID) }
func (o Options) hasPrefixAny() bool     { return o.hasPrefixClass() || o.hasPrefixID() }
func (o Options) hasStyle() bool         { return o.has(OptStyle) }
func (o Options) hasContainer() bool     { return o.has(OptContainer) }
func (o Options) hasSelfContainer() bool { return o.has(OptSelfContainer) }

// tagKind is the single-slot "what kind of tag/PI is currently open"
// state the parser dispatches attribute and tag-finish events against,
// mirroring WidgetContainerParser::Tag ∪ XmlProcessor's own extra tags.
// There is no stack: a streaming tokenizer only ever has one tag open
// for attribute purposes at a time.
type tagKind int

const (
	tagNone tagKind = iota
	tagIgnore
	tagOther
	tagWidget
	tagWidgetParam
	tagWidgetHeader
	tagWidgetPathInfo
	tagWidgetView
	tagScript
	tagRewriteURI
	tagStyle
	tagStyleProcess
	tagA
	tagForm
	tagImg
	tagParam
	tagMeta
	tagMetaRefresh
	tagMetaURIContent
)

// isLink reports whether tag is one of the URI/view-bearing tags that
// LinkAttributeFinished's c:base/c:mode/c:view/xmlns:c handling applies
// to (spec §4.8).
func isLink(t tagKind) bool {
	switch t {
	case tagA, tagForm, tagImg, tagScript, tagMeta, tagMetaRefresh, tagMetaURIContent, tagParam, tagRewriteURI:
		return true
	}
	return false
}

// isHTML reports whether t is a plain HTML element eligible for the
// class/id prefixing rules (i.e. not the synthetic REWRITE_URI PI tag).
func isHTML(t tagKind) bool {
	return t == tagOther || (isLink(t) && t != tagRewriteURI)
}

// uriBase selects which widget a postponed URI rewrite targets.
type uriBase int

const (
	uriTemplate uriBase = iota
	uriWidget
	uriChild
	uriParent
)

func parseURIBase(s string) uriBase {
	switch s {
	case "widget":
		return uriWidget
	case "child":
		return uriChild
	case "parent":
		return uriParent
	default:
		return uriTemplate
	}
}

// uriRewrite is the (base, mode, view) triple applied to the next
// eligible attribute, either the compiled-in default or one overridden
// by a preceding <?cm4all-rewrite-uri?> PI or c:base/c:mode/c:view
// attributes on the tag itself.
type uriRewrite struct {
	base uriBase
	mode rewrite.Mode
	view string
}

// Embedder issues the backend request for a resolved <c:widget> element
// and returns an istream that delivers its (possibly reformatted) body.
// *inline.Driver satisfies this.
type Embedder interface {
	Embed(ctx context.Context, reqCtx EmbedRequestContext, plainText bool, w *widget.Widget) istream.Istream
}

// EmbedRequestContext carries the ambient request state an Embedder
// needs, mirroring inline.RequestContext so xmlproc need not import the
// inline package just for this struct.
type EmbedRequestContext struct {
	UntrustedHost string
	SiteName      string
}

// StyleHandler hands the buffered content of a <style> element to the
// CSS processor (component L) and returns the istream that should
// replace it. A nil StyleHandler leaves <style> content untouched.
type StyleHandler func(container *widget.Widget, cdata []byte) istream.Istream

// Option configures a Processor at construction.
type Option func(*processor)

// WithLogger attaches a structured logger; defaults to zerolog's global
// logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *processor) { p.log = l }
}

// WithStyleHandler wires component L in for <style> elements and style=""
// attributes.
func WithStyleHandler(h StyleHandler) Option {
	return func(p *processor) { p.styleHandler = h }
}

// processor holds all per-document parsing state. Its public identity
// is the *istream.Replace it drives (NewProcessor returns a procIstream
// delegating to it, not *processor), much as XmlProcessor's public identity in the
// original is the ReplaceIstream base it extends.
type processor struct {
	replace *istream.Replace
	parser  *htmlparser.Parser
	source  istream.Istream

	container    *widget.Widget
	rwCtx        rewrite.Context
	opts         Options
	embedder     Embedder
	reqCtx       EmbedRequestContext
	styleHandler StyleHandler
	log          zerolog.Logger

	tag              tagKind
	defaultURIRewrite uriRewrite
	uriRewriteCur    uriRewrite
	postponed        postponedRewrite

	// curWidget/curWidgetStart track the <c:widget> element currently
	// being parsed, mirroring WidgetContainerParser::CurrentWidget.
	curWidget      *widget.Widget
	curWidgetStart int64
	curParamName   string
	curParamValue  string
	curViewName    string
	curPathInfo    string

	// style CDATA buffering: the whole <style>...</style> body is
	// accumulated here and substituted in one shot when the next tag
	// starts (mirroring StopCdataIstream's trigger point), since our
	// simpler Replace has no live-growing substitution like the
	// original's ReplaceIstream::Extend.
	styleBuf   []byte
	styleStart int64
	styleEnd   int64

	// driving state: see onNeedMore/onSourceData.
	sourceDone bool
	pullDepth  int
	progressed bool
	lastCtx    context.Context
}

// NewProcessor wraps source (the widget's template body) in the XML/HTML
// processor, returning the driven istream. container is the widget whose
// template is being rendered; embedder (may be nil) issues backend
// requests for <c:widget> children.
func NewProcessor(source istream.Istream, container *widget.Widget, opts Options, rwCtx rewrite.Context, reqCtx EmbedRequestContext, embedder Embedder, os ...Option) istream.Istream {
	p := &processor{
		source:   source,
		container: container,
		opts:     opts,
		rwCtx:    rwCtx,
		reqCtx:   reqCtx,
		embedder: embedder,
		log:      log.Logger,
		lastCtx:  context.Background(),
	}
	for _, o := range os {
		o(p)
	}

	if opts.hasRewriteURL() {
		p.defaultURIRewrite = uriRewrite{base: uriTemplate, mode: rewrite.ModePartial}
	}
	if opts.has(OptFocusWidget) {
		p.defaultURIRewrite = uriRewrite{base: uriWidget, mode: rewrite.ModeFocus}
	}

	p.replace = istream.NewReplace()
	p.replace.OnNeedMore = p.onNeedMore
	p.parser = htmlparser.NewParser(p)
	source.SetHandler(&sourceHandler{p: p}, istream.NoDirect)

	return procIstream{p: p}
}

// procIstream is the public Istream identity NewProcessor returns. It
// exists only to capture each Read's context.Context onto p.lastCtx
// before delegating to p.replace, so that widget embedding triggered
// synchronously from within that Read (spec §4.13) inherits the
// caller's deadline/cancellation rather than a detached background
// context.
type procIstream struct{ p *processor }

func (s procIstream) Available(partial bool) int64 { return s.p.replace.Available(partial) }
func (s procIstream) Skip(n int64) int64            { return s.p.replace.Skip(n) }
func (s procIstream) Close()                        { s.p.replace.Close() }
func (s procIstream) AsFD() (int, bool)              { return s.p.replace.AsFD() }

func (s procIstream) SetHandler(h istream.Handler, direct istream.DirectMask) {
	s.p.replace.SetHandler(h, direct)
}

func (s procIstream) Read(ctx context.Context) {
	s.p.lastCtx = ctx
	s.p.replace.Read(ctx)
}

// sourceHandler forwards the wrapped template body's events back to the
// processor driving it.
type sourceHandler struct{ p *processor }

func (h *sourceHandler) OnData(data []byte) int {
	p := h.p
	p.replace.Append(data)
	p.parser.Feed(data)
	p.progressed = true
	if p.pullDepth == 0 {
		p.replace.Read(p.lastCtx)
	}
	return len(data)
}

func (h *sourceHandler) OnDirect(int, istream.FDType, int) (int, error) {
	return 0, istream.DirectErrno(0)
}

func (h *sourceHandler) OnEOF() {
	p := h.p
	p.sourceDone = true
	p.stopCdataIfActive()
	p.replace.SourceEOF()
	p.progressed = true
	if p.pullDepth == 0 {
		p.replace.Read(p.lastCtx)
	}
}

func (h *sourceHandler) OnError(err error) {
	p := h.p
	p.sourceDone = true
	p.stopCdataIfActive()
	p.replace.SourceError(err)
	p.progressed = true
	if p.pullDepth == 0 {
		p.replace.Read(p.lastCtx)
	}
}

// onNeedMore is wired as replace.OnNeedMore: it pulls one step out of
// the real source and reports whether that step delivered anything
// synchronously (so Replace's loop can retry immediately) or not (so
// the processor must self-drive a later Read once the source, which is
// asynchronous, eventually calls back into sourceHandler).
func (p *processor) onNeedMore(ctx context.Context) bool {
	if p.sourceDone {
		return false
	}
	p.lastCtx = ctx
	p.progressed = false
	p.pullDepth++
	p.source.Read(ctx)
	p.pullDepth--
	return p.progressed
}

// replaceRange registers a substitution, mapping a nil replacement (the
// original's Replace(start,end,nullptr) deletion idiom) onto an
// immediately-EOF byte stream, and silently dropping (closing repl) a
// substitution that violates Replace's ascending-start invariant — a
// parser bug we'd rather not crash the whole render over.
func (p *processor) replaceRange(start, end int64, repl istream.Istream) {
	if repl == nil {
		repl = istream.NewByteStream(nil)
	}
	if err := p.replace.Add(start, end, repl); err != nil {
		p.log.Error().Err(err).Msg("xmlproc: dropped out-of-order substitution")
		repl.Close()
	}
}

// deleteRange is replaceRange with a nil (deleting) replacement.
func (p *processor) deleteRange(start, end int64) {
	p.replaceRange(start, end, nil)
}

// --- htmlparser.Handler ---

func (p *processor) OnTagStart(t htmlparser.Tag) bool {
	p.stopCdataIfActive()

	// A SCRIPT-mode tokenizer naively treats any "</name>" as a close
	// attempt; a script body containing a literal "</foo>"-like sequence
	// must not be mistaken for the real closing </script>.
	if p.tag == tagScript && !equalFoldASCII(t.Name, "script") {
		return false
	}

	p.tag = tagIgnore

	if t.Type == htmlparser.TagPI {
		return p.onProcessingInstruction(t.Name)
	}

	if p.curWidget != nil {
		return p.onStartElementInWidget(t)
	}

	if p.onTagStart2(t) {
		return true
	}

	name := t.Name
	if equalFoldASCII(name, "c:widget") {
		if t.Type == htmlparser.TagClose {
			return false
		}
		if !p.opts.hasContainer() || p.embedder == nil {
			return false
		}
		p.tag = tagWidget
		p.curWidget = widget.NewChild(p.container)
		return true
	}
	return false
}

// onProcessingInstruction handles <?cm4all-rewrite-uri?>, the only PI
// this processor recognises.
func (p *processor) onProcessingInstruction(name string) bool {
	if p.opts.hasRewriteURL() && name == "cm4all-rewrite-uri" {
		p.initURIRewrite(tagRewriteURI)
		return true
	}
	return false
}

// onTagStart2 dispatches the recognised-tags table (spec §4.8): the
// tags whose URI-bearing attribute gets postponed for rewriting once
// the tag's full attribute set (including any c:base/c:mode/c:view
// overrides) is known.
func (p *processor) onTagStart2(t htmlparser.Tag) bool {
	name := t.Name

	if equalFoldASCII(name, "script") {
		p.initURIRewrite(tagScript)
		return true
	}
	if equalFoldASCII(name, "c:widget") {
		return false
	}
	if p.opts.hasStyle() && equalFoldASCII(name, "style") {
		p.tag = tagStyle
		return true
	}

	if p.opts.hasRewriteURL() {
		switch {
		case equalFoldASCII(name, "a"), equalFoldASCII(name, "link"):
			p.initURIRewrite(tagA)
			return true
		case equalFoldASCII(name, "form"):
			p.initURIRewrite(tagForm)
			return true
		case equalFoldASCII(name, "img"), equalFoldASCII(name, "iframe"),
			equalFoldASCII(name, "embed"), equalFoldASCII(name, "video"), equalFoldASCII(name, "audio"):
			p.initURIRewrite(tagImg)
			return true
		case equalFoldASCII(name, "param"):
			p.initURIRewrite(tagParam)
			return true
		case equalFoldASCII(name, "meta"):
			p.initURIRewrite(tagMeta)
			return true
		}
		if p.opts.hasPrefixAny() {
			p.tag = tagOther
			return true
		}
		p.tag = tagIgnore
		return false
	}

	if p.opts.hasPrefixAny() {
		p.tag = tagOther
		return true
	}
	return false
}

func (p *processor) OnAttributeFinished(attr htmlparser.Attribute) {
	if isLink(p.tag) && p.linkAttributeFinished(attr) {
		return
	}

	if p.tag == tagMeta && equalFoldASCII(attr.Name, "http-equiv") && equalFoldASCII(attr.Value, "refresh") {
		p.tag = tagMetaRefresh
		return
	}
	if p.tag == tagMeta && isMetaWithURIContent(attr.Name, attr.Value) {
		p.tag = tagMetaURIContent
		return
	}

	if p.opts.hasPrefixClass() && !p.postponed.pending && isHTML(p.tag) && attr.Name == "class" {
		p.handleClassAttribute(attr)
		return
	}
	if p.opts.hasPrefixID() && !p.postponed.pending && isHTML(p.tag) && (attr.Name == "id" || attr.Name == "for") {
		p.handleIDAttribute(attr)
		return
	}
	if p.opts.hasStyle() && p.opts.hasRewriteURL() && !p.postponed.pending && isHTML(p.tag) && attr.Name == "style" {
		p.handleStyleAttribute(attr)
		return
	}

	switch p.tag {
	case tagNone, tagIgnore, tagOther:
		// no-op
	case tagWidget:
		p.widgetAttributeFinished(attr)
	case tagWidgetParam, tagWidgetHeader:
		switch attr.Name {
		case "name":
			p.curParamName = attr.Value
		case "value":
			p.curParamValue = attr.Value
		}
	case tagWidgetPathInfo:
		if attr.Name == "value" {
			p.curPathInfo = attr.Value
		}
	case tagWidgetView:
		if attr.Name == "name" {
			p.curViewName = attr.Value
		}
	case tagImg:
		if attr.Name == "src" {
			p.postponeURIRewrite(attr.ValueStart, attr.ValueEnd, attr.Value)
		}
	case tagA:
		if attr.Name == "href" {
			p.postponeURIRewrite(attr.ValueStart, attr.ValueEnd, attr.Value)
		} else if attr.Name == "name" && p.opts.hasPrefixID() {
			p.handleIDAttribute(attr)
		}
	case tagForm:
		if attr.Name == "action" {
			p.postponeURIRewrite(attr.ValueStart, attr.ValueEnd, attr.Value)
		}
	case tagScript:
		if attr.Name == "src" && p.opts.hasRewriteURL() {
			p.postponeURIRewrite(attr.ValueStart, attr.ValueEnd, attr.Value)
		}
	case tagParam:
		if attr.Name == "value" {
			p.postponeURIRewrite(attr.ValueStart, attr.ValueEnd, attr.Value)
		}
	case tagMetaRefresh:
		if attr.Name == "content" {
			p.postponeRefreshRewrite(attr)
		}
	case tagMetaURIContent:
		if attr.Name == "content" {
			p.postponeURIRewrite(attr.ValueStart, attr.ValueEnd, attr.Value)
		}
	case tagRewriteURI, tagStyle, tagStyleProcess, tagMeta:
		// no-op
	}
}

func (p *processor) OnTagFinished(t htmlparser.Tag) bool {
	switch p.tag {
	case tagWidget:
		return p.widgetTagFinished(t)
	case tagWidgetParam:
		p.widgetParamFinished()
		p.tag = tagWidget
		return true
	case tagWidgetHeader:
		p.widgetHeaderFinished(t.Type)
		p.tag = tagWidget
		return true
	case tagWidgetPathInfo:
		if p.curWidget != nil && p.curPathInfo != "" {
			p.curWidget.FromTemplate.PathInfo = p.curPathInfo
		}
		p.curPathInfo = ""
		p.tag = tagWidget
		return true
	case tagWidgetView:
		if p.curWidget != nil && p.curViewName != "" {
			p.curWidget.FromTemplate.ViewName = p.curViewName
		}
		p.curViewName = ""
		p.tag = tagWidget
		return true
	}

	if p.postponed.pending {
		p.commitURIRewrite()
	}

	switch p.tag {
	case tagScript:
		if t.Type == htmlparser.TagOpen {
			p.parser.Script()
		} else {
			p.tag = tagNone
		}
	case tagRewriteURI:
		p.defaultURIRewrite = p.uriRewriteCur
		p.deleteRange(t.Start, t.End)
	case tagStyle:
		if t.Type == htmlparser.TagOpen && p.opts.hasStyle() {
			p.tag = tagStyleProcess
			p.styleStart = t.End
			p.styleEnd = t.End
			p.styleBuf = p.styleBuf[:0]
		} else {
			p.tag = tagNone
		}
	}
	return true
}

func (p *processor) OnCdata(text []byte, escaped bool, start int64) int {
	if p.tag == tagStyleProcess {
		p.styleBuf = append(p.styleBuf, text...)
		p.styleEnd = start + int64(len(text))
	}
	return len(text)
}

// stopCdataIfActive flushes an in-progress <style> body into a single
// substitution once the next tag starts, mirroring StopCdataIstream's
// unconditional call at the top of every OnXmlTagStart.
func (p *processor) stopCdataIfActive() {
	if p.tag != tagStyleProcess {
		return
	}
	raw := p.styleBuf
	p.styleBuf = nil

	var repl istream.Istream
	if p.styleHandler != nil {
		repl = p.styleHandler(p.container, raw)
	} else {
		repl = istream.NewByteStream(raw)
	}
	p.replaceRange(p.styleStart, p.styleEnd, repl)
	p.tag = tagStyle
}

func equalFoldASCII(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}
