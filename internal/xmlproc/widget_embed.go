package xmlproc

import (
	"context"
	stdhtml "html"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cm4all/bengproxy/internal/bperror"
	"github.com/cm4all/bengproxy/internal/istream"
	htmlparser "github.com/cm4all/bengproxy/internal/markup/html"
	"github.com/cm4all/bengproxy/internal/widget"
)

// widgetAttributeFinished applies a <c:widget ...> attribute (type, id,
// display, session) to the widget currently being opened. An invalid
// value cancels the whole widget element, matching
// parser_widget_attr_finished's catch-all rollback.
func (p *processor) widgetAttributeFinished(attr htmlparser.Attribute) {
	w := p.curWidget
	switch attr.Name {
	case "type":
		if attr.Value == "" {
			p.cancelWidget()
			return
		}
		w.SetClassName(attr.Value)
	case "id":
		if attr.Value != "" {
			w.SetID(attr.Value)
		}
	case "display":
		switch attr.Value {
		case "inline":
			w.Display = widget.DisplayInline
		case "none":
			w.Display = widget.DisplayNone
		default:
			p.cancelWidget()
		}
	case "session":
		switch attr.Value {
		case "resource":
			w.SessionScope = widget.SessionScopeResource
		case "site":
			w.SessionScope = widget.SessionScopeSite
		default:
			p.cancelWidget()
		}
	}
}

// cancelWidget aborts the <c:widget> element currently open, leaving its
// span untouched (WidgetContainerParser::CancelWidget).
func (p *processor) cancelWidget() {
	p.curWidget = nil
	p.tag = tagIgnore
}

// onStartElementInWidget dispatches the child elements recognised
// inside an open <c:widget> (spec §4.13's attribute/child table).
func (p *processor) onStartElementInWidget(t htmlparser.Tag) bool {
	name := strings.TrimPrefix(t.Name, "c:")
	switch name {
	case "widget":
		if t.Type == htmlparser.TagClose {
			p.tag = tagWidget
			return true
		}
		return false
	case "path-info":
		p.tag = tagWidgetPathInfo
		p.curPathInfo = ""
		return true
	case "param", "parameter":
		p.tag = tagWidgetParam
		p.curParamName, p.curParamValue = "", ""
		return true
	case "header":
		p.tag = tagWidgetHeader
		p.curParamName, p.curParamValue = "", ""
		return true
	case "view":
		p.tag = tagWidgetView
		p.curViewName = ""
		return true
	default:
		p.tag = tagIgnore
		return false
	}
}

func decodeAttrValue(v string) string {
	if strings.ContainsRune(v, '&') {
		return stdhtml.UnescapeString(v)
	}
	return v
}

// widgetParamFinished flattens one <c:param name=.. value=..> child
// into the widget's accumulated Params (joined into FromTemplate.
// QueryString at embed time).
func (p *processor) widgetParamFinished() {
	if p.curParamName == "" || p.curWidget == nil {
		p.curParamName, p.curParamValue = "", ""
		return
	}
	name := url.QueryEscape(decodeAttrValue(p.curParamName))
	value := url.QueryEscape(decodeAttrValue(p.curParamValue))
	p.curWidget.Params = append(p.curWidget.Params, name+"="+value)
	p.curParamName, p.curParamValue = "", ""
}

func headerNameValid(name string) bool {
	if len(name) < 3 {
		return false
	}
	if !(name[0] == 'X' || name[0] == 'x') || name[1] != '-' {
		return false
	}
	for i := 2; i < len(name); i++ {
		c := name[i]
		isAlnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
		if !isAlnum && c != '-' {
			return false
		}
	}
	return true
}

// widgetHeaderFinished applies one <c:header name=.. value=..> child,
// validating the header name and lazily creating the headers map.
func (p *processor) widgetHeaderFinished(t htmlparser.TagType) {
	defer func() { p.curParamName, p.curParamValue = "", "" }()

	if t == htmlparser.TagClose {
		return
	}
	if p.curWidget == nil || !headerNameValid(p.curParamName) {
		return
	}
	if p.curWidget.FromTemplate.Headers == nil {
		p.curWidget.FromTemplate.Headers = make(map[string]string)
	}
	p.curWidget.FromTemplate.Headers[p.curParamName] = decodeAttrValue(p.curParamValue)
}

// widgetTagFinished implements WidgetContainerParser's WIDGET-tag branch
// of OnXmlTagFinished: on the opening tag it records where the element
// starts and waits for its children; on the closing (or short) tag it
// hands the fully-parsed widget off for
// embedding and substitutes the whole element span with its response.
func (p *processor) widgetTagFinished(t htmlparser.Tag) bool {
	w := p.curWidget
	if w == nil {
		// Already cancelled.
		return true
	}

	if t.Type == htmlparser.TagOpen || t.Type == htmlparser.TagShort {
		p.curWidgetStart = t.Start
	}

	if t.Type == htmlparser.TagOpen {
		// Wait for children / the matching close tag.
		return true
	}

	p.curWidget = nil
	p.replaceRange(p.curWidgetStart, t.End, p.openWidgetElement(w))
	return true
}

// prepareEmbedWidget validates and attaches a parsed <c:widget> child,
// returning the error that should abort embedding (producing no output
// for the element) instead of panicking, matching PrepareEmbedWidget's
// try/catch boundary.
func (p *processor) prepareEmbedWidget(child *widget.Widget) error {
	if child.ClassName == "" {
		return bperror.New(bperror.Semantics, "widget element has no type")
	}
	if !child.InitApproval(p.opts.hasSelfContainer()) {
		return bperror.New(bperror.Forbidden, "widget embedding denied by approval policy")
	}
	if widget.CheckRecursion(child.Parent, child.ClassName) {
		return bperror.New(bperror.Semantics, "widget recursion detected")
	}
	if len(child.Params) > 0 {
		child.FromTemplate.QueryString = strings.Join(child.Params, "&")
	}
	child.Attach()
	return nil
}

// embedWidget issues the backend request and wraps its result so that a
// failure becomes a silent, logged EOF rather than failing the whole
// page (widget_catch_callback's behaviour).
func (p *processor) embedWidget(w *widget.Widget) istream.Istream {
	if w.Display == widget.DisplayNone {
		w.Cancel()
		return nil
	}
	if p.embedder == nil {
		w.Cancel()
		return nil
	}

	body := p.embedder.Embed(p.lastCtx, p.reqCtx, false, w)
	if body == nil {
		return nil
	}
	return newCatchIstream(body, p.log, w.ClassName)
}

// openWidgetElement is the try/catch boundary around prepareEmbedWidget
// + embedWidget: a validation failure silently drops the element's
// output (matching OpenWidgetElement's catch-all at level 5), never
// failing the surrounding document.
func (p *processor) openWidgetElement(w *widget.Widget) istream.Istream {
	if err := p.prepareEmbedWidget(w); err != nil {
		p.log.Debug().Err(err).Str("widget_class", w.ClassName).Msg("xmlproc: widget element dropped")
		return nil
	}
	return p.embedWidget(w)
}

// catchIstream converts a wrapped istream's OnError into a logged OnEOF,
// so one widget's backend failure can't fail the whole page render
// (widget_catch_callback's "log and swallow" contract).
type catchIstream struct {
	istream.Base
	source      istream.Istream
	log         zerolog.Logger
	widgetClass string
}

func newCatchIstream(source istream.Istream, log zerolog.Logger, widgetClass string) *catchIstream {
	return &catchIstream{source: source, log: log, widgetClass: widgetClass}
}

func (c *catchIstream) Available(partial bool) int64 { return c.source.Available(partial) }
func (c *catchIstream) Skip(n int64) int64            { return c.source.Skip(n) }
func (c *catchIstream) AsFD() (int, bool)              { return 0, false }

func (c *catchIstream) Close() {
	if c.Done() {
		return
	}
	c.source.Close()
	c.MarkClosed()
}

func (c *catchIstream) Read(ctx context.Context) {
	if c.Done() {
		return
	}
	c.source.SetHandler(&catchHandler{c: c}, istream.NoDirect)
	c.source.Read(ctx)
}

type catchHandler struct{ c *catchIstream }

func (h *catchHandler) OnData(data []byte) int { return h.c.Handler.OnData(data) }

func (h *catchHandler) OnDirect(fd int, t istream.FDType, maxLen int) (int, error) {
	return h.c.Handler.OnDirect(fd, t, maxLen)
}

func (h *catchHandler) OnEOF() { h.c.FireEOF() }

func (h *catchHandler) OnError(err error) {
	h.c.log.Error().Err(err).Str("widget_class", h.c.widgetClass).Msg("xmlproc: embedded widget failed, dropping silently")
	h.c.FireEOF()
}

// isMetaPropertyWithLink reports whether an Open Graph "property" value
// names a URI-bearing meta property.
func isMetaPropertyWithLink(property string) bool {
	if !strings.HasPrefix(property, "og:") {
		return false
	}
	return strings.HasSuffix(property, ":url") || property == "og:image" || property == "og:audio" || property == "og:video"
}

func isMetaWithURIContent(name, value string) bool {
	return equalFoldASCII(name, "property") && isMetaPropertyWithLink(value)
}
