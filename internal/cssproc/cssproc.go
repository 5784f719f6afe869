// Package cssproc implements component L: the CSS processor. It drives
// an istream.Replace off a markup/css.Parser, rewriting url()/@import
// references and "___"/"__"-prefixed class/id selectors the same way
// internal/xmlproc does for markup attributes — this package is what a
// <style> element's body (and, by extension, a standalone CSS widget
// response) is handed to (spec §4.8, §4.9).
package cssproc

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/cm4all/bengproxy/internal/istream"
	cssparser "github.com/cm4all/bengproxy/internal/markup/css"
	"github.com/cm4all/bengproxy/internal/rewrite"
	"github.com/cm4all/bengproxy/internal/widget"
)

// Options is the per-document processing bitmask, mirroring
// CSS_PROCESSOR_*.
type Options uint

const (
	OptRewriteURL Options = 1 << iota
	OptPrefixClass
	OptPrefixID
)

func (o Options) has(bit Options) bool { return o&bit != 0 }

// Option configures a Processor at construction.
type Option func(*processor)

// WithLogger attaches a structured logger; defaults to zerolog's global
// logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *processor) { p.log = l }
}

type processor struct {
	replace   *istream.Replace
	parser    *cssparser.Parser
	source    istream.Istream
	container *widget.Widget
	rwCtx     rewrite.Context
	opts      Options
	log       zerolog.Logger

	// mode/view are reset to (PARTIAL, "") at every block's opening
	// '{' and can be overridden within the block by a "-c-mode"/
	// "-c-view" declaration (css_processor_parser_block/
	// _property_keyword).
	mode rewrite.Mode
	view string

	sourceDone bool
	pullDepth  int
	progressed bool
	lastCtx    context.Context
}

// NewProcessor wraps source (a <style> element's buffered body, or a
// whole CSS widget response) in the CSS processor, returning the
// driven istream. container is the widget whose stylesheet is being
// rendered.
func NewProcessor(source istream.Istream, container *widget.Widget, opts Options, rwCtx rewrite.Context, os ...Option) istream.Istream {
	p := &processor{
		source:    source,
		container: container,
		opts:      opts,
		rwCtx:     rwCtx,
		log:       log.Logger,
		lastCtx:   context.Background(),
		mode:      rewrite.ModePartial,
	}
	for _, o := range os {
		o(p)
	}

	p.replace = istream.NewReplace()
	p.replace.OnNeedMore = p.onNeedMore

	cssOpts := cssparser.Options{
		WantClassName: opts.has(OptPrefixClass),
		WantXMLID:     opts.has(OptPrefixID),
		WantBlock:     opts.has(OptRewriteURL),
		WantProperty:  opts.has(OptRewriteURL),
		WantURL:       opts.has(OptRewriteURL),
		WantImport:    opts.has(OptRewriteURL),
	}
	p.parser = cssparser.NewParser(p, cssOpts, false)
	source.SetHandler(&sourceHandler{p: p}, istream.NoDirect)

	return procIstream{p: p}
}

// procIstream is the public Istream identity NewProcessor returns; see
// xmlproc.procIstream for why Read must capture the caller's context
// (here it matters less, since no embedding happens downstream of this
// processor, but the combinator is kept uniform with xmlproc's).
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
	p.replace.SourceEOF()
	p.progressed = true
	if p.pullDepth == 0 {
		p.replace.Read(p.lastCtx)
	}
}

func (h *sourceHandler) OnError(err error) {
	p := h.p
	p.sourceDone = true
	p.replace.SourceError(err)
	p.progressed = true
	if p.pullDepth == 0 {
		p.replace.Read(p.lastCtx)
	}
}

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

func (p *processor) replaceRange(start, end int64, repl istream.Istream) {
	if repl == nil {
		repl = istream.NewByteStream(nil)
	}
	if err := p.replace.Add(start, end, repl); err != nil {
		p.log.Error().Err(err).Msg("cssproc: dropped out-of-order substitution")
		repl.Close()
	}
}

func (p *processor) deleteRange(start, end int64) {
	p.replaceRange(start, end, nil)
}

// --- cssparser.Handler ---

// underscorePrefixLen reports how many of s's leading underscores form
// a recognised prefix marker (see xmlproc.underscorePrefixLen; ported
// independently here to keep the two processors decoupled).
func underscorePrefixLen(s string) int {
	n := 0
	for n < len(s) && n < 4 && s[n] == '_' {
		n++
	}
	if n == 2 || n == 3 {
		return n
	}
	return 0
}

func (p *processor) OnClassName(name cssparser.Value) {
	if !p.opts.has(OptPrefixClass) {
		return
	}
	switch underscorePrefixLen(name.Text) {
	case 3:
		if prefix := p.container.Prefix(); prefix != "" {
			p.replaceRange(name.Start, name.Start+3, istream.NewStringStream(prefix))
		}
	case 2:
		if qc := p.container.QuotedClassName(); qc != "" {
			p.replaceRange(name.Start, name.Start+2, istream.NewStringStream(qc))
		}
	}
}

// OnXMLID mirrors css_processor_parser_xml_id, including its asymmetry
// against OnClassName: a double-underscore id marker only has its
// first underscore substituted (name.Start, name.Start+1), not both.
func (p *processor) OnXMLID(id cssparser.Value) {
	if !p.opts.has(OptPrefixID) {
		return
	}
	switch underscorePrefixLen(id.Text) {
	case 3:
		if prefix := p.container.Prefix(); prefix != "" {
			p.replaceRange(id.Start, id.Start+3, istream.NewStringStream(prefix))
		}
	case 2:
		if qc := p.container.QuotedClassName(); qc != "" {
			p.replaceRange(id.Start, id.Start+1, istream.NewStringStream(qc))
		}
	}
}

// OnBlock resets the rewrite target back to the compiled-in default at
// every block's opening brace, so a "-c-mode"/"-c-view" declaration
// only affects the block it appears in.
func (p *processor) OnBlock() {
	p.mode = rewrite.ModePartial
	p.view = ""
}

func (p *processor) OnPropertyKeyword(name, value string, start, end int64) {
	if !p.opts.has(OptRewriteURL) {
		return
	}
	switch name {
	case "-c-mode":
		p.mode = rewrite.ParseMode(value)
		p.deleteRange(start, end)
	case "-c-view":
		if len(value) < 64 {
			p.view = value
			p.deleteRange(start, end)
		}
	}
}

func (p *processor) OnURL(url cssparser.Value) {
	p.rewriteURL(url, p.mode, p.view)
}

// OnImport always rewrites in PARTIAL mode against the default view,
// ignoring any "-c-mode"/"-c-view" in effect (css_processor_parser_import
// never reads uri_rewrite).
func (p *processor) OnImport(url cssparser.Value) {
	p.rewriteURL(url, rewrite.ModePartial, "")
}

func (p *processor) rewriteURL(url cssparser.Value, mode rewrite.Mode, view string) {
	if !p.opts.has(OptRewriteURL) || p.container.IsRoot() {
		return
	}
	rewritten, ok := rewrite.URIView(p.container, p.rwCtx, url.Text, mode, false, view)
	if !ok {
		return
	}
	p.replaceRange(url.Start, url.End, istream.NewStringStream(rewritten))
}
