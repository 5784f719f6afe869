package xmlproc

import (
	"strings"

	htmlparser "github.com/cm4all/bengproxy/internal/markup/html"
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/rewrite"
)

// postponedRewrite holds a single URI-bearing attribute's pending
// rewrite while the tag's remaining attributes (c:base/c:mode/c:view)
// are still being parsed, plus up to four attribute spans (the
// c:base/c:mode/c:view/xmlns:c attributes themselves) to delete once
// the rewrite commits — mirroring XmlProcessor::PostponedRewrite.
type postponedRewrite struct {
	pending        bool
	uriStart       int64
	uriEnd         int64
	value          string
	deleteStart    [4]int64
	deleteEnd      [4]int64
}

// initURIRewrite resets the current tag's rewrite target to the
// compiled-in default, ready to be overridden by c:base/c:mode/c:view.
func (p *processor) initURIRewrite(t tagKind) {
	p.tag = t
	p.uriRewriteCur = p.defaultURIRewrite
}

// mustRewriteEmptyURI reports whether an empty URI attribute should
// still be rewritten (only <form action=""> needs this: an empty action
// means "submit to the current page", which must still be focused).
func (p *processor) mustRewriteEmptyURI() bool {
	return p.tag == tagForm
}

// postponeURIRewrite records value (the span [start,end) of the
// attribute currently being parsed) as the candidate for this tag's URI
// rewrite, if the policy allows rewriting it at all. A later
// c:base/c:mode/c:view attribute on the same tag can still change how
// it gets rewritten before commitURIRewrite runs at tag-finish.
func (p *processor) postponeURIRewrite(start, end int64, value string) {
	if p.postponed.pending {
		return
	}
	if !rewrite.CanRewrite(value, p.mustRewriteEmptyURI()) {
		return
	}
	p.postponed = postponedRewrite{
		pending:  true,
		uriStart: start,
		uriEnd:   end,
		value:    value,
	}
}

// postponeRefreshRewrite handles <meta http-equiv="refresh"
// content="N;URL='...'">, extracting the quoted URL portion of content
// and postponing a rewrite of exactly that span.
func (p *processor) postponeRefreshRewrite(attr htmlparser.Attribute) {
	value := attr.Value
	semi := strings.IndexByte(value, ';')
	if semi < 0 {
		return
	}
	rest := value[semi+1:]
	trimmed := strings.TrimLeft(rest, " \t")
	delta := len(value) - len(rest) + (len(rest) - len(trimmed))

	const prefix = "URL='"
	if len(trimmed) < len(prefix)+1 || !strings.HasPrefix(trimmed, prefix) || !strings.HasSuffix(trimmed, "'") {
		return
	}
	url := trimmed[len(prefix) : len(trimmed)-1]
	urlStart := delta + len(prefix)

	p.postponeURIRewrite(attr.ValueStart+int64(urlStart), attr.ValueStart+int64(urlStart+len(url)), url)
}

// deleteURIRewrite deletes [start,end), immediately if no rewrite is
// currently postponed, or queued into postponed's 4-slot delete array
// (so it takes effect only once the postponed rewrite commits, keeping
// the substitutions in ascending-start order) otherwise.
func (p *processor) deleteURIRewrite(start, end int64) {
	if !p.postponed.pending {
		p.deleteRange(start, end)
		return
	}
	for i := range p.postponed.deleteStart {
		if p.postponed.deleteStart[i] == 0 && p.postponed.deleteEnd[i] == 0 {
			p.postponed.deleteStart[i] = start
			p.postponed.deleteEnd[i] = end
			return
		}
	}
	// All four slots full; drop it rather than lose track of ordering.
	p.log.Warn().Msg("xmlproc: dropped a postponed attribute deletion, too many on one tag")
}

// commitURIRewrite applies the postponed rewrite (if any) and then the
// queued attribute deletions, called once a tag's attributes are fully
// parsed.
func (p *processor) commitURIRewrite() {
	if !p.postponed.pending {
		return
	}
	pr := p.postponed
	p.postponed = postponedRewrite{}

	p.transformURIAttribute(pr.uriStart, pr.uriEnd, pr.value, p.uriRewriteCur.base, p.uriRewriteCur.mode, p.uriRewriteCur.view)

	for i := range pr.deleteStart {
		if pr.deleteStart[i] != 0 || pr.deleteEnd[i] != 0 {
			p.deleteRange(pr.deleteStart[i], pr.deleteEnd[i])
		}
	}
}

// transformURIAttribute resolves the rewrite target by base, runs it
// through the URI rewriter, and registers the replacement.
func (p *processor) transformURIAttribute(start, end int64, value string, base uriBase, mode rewrite.Mode, view string) {
	target := p.container
	switch base {
	case uriTemplate:
		return
	case uriWidget:
		target = p.container
	case uriChild:
		childID, rest, found := strings.Cut(value, "/")
		if !found {
			childID, rest = value, ""
		}
		child := p.container.FindChild(childID)
		if child == nil {
			return
		}
		target = child
		value = rest
	case uriParent:
		if p.container.Parent == nil {
			return
		}
		target = p.container.Parent
	}

	if target.IsRoot() {
		return
	}
	if target.Class == nil && target.ClassName == "" {
		return
	}

	base2, fragment := splitURIFragment(value)
	stateful := target == p.container

	rewritten, ok := rewrite.URIView(target, p.rwCtx, base2, mode, stateful, view)
	if !ok {
		return
	}

	repl := istream.Istream(istream.NewStringStream(rewritten))
	if fragment != "" {
		repl = istream.NewChain(repl, istream.NewStringStream(htmlEscapeFragment(fragment)))
	}
	p.replaceRange(start, end, repl)
}

func splitURIFragment(value string) (base, fragment string) {
	if i := strings.IndexByte(value, '#'); i >= 0 {
		return value[:i], value[i:]
	}
	return value, ""
}

// htmlEscapeFragment escapes a URI fragment before it's concatenated
// back onto a rewritten URI as plain attribute-value text.
func htmlEscapeFragment(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '&':
			b.WriteString("&amp;")
		case '"':
			b.WriteString("&quot;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// linkAttributeFinished handles the c:base/c:mode/c:view/xmlns:c
// attributes that can appear on any URI-bearing tag, overriding how its
// postponed (or about-to-be-postponed) rewrite is applied. Returns true
// if attr was one of these.
func (p *processor) linkAttributeFinished(attr htmlparser.Attribute) bool {
	switch attr.Name {
	case "c:base":
		p.uriRewriteCur.base = parseURIBase(attr.Value)
		p.deleteLinkAttribute(attr)
		return true
	case "c:mode":
		p.uriRewriteCur.mode = rewrite.ParseMode(attr.Value)
		p.deleteLinkAttribute(attr)
		return true
	case "c:view":
		if len(attr.Value) <= 64 {
			p.uriRewriteCur.view = attr.Value
		}
		p.deleteLinkAttribute(attr)
		return true
	case "xmlns:c":
		p.deleteLinkAttribute(attr)
		return true
	}
	return false
}

// deleteLinkAttribute deletes a c:base/c:mode/c:view/xmlns:c attribute's span,
// unless the tag itself is the synthetic <?cm4all-rewrite-uri?> PI
// (which has no markup to delete attributes from).
func (p *processor) deleteLinkAttribute(attr htmlparser.Attribute) {
	if p.tag == tagRewriteURI {
		return
	}
	p.deleteURIRewrite(attr.NameStart, attr.End)
}
