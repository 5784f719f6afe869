// Package rewrite implements component N: the widget URI rewriter
// (spec §4.10). Given a widget, a relative URI and a mode, it
// produces the URI the browser should actually request so that a
// follow-up click lands back inside the template/focus machinery.
package rewrite

import (
	"fmt"
	"strings"

	"github.com/cm4all/bengproxy/internal/widget"
)

// Mode selects how a URI is rewritten, mirroring RewriteUriMode.
type Mode int

const (
	ModeDirect Mode = iota
	ModeFocus
	ModePartial
	ModeResponse
)

// ParseMode maps a c:mode attribute value to a Mode, defaulting to
// Partial for anything unrecognised (matching parse_uri_mode's
// fallthrough in RewriteUri.cxx).
func ParseMode(s string) Mode {
	switch s {
	case "direct":
		return ModeDirect
	case "focus":
		return ModeFocus
	case "partial":
		return ModePartial
	case "response":
		return ModeResponse
	default:
		return ModePartial
	}
}

// Context carries the outer request's ambient state needed to apply
// the untrusted-host/prefix/site-suffix policies.
type Context struct {
	ExternalBaseURI string
	AbsoluteURI     string
	UntrustedHost   string
	SiteName        string
	FrameArg        string
}

// hasAuthority reports whether uri begins with a scheme or "//",
// meaning it already names a host and so cannot be rewritten.
func hasAuthority(uri string) bool {
	if strings.HasPrefix(uri, "//") {
		return true
	}
	if i := strings.Index(uri, "://"); i > 0 {
		scheme := uri[:i]
		for _, r := range scheme {
			if !(r == '+' || r == '-' || r == '.' ||
				(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
				return false
			}
		}
		return true
	}
	return false
}

// CanRewrite reports whether a URI is eligible for rewriting at all
// (spec §4.8 "Rewrite policy").
func CanRewrite(uri string, rewriteEmpty bool) bool {
	if uri == "" {
		return rewriteEmpty
	}
	if uri[0] == '#' {
		return false
	}
	if strings.HasPrefix(uri, "data:") || strings.HasPrefix(uri, "mailto:") || strings.HasPrefix(uri, "javascript:") {
		return false
	}
	return !hasAuthority(uri)
}

// escapeSemicolonArg renders s for use as a `key=value` slot inside a
// URI's semicolon-arg suffix (spec §6.6): unreserved characters pass
// through; '/' becomes "$2f" so it cannot be mistaken for a path
// separator when the whole URI is later re-parsed; other bytes that
// would otherwise need percent-escaping use the same "$XX" form so
// the semicolon-arg parser (which splits on raw '&'/';'/'=') never
// sees a literal delimiter.
func escapeSemicolonArg(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') ||
			c == '-' || c == '_' || c == '.' || c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "$%02x", c)
		}
	}
	return b.String()
}

func splitFragment(value string) (base, fragment string) {
	if i := strings.IndexByte(value, '#'); i >= 0 {
		return value[:i], value[i:]
	}
	return value, ""
}

// URI computes the rewritten URI for value as seen from widget w,
// under mode and the outer request's untrusted-host context. An empty
// result with ok=false means "leave the attribute unchanged" (the
// original's nullptr-return cases).
func URI(w *widget.Widget, ctx Context, value string, mode Mode, stateful bool) (string, bool) {
	return URIView(w, ctx, value, mode, stateful, "")
}

// URIView is URI, additionally selecting a non-default view on the
// target widget (the template's c:view attribute, spec §4.8). An empty
// view behaves exactly like URI.
func URIView(w *widget.Widget, ctx Context, value string, mode Mode, stateful bool, view string) (string, bool) {
	if w.Class != nil && w.Class.LocalURI != "" && strings.HasPrefix(value, "@/") {
		return w.Class.LocalURI + value[2:], true
	}

	switch mode {
	case ModeDirect:
		if w.Class == nil || w.Class.Address == nil {
			return "", false
		}
		return directURI(w, stateful, value), true

	case ModeFocus, ModePartial:
		return focusOrPartialURI(w, ctx, value, mode, view)

	case ModeResponse:
		// Handled by the caller: RESPONSE substitutes the widget's own
		// inline response rather than rewriting a URI string.
		return "", false
	}
	return "", false
}

func directURI(w *widget.Widget, stateful bool, value string) string {
	addr := w.Class.Address
	base := addr.Scheme + "://" + addr.Host + addr.Path
	pathInfo := w.GetPathInfo(stateful)
	return base + pathInfo + value
}

func focusOrPartialURI(w *widget.Widget, ctx Context, value string, mode Mode, view string) (string, bool) {
	idPath := w.IDPath()
	if idPath == "" {
		return "", false
	}

	base, fragment := splitFragment(value)
	pathInfo := w.GetDefaultPathInfo() + base

	var b strings.Builder
	b.WriteString(ctx.ExternalBaseURI)
	b.WriteString(";focus=")
	b.WriteString(idPath)
	b.WriteString("&path=")
	b.WriteString(escapeSemicolonArg(pathInfo))
	if mode == ModePartial {
		b.WriteString("&frame=")
		b.WriteString(idPath)
	}
	if view != "" {
		b.WriteString("&view=")
		b.WriteString(escapeSemicolonArg(view))
	}

	uri := applyUntrustedPolicy(w, ctx, b.String())
	if fragment != "" {
		uri += fragment
	}
	return uri, true
}

func hostAndPort(uri string) string {
	rest := uri
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	} else if strings.HasPrefix(rest, "//") {
		rest = rest[2:]
	} else {
		return ""
	}
	if i := strings.IndexAny(rest, "/?#"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

func pathQueryFragment(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		rest := uri[i+3:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return ""
	}
	if strings.HasPrefix(uri, "//") {
		rest := uri[2:]
		if j := strings.IndexByte(rest, '/'); j >= 0 {
			return rest[j:]
		}
		return ""
	}
	if strings.HasPrefix(uri, "/") {
		return uri
	}
	return ""
}

// applyUntrustedPolicy implements the four untrusted_* post-processing
// rules from §4.10, applied in priority order (host replacement wins
// over prefix, which wins over the two site-suffix forms), matching
// RewriteUri.cxx's if/else-if chain.
func applyUntrustedPolicy(w *widget.Widget, ctx Context, uri string) string {
	cls := w.Class
	if cls == nil {
		return uri
	}

	switch {
	case cls.UntrustedHost != "" && cls.UntrustedHost != ctx.UntrustedHost:
		return replaceHostname(uri, cls.UntrustedHost)

	case cls.UntrustedPrefix != "":
		return addPrefix(uri, ctx.AbsoluteURI, ctx.UntrustedHost, cls.UntrustedPrefix)

	case cls.UntrustedSiteSuffix != "":
		return addSiteSuffix(uri, ctx.SiteName, ctx.UntrustedHost, cls.UntrustedSiteSuffix, false)

	case cls.UntrustedRawSiteSuffix != "":
		return addSiteSuffix(uri, ctx.SiteName, ctx.UntrustedHost, cls.UntrustedRawSiteSuffix, true)
	}

	return uri
}

func replaceHostname(uri, hostname string) string {
	old := hostAndPort(uri)
	if old == "" {
		if strings.HasPrefix(uri, "/") {
			return "//" + hostname + uri
		}
		return uri
	}
	idx := strings.Index(uri, old)
	if idx < 0 {
		return uri
	}
	return uri[:idx] + hostname + uri[idx+len(old):]
}

func addPrefix(uri, absoluteURI, untrustedHost, prefix string) string {
	if untrustedHost != "" {
		return uri
	}
	if strings.HasPrefix(uri, "/") {
		if absoluteURI == "" {
			return uri
		}
		host := hostAndPort(absoluteURI)
		if host == "" {
			return uri
		}
		idx := strings.Index(absoluteURI, host)
		return absoluteURI[:idx] + prefix + "." + host + uri
	}
	host := hostAndPort(uri)
	if host == "" {
		return uri
	}
	idx := strings.Index(uri, host)
	return uri[:idx] + prefix + "." + host
}

func addSiteSuffix(uri, siteName, untrustedHost, suffix string, raw bool) string {
	if untrustedHost != "" || siteName == "" {
		return uri
	}
	path := pathQueryFragment(uri)
	if path == "" {
		return uri
	}
	if raw {
		return "//" + siteName + suffix + path
	}
	return "//" + siteName + "." + suffix + path
}
