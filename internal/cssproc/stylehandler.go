package cssproc

import (
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/rewrite"
	"github.com/cm4all/bengproxy/internal/widget"
	"github.com/cm4all/bengproxy/internal/xmlproc"
)

// DeriveOptions translates the XML processor's options bitmask into
// the CSS processor's own, the way XmlProcessor::OnXmlTagFinished
// builds css_options for a <style> element's contents from its own
// PROCESSOR_* bits.
func DeriveOptions(xopts xmlproc.Options) Options {
	var o Options
	if xopts&xmlproc.OptRewriteURL != 0 {
		o |= OptRewriteURL
	}
	if xopts&xmlproc.OptPrefixCSSClass != 0 {
		o |= OptPrefixClass
	}
	if xopts&xmlproc.OptPrefixXMLID != 0 {
		o |= OptPrefixID
	}
	return o
}

// NewStyleHandler adapts NewProcessor into the xmlproc.StyleHandler
// shape, so internal/xmlproc can hand a <style> element's CDATA (and
// the same applies to style="" content, once component K separates
// that path out) to this package without depending on it directly.
func NewStyleHandler(xopts xmlproc.Options, rwCtx rewrite.Context, os ...Option) xmlproc.StyleHandler {
	opts := DeriveOptions(xopts)
	return func(container *widget.Widget, cdata []byte) istream.Istream {
		return NewProcessor(istream.NewByteStream(cdata), container, opts, rwCtx, os...)
	}
}
