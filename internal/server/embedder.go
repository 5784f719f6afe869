package server

import (
	"context"

	"github.com/cm4all/bengproxy/internal/inline"
	"github.com/cm4all/bengproxy/internal/istream"
	"github.com/cm4all/bengproxy/internal/widget"
	"github.com/cm4all/bengproxy/internal/xmlproc"
)

// embedderAdapter satisfies xmlproc.Embedder by forwarding to an
// inline.Driver, translating xmlproc's EmbedRequestContext to
// inline.RequestContext (identical field sets, distinct named types so
// neither package needs to import the other just for this struct).
type embedderAdapter struct {
	driver *inline.Driver
}

func (e *embedderAdapter) Embed(ctx context.Context, reqCtx xmlproc.EmbedRequestContext, plainText bool, w *widget.Widget) istream.Istream {
	return e.driver.Embed(ctx, inline.RequestContext{
		UntrustedHost: reqCtx.UntrustedHost,
		SiteName:      reqCtx.SiteName,
	}, plainText, w)
}
