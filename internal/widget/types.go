// Package widget implements component M: the widget tree model. A
// Widget is a node in a tree rooted at a synthetic root widget,
// tracking class resolution state, session binding and approval
// exactly as the template processor (internal/xmlproc) and the
// inline-widget driver (internal/inline) need it.
package widget

// Display controls whether a widget renders at all.
type Display int

const (
	DisplayInline Display = iota
	DisplayNone
)

// Approval tracks whether a parent's group policy permits embedding
// this widget. UNKNOWN is resolved once the widget's own class (and
// therefore its group) is known.
type Approval int

const (
	ApprovalGiven Approval = iota
	ApprovalDenied
	ApprovalUnknown
)

// SessionScope selects whether a widget's session state is private to
// one resource or shared across the whole site.
type SessionScope int

const (
	SessionScopeResource SessionScope = iota
	SessionScopeSite
)

// HTTPAddress is the simplified backend address of a widget class:
// enough for the DIRECT rewrite mode (§4.10) to build an absolute
// widget URI.
type HTTPAddress struct {
	Scheme string
	Host   string
	Path   string
}

// Class is a WidgetClass: the server-side configuration identified by
// a widget's class_name, as delivered by the registry (internal/resolver).
type Class struct {
	Address   *HTTPAddress
	LocalURI  string
	Container bool

	Groups         []string
	AllowedGroups  map[string]bool
	RequireGroups  bool

	UntrustedHost          string
	UntrustedPrefix        string
	UntrustedSiteSuffix    string
	UntrustedRawSiteSuffix string
}

// HasGroups reports whether embedding into this class is group-gated.
func (c *Class) HasGroups() bool {
	return c != nil && len(c.AllowedGroups) > 0
}

// MayEmbed reports whether a child of class child may be embedded
// into a container of class c, per the container's group policy.
func (c *Class) MayEmbed(child *Class) bool {
	if !c.HasGroups() {
		return true
	}
	for _, g := range child.Groups {
		if c.AllowedGroups[g] {
			return true
		}
	}
	return false
}

// FromTemplate holds the attributes the containing document assigned
// to this widget (spec §3.4).
type FromTemplate struct {
	PathInfo    string
	QueryString string
	Headers     map[string]string
	ViewName    string
}

// FromRequest holds overrides applied when this widget is the
// focused widget of the current HTTP request.
type FromRequest struct {
	Method      string
	Body        []byte
	PathInfo    string
	QueryString string
	Frame       bool
}
