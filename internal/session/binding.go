package session

import "github.com/cm4all/bengproxy/internal/widget"

// getWidgetSession walks up from w to find (or create) the
// WidgetSession that belongs to it within rs, honouring
// SessionScopeResource/SessionScopeSite exactly as Widget::GetSession
// does: a RESOURCE-scoped widget's session nests under its parent's,
// while a SITE-scoped widget's session sits directly off the realm.
func getWidgetSession(w *widget.Widget, rs *RealmSession, create bool) *WidgetSession {
	if w.ID == "" {
		return nil
	}
	if w.Parent == nil {
		return rs.GetWidget(w.ID, create)
	}

	switch w.SessionScope {
	case widget.SessionScopeSite:
		return rs.GetWidget(w.ID, create)
	default: // SessionScopeResource
		parentSession := getWidgetSession(w.Parent, rs, create)
		if parentSession == nil {
			return nil
		}
		return parentSession.GetChild(w.ID, create)
	}
}

// LoadWidgetSession implements inline.SessionLoader: it copies a
// widget's persisted path_info/query_string out of rs's tree. It
// returns false if the widget has no session to load from.
func (rs *RealmSession) LoadWidgetSession(w *widget.Widget) bool {
	ws := getWidgetSession(w, rs, false)
	if ws == nil {
		return false
	}
	w.FromRequest.PathInfo = ws.PathInfo
	w.FromRequest.QueryString = ws.QueryString
	return true
}

// SaveWidgetSession persists w's current request path_info/query_string
// into rs's tree (FromSession.cxx's Widget::SaveToSession), returning
// false if w has no id to key a session entry on.
func (rs *RealmSession) SaveWidgetSession(w *widget.Widget) bool {
	ws := getWidgetSession(w, rs, true)
	if ws == nil {
		return false
	}
	ws.PathInfo = w.FromRequest.PathInfo
	ws.QueryString = w.FromRequest.QueryString
	return true
}

// SyncWidgetSession mirrors Widget::LoadFromSession(RealmSession&): it
// clears SessionSyncPending and, unless the widget is focused (in
// which case the save is postponed until the backend response's view
// is known — see SessionSavePending) or not stateful in this request,
// loads the widget's persisted request state.
func (rs *RealmSession) SyncWidgetSession(w *widget.Widget) {
	w.SessionSyncPending = false

	if !w.ShouldSyncSession() {
		return
	}

	if w.HasFocus() {
		w.SessionSavePending = true
		return
	}

	rs.LoadWidgetSession(w)
}

// CommitWidgetSession mirrors Widget::SaveToSession(RealmSession&):
// called once a focused widget's response view is known, it clears
// SessionSavePending and persists the widget's request state.
func (rs *RealmSession) CommitWidgetSession(w *widget.Widget) {
	w.SessionSavePending = false

	if !w.ShouldSyncSession() {
		return
	}

	rs.SaveWidgetSession(w)
}
