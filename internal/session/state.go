package session

import "sync"

// WidgetSession records a single widget's persisted path_info and
// query_string (spec §3.5), plus its children indexed by widget id —
// a Go rendering of widget::Session.cxx/FromSession.cxx's WidgetSession
// node.
type WidgetSession struct {
	PathInfo    string
	QueryString string

	mu       sync.Mutex
	children map[string]*WidgetSession
}

// GetChild returns the named child WidgetSession, creating it (and the
// children map) on first use when create is true.
func (ws *WidgetSession) GetChild(id string, create bool) *WidgetSession {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if child, ok := ws.children[id]; ok {
		return child
	}
	if !create {
		return nil
	}
	if ws.children == nil {
		ws.children = make(map[string]*WidgetSession)
	}
	child := &WidgetSession{}
	ws.children[id] = child
	return child
}

// RealmSession partitions session state by authentication realm
// (spec §3.5): it owns the top-level WidgetSession tree for one
// realm within a Session.
type RealmSession struct {
	Realm string

	mu      sync.Mutex
	widgets map[string]*WidgetSession
}

// NewRealmSession creates an empty RealmSession for the given realm
// name.
func NewRealmSession(realm string) *RealmSession {
	return &RealmSession{Realm: realm}
}

// GetWidget returns the named top-level WidgetSession, creating it
// (and the widget map) on first use when create is true.
func (rs *RealmSession) GetWidget(id string, create bool) *WidgetSession {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if ws, ok := rs.widgets[id]; ok {
		return ws
	}
	if !create {
		return nil
	}
	if rs.widgets == nil {
		rs.widgets = make(map[string]*WidgetSession)
	}
	ws := &WidgetSession{}
	rs.widgets[id] = ws
	return ws
}

// Session is a whole session: its id plus one RealmSession per
// authentication realm seen so far.
type Session struct {
	ID Id

	mu     sync.Mutex
	realms map[string]*RealmSession
}

// NewSession creates an empty Session with the given id.
func NewSession(id Id) *Session {
	return &Session{ID: id}
}

// Realm returns the named RealmSession, creating it on first use.
func (s *Session) Realm(name string) *RealmSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rs, ok := s.realms[name]; ok {
		return rs
	}
	if s.realms == nil {
		s.realms = make(map[string]*RealmSession)
	}
	rs := NewRealmSession(name)
	s.realms[name] = rs
	return rs
}
