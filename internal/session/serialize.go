package session

import "encoding/json"

// widgetSessionDTO is the JSON-on-the-wire shape of a WidgetSession
// subtree, used only at the Store boundary — RealmSession/WidgetSession
// themselves stay plain Go structs with their own locking.
type widgetSessionDTO struct {
	PathInfo    string                       `json:"p,omitempty"`
	QueryString string                       `json:"q,omitempty"`
	Children    map[string]*widgetSessionDTO `json:"c,omitempty"`
}

func widgetSessionToDTO(ws *WidgetSession) *widgetSessionDTO {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	dto := &widgetSessionDTO{PathInfo: ws.PathInfo, QueryString: ws.QueryString}
	if len(ws.children) > 0 {
		dto.Children = make(map[string]*widgetSessionDTO, len(ws.children))
		for id, child := range ws.children {
			dto.Children[id] = widgetSessionToDTO(child)
		}
	}
	return dto
}

func widgetSessionFromDTO(dto *widgetSessionDTO) *WidgetSession {
	ws := &WidgetSession{PathInfo: dto.PathInfo, QueryString: dto.QueryString}
	if len(dto.Children) > 0 {
		ws.children = make(map[string]*WidgetSession, len(dto.Children))
		for id, child := range dto.Children {
			ws.children[id] = widgetSessionFromDTO(child)
		}
	}
	return ws
}

// marshalRealm encodes a RealmSession's top-level widget tree as JSON,
// the value stored in one field of the session's Redis hash.
func marshalRealm(rs *RealmSession) ([]byte, error) {
	rs.mu.Lock()
	widgets := make(map[string]*widgetSessionDTO, len(rs.widgets))
	for id, ws := range rs.widgets {
		widgets[id] = widgetSessionToDTO(ws)
	}
	rs.mu.Unlock()

	return json.Marshal(widgets)
}

// unmarshalRealm decodes the JSON produced by marshalRealm back into a
// fresh RealmSession for the given realm name.
func unmarshalRealm(realm string, data []byte) (*RealmSession, error) {
	var widgets map[string]*widgetSessionDTO
	if err := json.Unmarshal(data, &widgets); err != nil {
		return nil, err
	}

	rs := NewRealmSession(realm)
	if len(widgets) > 0 {
		rs.widgets = make(map[string]*WidgetSession, len(widgets))
		for id, dto := range widgets {
			rs.widgets[id] = widgetSessionFromDTO(dto)
		}
	}
	return rs, nil
}
