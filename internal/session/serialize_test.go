package session

import "testing"

func TestMarshalUnmarshalRealmRoundTrip(t *testing.T) {
	rs := NewRealmSession("default")
	top := rs.GetWidget("page", true)
	top.PathInfo = "/top"
	top.QueryString = "a=1"

	child := top.GetChild("nav", true)
	child.PathInfo = "/nav"

	data, err := marshalRealm(rs)
	if err != nil {
		t.Fatalf("marshalRealm: %v", err)
	}

	restored, err := unmarshalRealm("default", data)
	if err != nil {
		t.Fatalf("unmarshalRealm: %v", err)
	}

	restoredTop := restored.GetWidget("page", false)
	if restoredTop == nil {
		t.Fatalf("expected top-level widget session to survive round trip")
	}
	if restoredTop.PathInfo != "/top" || restoredTop.QueryString != "a=1" {
		t.Fatalf("top-level fields mismatch: %+v", restoredTop)
	}

	restoredChild := restoredTop.GetChild("nav", false)
	if restoredChild == nil || restoredChild.PathInfo != "/nav" {
		t.Fatalf("expected nested child widget session to survive round trip")
	}
}

func TestMarshalEmptyRealm(t *testing.T) {
	rs := NewRealmSession("default")
	data, err := marshalRealm(rs)
	if err != nil {
		t.Fatalf("marshalRealm: %v", err)
	}
	if string(data) != "{}" {
		t.Fatalf("expected empty object, got %q", data)
	}
}
