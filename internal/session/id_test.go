package session

import "testing"

func TestIdIsDefined(t *testing.T) {
	var zero Id
	if zero.IsDefined() {
		t.Fatalf("zero value must not be defined")
	}

	id, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}
	if !id.IsDefined() {
		t.Fatalf("generated id should be defined")
	}
}

func TestIdFormatAndParse(t *testing.T) {
	id, err := NewId()
	if err != nil {
		t.Fatalf("NewId: %v", err)
	}

	s := id.Format()
	if len(s) != 32 {
		t.Fatalf("expected 32 hex chars, got %d: %q", len(s), s)
	}

	parsed, err := ParseId(s)
	if err != nil {
		t.Fatalf("ParseId: %v", err)
	}
	if parsed != id {
		t.Fatalf("parse(format(id)) != id: got %v want %v", parsed, id)
	}
}

func TestClusterHash(t *testing.T) {
	for clusterSize := uint32(2); clusterSize <= 16; clusterSize++ {
		for clusterNode := uint32(0); clusterNode < clusterSize; clusterNode++ {
			id, err := NewId()
			if err != nil {
				t.Fatalf("NewId: %v", err)
			}
			id = id.SetClusterNode(clusterSize, clusterNode)
			if got := id.GetClusterHash() % clusterSize; got != clusterNode {
				t.Fatalf("cluster_size=%d cluster_node=%d: got hash%%size=%d", clusterSize, clusterNode, got)
			}
		}
	}
}

func TestParseIdRejectsWrongLength(t *testing.T) {
	if _, err := ParseId("deadbeef"); err == nil {
		t.Fatalf("expected error for short id string")
	}
}
