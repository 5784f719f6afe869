package cache

import "testing"

func TestNopInvalidatorDiscards(t *testing.T) {
	var inv Invalidator = NopInvalidator{}
	if err := inv.Invalidate("widget:example"); err != nil {
		t.Fatalf("NopInvalidator.Invalidate must never fail: %v", err)
	}
	inv.Close()
}
