package accesslog

import (
	"context"
	"testing"
)

func TestNopSinkDiscards(t *testing.T) {
	var s Sink = NopSink{}
	if err := s.Write(context.Background(), Entry{URI: "/x"}); err != nil {
		t.Fatalf("NopSink.Write must never fail: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("NopSink.Close must never fail: %v", err)
	}
}
