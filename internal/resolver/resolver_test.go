package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cm4all/bengproxy/internal/widget"
)

func blockingCollaborator(lookups *int32, release <-chan struct{}, cls *widget.Class, err error) Collaborator {
	return CollaboratorFunc(func(ctx context.Context, className string) (*widget.Class, error) {
		atomic.AddInt32(lookups, 1)
		select {
		case <-release:
			return cls, err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func TestResolveDeduplicatesConcurrentLookups(t *testing.T) {
	var lookups int32
	release := make(chan struct{})
	cls := &widget.Class{Container: true}
	r := New(blockingCollaborator(&lookups, release, cls, nil))

	root := widget.NewRoot("")
	w := widget.NewChild(root)
	w.SetClassName("bar")

	var order []int
	var mu sync.Mutex
	done := make(chan struct{}, 2)

	r.Resolve(context.Background(), w, func(got *widget.Class, err error) {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		done <- struct{}{}
	})
	r.Resolve(context.Background(), w, func(got *widget.Class, err error) {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
		done <- struct{}{}
	})

	close(release)

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for callbacks")
		}
	}

	if atomic.LoadInt32(&lookups) != 1 {
		t.Fatalf("lookups = %d, want 1", lookups)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("callback order = %v, want [1 2]", order)
	}
	if w.Class != cls {
		t.Fatalf("widget class not promoted")
	}
}

func TestResolveAlreadyResolvedSkipsLookup(t *testing.T) {
	var lookups int32
	release := make(chan struct{})
	close(release)
	r := New(blockingCollaborator(&lookups, release, &widget.Class{}, nil))

	root := widget.NewRoot("")
	w := widget.NewChild(root)
	w.Class = &widget.Class{Container: true}

	called := false
	r.Resolve(context.Background(), w, func(got *widget.Class, err error) {
		called = true
		if got != w.Class {
			t.Fatalf("expected already-resolved class to be passed through")
		}
	})
	if !called {
		t.Fatalf("callback not invoked")
	}
	if atomic.LoadInt32(&lookups) != 0 {
		t.Fatalf("lookup issued for an already-resolved widget")
	}
}

func TestCancelLastListenerCancelsLookup(t *testing.T) {
	var lookups int32
	release := make(chan struct{})
	r := New(blockingCollaborator(&lookups, release, nil, nil))

	root := widget.NewRoot("")
	w := widget.NewChild(root)
	w.SetClassName("bar")

	ctx, cancelCtx := context.WithCancel(context.Background())
	defer cancelCtx()

	called := false
	cancel := r.Resolve(ctx, w, func(*widget.Class, error) { called = true })

	cancel()

	// Give the goroutine driven by the cancelled context time to exit;
	// it must not invoke the (already-detached) callback.
	time.Sleep(20 * time.Millisecond)
	if called {
		t.Fatalf("callback invoked after its only listener was cancelled")
	}
}

func TestCancelOneOfSeveralMerelyDetaches(t *testing.T) {
	var lookups int32
	release := make(chan struct{})
	cls := &widget.Class{}
	r := New(blockingCollaborator(&lookups, release, cls, nil))

	root := widget.NewRoot("")
	w := widget.NewChild(root)
	w.SetClassName("bar")

	var firstCalled, secondCalled bool
	cancelFirst := r.Resolve(context.Background(), w, func(*widget.Class, error) { firstCalled = true })
	done := make(chan struct{}, 1)
	r.Resolve(context.Background(), w, func(*widget.Class, error) {
		secondCalled = true
		done <- struct{}{}
	})

	cancelFirst()
	close(release)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for second callback")
	}

	if firstCalled {
		t.Fatalf("detached listener must not be invoked")
	}
	if !secondCalled {
		t.Fatalf("remaining listener must still be invoked")
	}
	if atomic.LoadInt32(&lookups) != 1 {
		t.Fatalf("lookups = %d, want 1 (detaching one listener must not cancel the shared lookup)", lookups)
	}
}
