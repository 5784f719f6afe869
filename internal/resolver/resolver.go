// Package resolver implements component O: the widget resolver and
// registry collaborator. It maps a widget's class_name to a
// *widget.Class asynchronously, de-duplicating concurrent lookups for
// the same widget and replaying the result to every listener in
// registration order.
package resolver

import (
	"context"
	"sync"

	"github.com/cm4all/bengproxy/internal/widget"
)

// Collaborator is the external translation lookup (spec §4.12 "a
// translation collaborator"). A production Collaborator is a gRPC
// client (see translationpb); tests use a fake.
type Collaborator interface {
	LookupWidgetClass(ctx context.Context, className string) (*widget.Class, error)
}

// CollaboratorFunc adapts a plain function to a Collaborator.
type CollaboratorFunc func(ctx context.Context, className string) (*widget.Class, error)

func (f CollaboratorFunc) LookupWidgetClass(ctx context.Context, className string) (*widget.Class, error) {
	return f(ctx, className)
}

// Cancel detaches a listener from a pending resolution. If it was the
// last listener, the upstream lookup is cancelled too.
type Cancel func()

type listener struct {
	id int
	cb func(*widget.Class, error)
}

// pending tracks one in-flight (or finished) resolution for a single
// widget, mirroring WidgetResolver in Resolver.cxx.
type pending struct {
	mu        sync.Mutex
	listeners []*listener
	nextID    int
	finished  bool
	result    *widget.Class
	resultErr error
	cancel    context.CancelFunc
}

// Resolver de-duplicates concurrent Resolve calls per widget. Each
// widget only ever has one resolution in flight at a time. Build one
// with New.
type Resolver struct {
	collab Collaborator

	mu      sync.Mutex
	pending map[*widget.Widget]*pending
}

// New builds a Resolver backed by collab.
func New(collab Collaborator) *Resolver {
	return &Resolver{collab: collab, pending: make(map[*widget.Widget]*pending)}
}

// Resolve asynchronously looks up w's class and calls cb exactly once
// with the result. If w.Class is already set, cb fires synchronously
// with no lookup (already resolved). If a resolution for w is already
// in flight, cb is queued onto it without issuing a second lookup. A
// previously finished resolution that yielded nil is cached: further
// Resolve calls for the same widget fail fast with no lookup, mirroring
// "a completed resolution that yielded null is cached."
func (r *Resolver) Resolve(ctx context.Context, w *widget.Widget, cb func(*widget.Class, error)) Cancel {
	if w.Class != nil {
		cb(w.Class, nil)
		return func() {}
	}

	r.mu.Lock()
	p, exists := r.pending[w]
	if exists && p.isFinished() {
		r.mu.Unlock()
		cb(p.result, p.resultErr)
		return func() {}
	}

	isNew := !exists
	if isNew {
		p = &pending{}
		r.pending[w] = p
	}
	r.mu.Unlock()

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	l := &listener{id: id, cb: cb}
	p.listeners = append(p.listeners, l)
	p.mu.Unlock()

	if isNew {
		lookupCtx, cancel := context.WithCancel(ctx)
		p.mu.Lock()
		p.cancel = cancel
		p.mu.Unlock()
		go r.run(lookupCtx, w, p)
	}

	return func() {
		r.detach(w, p, id)
	}
}

func (p *pending) isFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

func (r *Resolver) run(ctx context.Context, w *widget.Widget, p *pending) {
	cls, err := r.collab.LookupWidgetClass(ctx, w.ClassName)

	p.mu.Lock()
	p.finished = true
	p.result = cls
	p.resultErr = err
	toCall := p.listeners
	p.listeners = nil
	p.mu.Unlock()

	if err == nil {
		w.Class = cls
	}

	// Promote the class onto the widget before invoking any listener
	// (RegistryCallback's ordering), then invoke listeners strictly in
	// registration order.
	for _, l := range toCall {
		l.cb(cls, err)
	}

	r.mu.Lock()
	if r.pending[w] == p && cls != nil {
		delete(r.pending, w)
	}
	r.mu.Unlock()
}

// detach removes listener id from p's list (spec §4.12: "cancelling
// any earlier one simply detaches"); if it was the last one and the
// resolution hasn't finished yet, the upstream lookup is cancelled
// too ("cancelling the last listener cancels the upstream lookup").
func (r *Resolver) detach(w *widget.Widget, p *pending, id int) {
	p.mu.Lock()
	for i, l := range p.listeners {
		if l.id == id {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			break
		}
	}
	empty := len(p.listeners) == 0
	finished := p.finished
	cancel := p.cancel
	p.mu.Unlock()

	if empty && !finished && cancel != nil {
		cancel()
		r.mu.Lock()
		if r.pending[w] == p {
			delete(r.pending, w)
		}
		r.mu.Unlock()
	}
}
