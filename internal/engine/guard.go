package engine

import (
	"context"
	"sync"
)

// initGuard serializes ledger initialization per case. It is scoped to one
// Engine instance, so independent engines never contend with each other.
type initGuard struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newInitGuard() *initGuard {
	return &initGuard{ids: make(map[string]struct{})}
}

// tryEnter claims the initialization slot for a case. It returns false when
// another goroutine already holds it; callers then proceed read-only.
func (g *initGuard) tryEnter(caseID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.ids[caseID]; held {
		return false
	}
	g.ids[caseID] = struct{}{}
	return true
}

// leave releases the initialization slot for a case.
func (g *initGuard) leave(caseID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.ids, caseID)
}

// initTokenKey marks a context whose call chain already holds the guard, so
// nested loads within the same operation never deadlock on re-entry.
type initTokenKey struct{}

func withInitToken(ctx context.Context) context.Context {
	return context.WithValue(ctx, initTokenKey{}, struct{}{})
}

func hasInitToken(ctx context.Context) bool {
	_, ok := ctx.Value(initTokenKey{}).(struct{})
	return ok
}
