package application

import (
	"context"
	"sync"

	ledger "dvp-ledger/internal/ledger/domain"
	"dvp-ledger/internal/observability/metrics"
)

// callGuard is the single mutual-exclusion lock spanning the entire call
// tree of one top-level entry invocation. Independent top-level calls
// serialize on the mutex; a callback from an external asset contract (or a
// native push) that re-enters a protected entry point carries the in-call
// marker on its context and is rejected instead of deadlocking. Nested
// execution triggered from inside approval shares its caller's lock: it runs
// on a marked context and never re-acquires.
type callGuard struct {
	mu sync.Mutex
}

type inCallKey struct{}

// enter acquires the guard for a mutating entry point. The returned context
// must flow into every external call made while the guard is held.
func (g *callGuard) enter(ctx context.Context) (context.Context, func(), error) {
	if ctx.Value(inCallKey{}) != nil {
		metrics.CountReentrancyRejection()
		return nil, nil, ledger.ErrReentrantCall
	}
	g.mu.Lock()
	return context.WithValue(ctx, inCallKey{}, struct{}{}), g.mu.Unlock, nil
}

// enterRead acquires the guard for a read entry point. Reads issued from
// inside a held call tree (a contract querying ledger state mid-transfer)
// proceed without re-acquiring.
func (g *callGuard) enterRead(ctx context.Context) func() {
	if ctx.Value(inCallKey{}) != nil {
		return func() {}
	}
	g.mu.Lock()
	return g.mu.Unlock
}
