// Package assets defines the boundary to external asset contracts: the
// transfer and query operations the engine invokes, the capability/heuristic
// classifier used at settlement creation, and the native-currency vault.
// Contract implementations themselves are external dependencies; the in-memory
// adapters under assets/memory stand in for them.
package assets

import (
	"context"
	"sync"

	ledger "dvp-ledger/internal/ledger/domain"
)

// Snapshot is the revert hook the engine uses to guarantee all-or-nothing
// settlement: before moving any asset it snapshots every touched contract and
// restores them in reverse order if any movement fails. Adapters return a
// restore closure over their captured state.
type Snapshot func()

// FungibleContract is an interchangeable-unit asset contract. Transfers run
// under the authorization the owner granted the settlement engine ahead of
// execution.
type FungibleContract interface {
	// BalanceOf returns the party's current balance. Also the classifier's
	// probe accessor: a contract answering it with a plausible shape is
	// treated as fungible. Heuristic, not a guarantee.
	BalanceOf(ctx context.Context, p ledger.Party) (uint64, error)
	// Allowance returns what the owner has authorized the engine to move.
	Allowance(ctx context.Context, owner ledger.Party) (uint64, error)
	TransferFrom(ctx context.Context, from, to ledger.Party, amount uint64) error
	Snapshot() Snapshot
}

// UniqueContract is a unique-id asset contract.
type UniqueContract interface {
	// SupportsUniqueAssets is the contract's declared capability set; the
	// classifier rejects contracts that do not declare support.
	SupportsUniqueAssets(ctx context.Context) (bool, error)
	OwnerOf(ctx context.Context, id uint64) (ledger.Party, error)
	// Authorized reports whether the engine may move the given id.
	Authorized(ctx context.Context, id uint64) (bool, error)
	TransferFrom(ctx context.Context, from, to ledger.Party, id uint64) error
	Snapshot() Snapshot
}

// NativeVault holds the ledger's escrowed native currency. Push credits a
// recipient and may hand control to recipient code, which makes it a
// suspension point hostile callers can re-enter from; the engine's guard
// rejects such re-entry.
type NativeVault interface {
	Deposit(ctx context.Context, from ledger.Party, amount uint64) error
	Push(ctx context.Context, to ledger.Party, amount uint64) error
	// Held returns the total native currency currently held. The ledger's
	// escrow conservation invariant is checked against it.
	Held() uint64
	Snapshot() Snapshot
}

// Registry resolves contract references to adapters. Production deployments
// register RPC-backed adapters here; tests and local runs register the
// in-memory ones.
type Registry struct {
	mu        sync.RWMutex
	contracts map[ledger.ContractRef]any
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{contracts: make(map[ledger.ContractRef]any)}
}

// Register binds a contract reference to an adapter.
func (r *Registry) Register(ref ledger.ContractRef, contract any) {
	if r == nil || ref == "" || contract == nil {
		return
	}
	r.mu.Lock()
	r.contracts[ref] = contract
	r.mu.Unlock()
}

// Fungible resolves a fungible adapter.
func (r *Registry) Fungible(ref ledger.ContractRef) (FungibleContract, bool) {
	r.mu.RLock()
	raw := r.contracts[ref]
	r.mu.RUnlock()
	c, ok := raw.(FungibleContract)
	return c, ok
}

// Unique resolves a unique-asset adapter.
func (r *Registry) Unique(ref ledger.ContractRef) (UniqueContract, bool) {
	r.mu.RLock()
	raw := r.contracts[ref]
	r.mu.RUnlock()
	c, ok := raw.(UniqueContract)
	return c, ok
}
