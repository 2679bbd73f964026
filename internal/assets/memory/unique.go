package memory

import (
	"context"
	"errors"
	"sync"

	"dvp-ledger/internal/assets"
	ledger "dvp-ledger/internal/ledger/domain"
)

var (
	ErrUnknownAsset  = errors.New("unique: unknown asset id")
	ErrWrongOwner    = errors.New("unique: sender does not own asset")
	ErrNotAuthorized = errors.New("unique: engine not authorized for asset")
)

// UniqueRegistry is an in-memory unique-id asset contract. Owner per id and
// per-id engine authorization, cleared on transfer.
type UniqueRegistry struct {
	mu         sync.Mutex
	owners     map[uint64]ledger.Party
	authorized map[uint64]bool
	supports   bool

	// TransferHook runs before a transfer is applied; tests use it to
	// inject failures.
	TransferHook func(ctx context.Context, from, to ledger.Party, id uint64) error
}

// NewUniqueRegistry constructs a registry that declares unique-asset support.
func NewUniqueRegistry() *UniqueRegistry {
	return &UniqueRegistry{
		owners:     make(map[uint64]ledger.Party),
		authorized: make(map[uint64]bool),
		supports:   true,
	}
}

// NewUndeclaredRegistry constructs a registry that does not declare support;
// the classifier must reject settlements referencing it.
func NewUndeclaredRegistry() *UniqueRegistry {
	r := NewUniqueRegistry()
	r.supports = false
	return r
}

// Mint assigns an id to an owner.
func (r *UniqueRegistry) Mint(id uint64, owner ledger.Party) {
	r.mu.Lock()
	r.owners[id] = owner
	r.mu.Unlock()
}

// Authorize lets the engine move the id.
func (r *UniqueRegistry) Authorize(id uint64) {
	r.mu.Lock()
	r.authorized[id] = true
	r.mu.Unlock()
}

// SupportsUniqueAssets is the declared capability set.
func (r *UniqueRegistry) SupportsUniqueAssets(_ context.Context) (bool, error) {
	return r.supports, nil
}

// OwnerOf returns the current owner of an id.
func (r *UniqueRegistry) OwnerOf(_ context.Context, id uint64) (ledger.Party, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	if !ok {
		return "", ErrUnknownAsset
	}
	return owner, nil
}

// Authorized reports whether the engine may move the id.
func (r *UniqueRegistry) Authorized(_ context.Context, id uint64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.authorized[id], nil
}

// TransferFrom moves an id; authorization is consumed by the move.
func (r *UniqueRegistry) TransferFrom(ctx context.Context, from, to ledger.Party, id uint64) error {
	if r.TransferHook != nil {
		if err := r.TransferHook(ctx, from, to, id); err != nil {
			return err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	if !ok {
		return ErrUnknownAsset
	}
	if owner != from {
		return ErrWrongOwner
	}
	if !r.authorized[id] {
		return ErrNotAuthorized
	}
	r.owners[id] = to
	delete(r.authorized, id)
	return nil
}

// Snapshot captures owners and authorizations for revert.
func (r *UniqueRegistry) Snapshot() assets.Snapshot {
	r.mu.Lock()
	owners := make(map[uint64]ledger.Party, len(r.owners))
	for id, p := range r.owners {
		owners[id] = p
	}
	authorized := make(map[uint64]bool, len(r.authorized))
	for id, v := range r.authorized {
		authorized[id] = v
	}
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.owners = owners
		r.authorized = authorized
		r.mu.Unlock()
	}
}
