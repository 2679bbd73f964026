// Package memory provides in-memory asset-contract adapters. They back tests
// and local runs, and double as the reference for what a production adapter
// must honor: engine-authorized transfers and the snapshot revert hook.
package memory

import (
	"context"
	"errors"
	"sync"

	"dvp-ledger/internal/assets"
	ledger "dvp-ledger/internal/ledger/domain"
)

var (
	ErrInsufficientBalance   = errors.New("fungible: insufficient balance")
	ErrInsufficientAllowance = errors.New("fungible: insufficient allowance")
)

// FungibleToken is an in-memory fungible asset contract. Balances and
// engine allowances per owner; TransferFrom consumes allowance.
type FungibleToken struct {
	mu         sync.Mutex
	balances   map[ledger.Party]uint64
	allowances map[ledger.Party]uint64

	// TransferHook runs before a transfer is applied. Tests use it to make
	// the contract misbehave or attempt re-entry into the engine.
	TransferHook func(ctx context.Context, from, to ledger.Party, amount uint64) error
}

// NewFungibleToken constructs an empty token.
func NewFungibleToken() *FungibleToken {
	return &FungibleToken{
		balances:   make(map[ledger.Party]uint64),
		allowances: make(map[ledger.Party]uint64),
	}
}

// Mint credits a balance.
func (t *FungibleToken) Mint(p ledger.Party, amount uint64) {
	t.mu.Lock()
	t.balances[p] += amount
	t.mu.Unlock()
}

// Approve sets the engine allowance for an owner.
func (t *FungibleToken) Approve(owner ledger.Party, amount uint64) {
	t.mu.Lock()
	t.allowances[owner] = amount
	t.mu.Unlock()
}

// BalanceOf returns the party's balance.
func (t *FungibleToken) BalanceOf(_ context.Context, p ledger.Party) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balances[p], nil
}

// Allowance returns what the owner authorized the engine to move.
func (t *FungibleToken) Allowance(_ context.Context, owner ledger.Party) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.allowances[owner], nil
}

// TransferFrom moves tokens under the owner's engine allowance.
func (t *FungibleToken) TransferFrom(ctx context.Context, from, to ledger.Party, amount uint64) error {
	if t.TransferHook != nil {
		if err := t.TransferHook(ctx, from, to, amount); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.balances[from] < amount {
		return ErrInsufficientBalance
	}
	if t.allowances[from] < amount {
		return ErrInsufficientAllowance
	}
	t.balances[from] -= amount
	t.allowances[from] -= amount
	t.balances[to] += amount
	return nil
}

// Snapshot captures balances and allowances for revert.
func (t *FungibleToken) Snapshot() assets.Snapshot {
	t.mu.Lock()
	balances := make(map[ledger.Party]uint64, len(t.balances))
	for p, v := range t.balances {
		balances[p] = v
	}
	allowances := make(map[ledger.Party]uint64, len(t.allowances))
	for p, v := range t.allowances {
		allowances[p] = v
	}
	t.mu.Unlock()
	return func() {
		t.mu.Lock()
		t.balances = balances
		t.allowances = allowances
		t.mu.Unlock()
	}
}
