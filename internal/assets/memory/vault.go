package memory

import (
	"context"
	"sync"

	"dvp-ledger/internal/assets"
	ledger "dvp-ledger/internal/ledger/domain"
)

// Vault is the in-memory native-currency vault. Deposits accumulate into the
// held total; Push moves value out to a per-party withdrawable balance and
// hands control to the recipient hook, which is the suspension point a
// hostile recipient can re-enter from.
type Vault struct {
	mu       sync.Mutex
	held     uint64
	payouts  map[ledger.Party]uint64
	deposits map[ledger.Party]uint64

	// RecipientHook runs when a party is credited, before the credit is
	// applied. Tests use it to simulate recipients that fail or re-enter.
	RecipientHook func(ctx context.Context, to ledger.Party, amount uint64) error
}

// NewVault constructs an empty vault.
func NewVault() *Vault {
	return &Vault{
		payouts:  make(map[ledger.Party]uint64),
		deposits: make(map[ledger.Party]uint64),
	}
}

// Deposit records native currency entering the ledger.
func (v *Vault) Deposit(_ context.Context, from ledger.Party, amount uint64) error {
	v.mu.Lock()
	v.held += amount
	v.deposits[from] += amount
	v.mu.Unlock()
	return nil
}

// Push credits the recipient's withdrawable balance.
func (v *Vault) Push(ctx context.Context, to ledger.Party, amount uint64) error {
	if v.RecipientHook != nil {
		if err := v.RecipientHook(ctx, to, amount); err != nil {
			return err
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.held -= amount
	v.payouts[to] += amount
	return nil
}

// Held returns the native currency currently held in escrow.
func (v *Vault) Held() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.held
}

// PayoutBalance returns what a party has been credited and not collected.
func (v *Vault) PayoutBalance(p ledger.Party) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.payouts[p]
}

// Snapshot captures held total and payout balances for revert.
func (v *Vault) Snapshot() assets.Snapshot {
	v.mu.Lock()
	held := v.held
	payouts := make(map[ledger.Party]uint64, len(v.payouts))
	for p, amount := range v.payouts {
		payouts[p] = amount
	}
	v.mu.Unlock()
	return func() {
		v.mu.Lock()
		v.held = held
		v.payouts = payouts
		v.mu.Unlock()
	}
}
