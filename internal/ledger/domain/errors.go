package ledger

import (
	"errors"
	"fmt"
)

// Input validation failures. Rejected at creation, nothing persisted.
var (
	ErrInvalidTimeWindow    = errors.New("ledger: cutoff is in the past")
	ErrEmptyFlowSet         = errors.New("ledger: settlement has no flows")
	ErrInvalidAsset         = errors.New("ledger: malformed asset descriptor")
	ErrInvalidUniqueAsset   = errors.New("ledger: contract does not declare unique-asset support")
	ErrInvalidFungibleAsset = errors.New("ledger: contract failed fungible-asset probe")
)

// State-precondition failures. Rejected synchronously, no state change.
var (
	ErrNoSuchSettlement  = errors.New("ledger: no such settlement")
	ErrAlreadyExecuted   = errors.New("ledger: settlement already executed")
	ErrCutoffPassed      = errors.New("ledger: settlement cutoff has passed")
	ErrCutoffNotPassed   = errors.New("ledger: settlement cutoff has not passed yet")
	ErrAlreadyApproved   = errors.New("ledger: party already approved")
	ErrNotApproved       = errors.New("ledger: party has not approved")
	ErrNotInvolved       = errors.New("ledger: party appears in no flow")
	ErrNotFullyApproved  = errors.New("ledger: not all senders have approved")
	ErrNettingRequired   = errors.New("ledger: settlement must be executed in netted form")
	ErrDirectOnly        = errors.New("ledger: settlement has no netted flow set")
	ErrNothingToWithdraw = errors.New("ledger: no escrow to withdraw")
	ErrNotCreator        = errors.New("ledger: only the creator may replace netted flows")
)

// Netting-equivalence failures. Rejected during netted execution or
// netted-flow registration, no state change.
var (
	ErrNotEquivalentNettedFlows  = errors.New("ledger: netted flows do not match original net balances")
	ErrUnknownPartyInNettedFlow  = errors.New("ledger: netted flow references an unknown party")
	ErrUnknownAssetInNettedFlow  = errors.New("ledger: netted flow references an unknown asset")
	ErrZeroAmountNettedFlow      = errors.New("ledger: netted flow moves a zero amount")
	ErrSelfTransferNettedFlow    = errors.New("ledger: netted flow sends an asset back to its sender")
	ErrGrossMovementInNettedFlow = errors.New("ledger: netted flow set contains offsetting gross movements")
)

// ErrReentrantCall rejects a callback that re-enters a protected entry point
// while a top-level call is in flight. Aborts the re-entrant call only.
var ErrReentrantCall = errors.New("ledger: re-entrant call rejected")

// IncorrectDepositError reports a batch approval whose supplied native deposit
// does not exactly match the sum required across all settlements in the call.
type IncorrectDepositError struct {
	Actual   uint64
	Expected uint64
}

func (e *IncorrectDepositError) Error() string {
	return fmt.Sprintf("ledger: incorrect deposit: got %d, need %d", e.Actual, e.Expected)
}

// TransferError wraps an external-asset failure surfaced during execution.
// The settlement attempt it occurred in is aborted atomically.
type TransferError struct {
	Flow Flow
	Err  error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("ledger: transfer of %s asset from %s to %s failed: %v",
		e.Flow.Asset.Kind, e.Flow.From, e.Flow.To, e.Err)
}

func (e *TransferError) Unwrap() error { return e.Err }
