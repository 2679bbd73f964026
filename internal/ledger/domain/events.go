package ledger

import "time"

// Domain events. At-least-informational: ledger state stays authoritative.

// SettlementCreated is published when a settlement is stored.
type SettlementCreated struct {
	SettlementID uint64    `json:"settlement_id"`
	Creator      Party     `json:"creator"`
	Reference    string    `json:"reference"`
	FlowCount    int       `json:"flow_count"`
	AutoSettle   bool      `json:"auto_settle"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Approved is published per settlement when a party's approval is recorded.
type Approved struct {
	SettlementID uint64    `json:"settlement_id"`
	Party        Party     `json:"party"`
	Deposited    uint64    `json:"deposited"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// ApprovalRevoked is published when a party revokes an approval.
type ApprovalRevoked struct {
	SettlementID uint64    `json:"settlement_id"`
	Party        Party     `json:"party"`
	Refunded     uint64    `json:"refunded"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Executed is published when a settlement completes, directly or netted.
type Executed struct {
	SettlementID uint64    `json:"settlement_id"`
	Netted       bool      `json:"netted"`
	FlowCount    int       `json:"flow_count"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Auto-execution failure classes. The triggering approval batch commits
// regardless; the settlement stays approved and executable later.
const (
	AutoFailReason = "reason" // a checked execution error
	AutoFailFault  = "fault"  // an internal runtime fault (recovered panic)
	AutoFailOther  = "other"  // anything else
)

// AutoExecutionFailed is published when execution triggered by the final
// approval fails inside the isolation wrapper.
type AutoExecutionFailed struct {
	SettlementID uint64    `json:"settlement_id"`
	TriggeredBy  Party     `json:"triggered_by"`
	Class        string    `json:"class"`
	Detail       string    `json:"detail"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// SettlementRef ties an event to its settlement for envelope stamping.
// NativeReceived and NativeWithdrawn are party-scoped and carry none.

func (e SettlementCreated) SettlementRef() uint64 { return e.SettlementID }

func (e Approved) SettlementRef() uint64 { return e.SettlementID }

func (e ApprovalRevoked) SettlementRef() uint64 { return e.SettlementID }

func (e Executed) SettlementRef() uint64 { return e.SettlementID }

func (e AutoExecutionFailed) SettlementRef() uint64 { return e.SettlementID }

// NativeReceived is published once per approval call for the aggregate
// deposit taken into escrow.
type NativeReceived struct {
	Party      Party     `json:"party"`
	Amount     uint64    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NativeWithdrawn is published when escrow leaves the ledger, via revoke,
// withdraw, execution payout or post-netting refund.
type NativeWithdrawn struct {
	Party      Party     `json:"party"`
	Amount     uint64    `json:"amount"`
	OccurredAt time.Time `json:"occurred_at"`
}
