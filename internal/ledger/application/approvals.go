package application

import (
	"context"
	"time"

	ledger "dvp-ledger/internal/ledger/domain"
	"dvp-ledger/internal/observability/metrics"
)

// Approve records the caller's approval on every listed settlement in one
// atomic batch. The supplied deposit must exactly equal the sum of the
// caller's required deposits across the batch; any precondition failure on
// any id rejects the whole call before state changes. When an approval
// completes a settlement marked for auto-settlement, execution is attempted
// inside the isolation wrapper after the batch commits.
func (e *Engine) Approve(ctx context.Context, caller ledger.Party, ids []uint64, deposit uint64) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("approve", result, time.Since(start))
	}()

	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	defer release()

	now := e.clock.Now()

	// Validate the whole batch before touching anything. A duplicate id in
	// the batch fails as an already-recorded approval.
	var required uint64
	seen := make(map[uint64]bool, len(ids))
	targets := make([]*ledger.Settlement, 0, len(ids))
	for _, id := range ids {
		s, ok := e.arena.Get(id)
		if !ok {
			result = metrics.ResultError
			return ledger.ErrNoSuchSettlement
		}
		if s.Executed {
			result = metrics.ResultError
			return ledger.ErrAlreadyExecuted
		}
		if s.Expired(now) {
			result = metrics.ResultError
			return ledger.ErrCutoffPassed
		}
		if s.Approvals[caller] || seen[id] {
			result = metrics.ResultError
			return ledger.ErrAlreadyApproved
		}
		if !s.Involved(caller) {
			result = metrics.ResultError
			return ledger.ErrNotInvolved
		}
		seen[id] = true
		required += s.RequiredDeposit(caller)
		targets = append(targets, s)
	}
	if deposit != required {
		result = metrics.ResultError
		return &ledger.IncorrectDepositError{Actual: deposit, Expected: required}
	}

	// One aggregate deposit for the batch. The vault pulls from the caller;
	// failure there leaves every settlement untouched.
	if deposit > 0 {
		if err := e.vault.Deposit(ctx, caller, deposit); err != nil {
			result = metrics.ResultError
			return err
		}
	}

	for _, s := range targets {
		s.Approvals[caller] = true
		s.Escrow[caller] += s.RequiredDeposit(caller)
		e.record(ctx, s)
		e.publish(ctx, ledger.Approved{
			SettlementID: s.ID,
			Party:        caller,
			Deposited:    s.RequiredDeposit(caller),
			OccurredAt:   now,
		})
	}
	if deposit > 0 {
		e.publish(ctx, ledger.NativeReceived{Party: caller, Amount: deposit, OccurredAt: now})
	}

	// Auto-settlement runs after every approval in the batch is committed.
	// Failures are contained: the approvals above stand regardless.
	for _, s := range targets {
		if s.AutoSettle && !s.Executed && s.FullyApproved() {
			e.runIsolatedExecution(ctx, s, caller)
		}
	}
	return nil
}

// Revoke withdraws the caller's approval from every listed settlement and
// refunds the escrow taken for them, in one atomic batch. Revocation is
// allowed any time before execution, including after the cutoff.
func (e *Engine) Revoke(ctx context.Context, caller ledger.Party, ids []uint64) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("revoke", result, time.Since(start))
	}()

	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	defer release()

	now := e.clock.Now()

	seen := make(map[uint64]bool, len(ids))
	targets := make([]*ledger.Settlement, 0, len(ids))
	refunds := make([]uint64, 0, len(ids))
	var refund uint64
	for _, id := range ids {
		s, ok := e.arena.Get(id)
		if !ok {
			result = metrics.ResultError
			return ledger.ErrNoSuchSettlement
		}
		if s.Executed {
			result = metrics.ResultError
			return ledger.ErrAlreadyExecuted
		}
		if !s.Approvals[caller] || seen[id] {
			result = metrics.ResultError
			return ledger.ErrNotApproved
		}
		seen[id] = true
		refund += s.Escrow[caller]
		refunds = append(refunds, s.Escrow[caller])
		targets = append(targets, s)
	}

	// Apply before pushing: the refund push can hand control to caller code,
	// and the ledger must already reflect the revocation when it does. If the
	// push fails the whole batch is restored.
	restore := e.snapshotRecords(targets)
	for _, s := range targets {
		delete(s.Approvals, caller)
		delete(s.Escrow, caller)
	}
	if refund > 0 {
		if err := e.vault.Push(ctx, caller, refund); err != nil {
			restore()
			result = metrics.ResultError
			return err
		}
	}

	for i, s := range targets {
		e.record(ctx, s)
		e.publish(ctx, ledger.ApprovalRevoked{
			SettlementID: s.ID,
			Party:        caller,
			Refunded:     refunds[i],
			OccurredAt:   now,
		})
	}
	if refund > 0 {
		e.publish(ctx, ledger.NativeWithdrawn{Party: caller, Amount: refund, OccurredAt: now})
	}
	return nil
}

// Withdraw reclaims the caller's escrow from an expired, unexecuted
// settlement. The approval flag itself is left in place; only the money
// comes back.
func (e *Engine) Withdraw(ctx context.Context, caller ledger.Party, id uint64) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("withdraw", result, time.Since(start))
	}()

	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	defer release()

	s, ok := e.arena.Get(id)
	if !ok {
		result = metrics.ResultError
		return ledger.ErrNoSuchSettlement
	}
	if s.Executed {
		result = metrics.ResultError
		return ledger.ErrAlreadyExecuted
	}
	if !s.Expired(e.clock.Now()) {
		result = metrics.ResultError
		return ledger.ErrCutoffNotPassed
	}
	amount := s.Escrow[caller]
	if amount == 0 {
		result = metrics.ResultError
		return ledger.ErrNothingToWithdraw
	}

	restore := e.snapshotRecords([]*ledger.Settlement{s})
	delete(s.Escrow, caller)
	if err := e.vault.Push(ctx, caller, amount); err != nil {
		restore()
		result = metrics.ResultError
		return err
	}

	now := e.clock.Now()
	e.record(ctx, s)
	e.publish(ctx, ledger.NativeWithdrawn{Party: caller, Amount: amount, OccurredAt: now})
	return nil
}

// snapshotRecords captures the mutable approval and escrow state of the given
// records and returns a closure restoring all of them.
func (e *Engine) snapshotRecords(records []*ledger.Settlement) func() {
	type saved struct {
		target     *ledger.Settlement
		approvals  map[ledger.Party]bool
		escrow     map[ledger.Party]uint64
		executed   bool
		executedAt time.Time
	}
	snaps := make([]saved, 0, len(records))
	for _, s := range records {
		approvals := make(map[ledger.Party]bool, len(s.Approvals))
		for p, v := range s.Approvals {
			approvals[p] = v
		}
		escrow := make(map[ledger.Party]uint64, len(s.Escrow))
		for p, v := range s.Escrow {
			escrow[p] = v
		}
		snaps = append(snaps, saved{target: s, approvals: approvals, escrow: escrow, executed: s.Executed, executedAt: s.ExecutedAt})
	}
	return func() {
		for _, snap := range snaps {
			snap.target.Approvals = snap.approvals
			snap.target.Escrow = snap.escrow
			snap.target.Executed = snap.executed
			snap.target.ExecutedAt = snap.executedAt
		}
	}
}
