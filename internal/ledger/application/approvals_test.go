package application

import (
	"context"
	"errors"
	"testing"
	"time"

	ledger "dvp-ledger/internal/ledger/domain"
)

func (f *fixture) mustCreate(t *testing.T, creator ledger.Party, req CreateRequest) uint64 {
	t.Helper()
	if req.Cutoff.IsZero() {
		req.Cutoff = f.cutoff()
	}
	id, err := f.engine.Create(context.Background(), creator, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return id
}

func (f *fixture) mustApprove(t *testing.T, caller ledger.Party, ids []uint64, deposit uint64) {
	t.Helper()
	if err := f.engine.Approve(context.Background(), caller, ids, deposit); err != nil {
		t.Fatalf("approve %s: %v", caller, err)
	}
}

func TestApprove_ExactDepositRequired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(100, "alice", "bob")}})

	err := f.engine.Approve(ctx, "alice", []uint64{id}, 50)
	var depErr *ledger.IncorrectDepositError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected IncorrectDepositError, got %v", err)
	}
	if depErr.Actual != 50 || depErr.Expected != 100 {
		t.Fatalf("expected actual=50 expected=100, got %+v", depErr)
	}
	if held := f.vault.Held(); held != 0 {
		t.Fatalf("rejected approval must not take escrow, held=%d", held)
	}

	f.mustApprove(t, "alice", []uint64{id}, 100)
	s, _ := f.engine.GetSettlement(ctx, id)
	if !s.Approvals["alice"] || s.Escrow["alice"] != 100 {
		t.Fatalf("expected approval with escrow 100, got %+v", s)
	}
	if held := f.vault.Held(); held != 100 {
		t.Fatalf("expected vault held 100, got %d", held)
	}
}

func TestApprove_SecondApprovalRejected(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 10)

	if err := f.engine.Approve(context.Background(), "alice", []uint64{id}, 10); !errors.Is(err, ledger.ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved, got %v", err)
	}
}

func TestApprove_UninvolvedPartyRejected(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})

	if err := f.engine.Approve(context.Background(), "mallory", []uint64{id}, 0); !errors.Is(err, ledger.ErrNotInvolved) {
		t.Fatalf("expected ErrNotInvolved, got %v", err)
	}
}

func TestApprove_RecipientApprovesWithZeroDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})

	f.mustApprove(t, "bob", []uint64{id}, 0)

	// Receive-only approvals never count toward full approval.
	done, err := f.engine.IsFullyApproved(ctx, id)
	if err != nil {
		t.Fatalf("fully approved: %v", err)
	}
	if done {
		t.Fatalf("recipient approval must not complete the settlement")
	}

	f.mustApprove(t, "alice", []uint64{id}, 10)
	if done, _ = f.engine.IsFullyApproved(ctx, id); !done {
		t.Fatalf("expected fully approved after sender approval")
	}
}

func TestApprove_NettedDepositIsNetObligation(t *testing.T) {
	f := newFixture(t)
	flows := []ledger.Flow{
		native(100, "alice", "bob"),
		native(40, "bob", "alice"),
	}
	id := f.mustCreate(t, "alice", CreateRequest{
		Flows:          flows,
		NettingEnabled: true,
		NettedFlows:    []ledger.Flow{native(60, "alice", "bob")},
	})

	// alice owes 100 gross but only 60 net; bob nets to zero.
	err := f.engine.Approve(context.Background(), "alice", []uint64{id}, 100)
	var depErr *ledger.IncorrectDepositError
	if !errors.As(err, &depErr) || depErr.Expected != 60 {
		t.Fatalf("expected IncorrectDepositError with expected=60, got %v", err)
	}
	f.mustApprove(t, "alice", []uint64{id}, 60)
	f.mustApprove(t, "bob", []uint64{id}, 0)

	if held := f.vault.Held(); held != 60 {
		t.Fatalf("expected vault held 60, got %d", held)
	}
}

func TestApprove_BatchIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(30, "alice", "bob")}})

	err := f.engine.Approve(ctx, "alice", []uint64{first, 99}, 30)
	if !errors.Is(err, ledger.ErrNoSuchSettlement) {
		t.Fatalf("expected ErrNoSuchSettlement, got %v", err)
	}
	s, _ := f.engine.GetSettlement(ctx, first)
	if s.Approvals["alice"] || len(s.Escrow) != 0 {
		t.Fatalf("failed batch must leave valid targets untouched, got %+v", s)
	}
	if held := f.vault.Held(); held != 0 {
		t.Fatalf("failed batch must not take escrow, held=%d", held)
	}
}

func TestApprove_BatchAggregatesDeposit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(30, "alice", "bob")}})
	second := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(70, "alice", "carol")}})

	f.mustApprove(t, "alice", []uint64{first, second}, 100)

	s1, _ := f.engine.GetSettlement(ctx, first)
	s2, _ := f.engine.GetSettlement(ctx, second)
	if s1.Escrow["alice"] != 30 || s2.Escrow["alice"] != 70 {
		t.Fatalf("expected per-settlement escrow 30/70, got %d/%d", s1.Escrow["alice"], s2.Escrow["alice"])
	}
	if held := f.vault.Held(); held != 100 {
		t.Fatalf("expected vault held 100, got %d", held)
	}

	// One aggregate receipt for the batch, one approval event per settlement.
	received := f.bus.byType(func(e any) bool { _, ok := e.(ledger.NativeReceived); return ok })
	if len(received) != 1 {
		t.Fatalf("expected 1 NativeReceived event, got %d", len(received))
	}
	approved := f.bus.byType(func(e any) bool { _, ok := e.(ledger.Approved); return ok })
	if len(approved) != 2 {
		t.Fatalf("expected 2 Approved events, got %d", len(approved))
	}
}

func TestApprove_DuplicateIDInBatch(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})

	if err := f.engine.Approve(context.Background(), "alice", []uint64{id, id}, 20); !errors.Is(err, ledger.ErrAlreadyApproved) {
		t.Fatalf("expected ErrAlreadyApproved for duplicate id, got %v", err)
	}
}

func TestApprove_RejectedAfterCutoff(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if err := f.engine.Approve(context.Background(), "alice", []uint64{id}, 10); !errors.Is(err, ledger.ErrCutoffPassed) {
		t.Fatalf("expected ErrCutoffPassed, got %v", err)
	}
}

func TestRevoke_RefundsEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(100, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 100)

	if err := f.engine.Revoke(ctx, "alice", []uint64{id}); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Approvals["alice"] || len(s.Escrow) != 0 {
		t.Fatalf("expected approval and escrow cleared, got %+v", s)
	}
	if held := f.vault.Held(); held != 0 {
		t.Fatalf("expected vault empty after refund, held=%d", held)
	}
	if balance := f.vault.PayoutBalance("alice"); balance != 100 {
		t.Fatalf("expected alice refunded 100, got %d", balance)
	}

	revoked := f.bus.byType(func(e any) bool { _, ok := e.(ledger.ApprovalRevoked); return ok })
	if len(revoked) != 1 {
		t.Fatalf("expected 1 ApprovalRevoked event, got %d", len(revoked))
	}
	if evt := revoked[0].(ledger.ApprovalRevoked); evt.Refunded != 100 {
		t.Fatalf("expected Refunded=100, got %d", evt.Refunded)
	}
}

func TestRevoke_AllowedAfterCutoff(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(50, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 50)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if err := f.engine.Revoke(context.Background(), "alice", []uint64{id}); err != nil {
		t.Fatalf("revoke after cutoff: %v", err)
	}
	if balance := f.vault.PayoutBalance("alice"); balance != 50 {
		t.Fatalf("expected refund 50, got %d", balance)
	}
}

func TestRevoke_WithoutApproval(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})

	if err := f.engine.Revoke(context.Background(), "alice", []uint64{id}); !errors.Is(err, ledger.ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
}

func TestRevoke_FailedRefundRestoresBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(100, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 100)

	pushErr := errors.New("recipient unavailable")
	f.vault.RecipientHook = func(context.Context, ledger.Party, uint64) error { return pushErr }

	if err := f.engine.Revoke(ctx, "alice", []uint64{id}); !errors.Is(err, pushErr) {
		t.Fatalf("expected push error surfaced, got %v", err)
	}
	s, _ := f.engine.GetSettlement(ctx, id)
	if !s.Approvals["alice"] || s.Escrow["alice"] != 100 {
		t.Fatalf("failed refund must restore approval and escrow, got %+v", s)
	}
	if held := f.vault.Held(); held != 100 {
		t.Fatalf("expected escrow still held, got %d", held)
	}
}

func TestWithdraw_RequiresExpiredCutoff(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(40, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 40)

	if err := f.engine.Withdraw(context.Background(), "alice", id); !errors.Is(err, ledger.ErrCutoffNotPassed) {
		t.Fatalf("expected ErrCutoffNotPassed, got %v", err)
	}
}

func TestWithdraw_RefundsAndKeepsApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(40, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 40)

	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if err := f.engine.Withdraw(ctx, "alice", id); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	s, _ := f.engine.GetSettlement(ctx, id)
	if !s.Approvals["alice"] {
		t.Fatalf("withdraw must keep the approval flag")
	}
	if len(s.Escrow) != 0 {
		t.Fatalf("expected escrow cleared, got %+v", s.Escrow)
	}
	if balance := f.vault.PayoutBalance("alice"); balance != 40 {
		t.Fatalf("expected refund 40, got %d", balance)
	}

	if err := f.engine.Withdraw(ctx, "alice", id); !errors.Is(err, ledger.ErrNothingToWithdraw) {
		t.Fatalf("expected ErrNothingToWithdraw on second call, got %v", err)
	}
}
