package application

import (
	"context"
	"errors"
	"testing"
	"time"

	ledger "dvp-ledger/internal/ledger/domain"
)

func TestExecuteDirect_MovesAllAssets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("alice", 50)
	f.token.Approve("alice", 50)
	f.nft.Mint(7, "bob")
	f.nft.Authorize(7)

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{
		native(100, "alice", "bob"),
		fungibleFlow(50, "alice", "bob"),
		uniqueFlow(7, "bob", "alice"),
	}})
	f.mustApprove(t, "alice", []uint64{id}, 100)
	f.mustApprove(t, "bob", []uint64{id}, 0)

	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if balance := f.vault.PayoutBalance("bob"); balance != 100 {
		t.Fatalf("expected bob paid 100, got %d", balance)
	}
	if held := f.vault.Held(); held != 0 {
		t.Fatalf("expected no escrow left, held=%d", held)
	}
	if balance, _ := f.token.BalanceOf(ctx, "bob"); balance != 50 {
		t.Fatalf("expected bob token balance 50, got %d", balance)
	}
	if owner, _ := f.nft.OwnerOf(ctx, 7); owner != "alice" {
		t.Fatalf("expected alice owns id 7, got %s", owner)
	}

	s, _ := f.engine.GetSettlement(ctx, id)
	if !s.Executed || s.ExecutedAt.IsZero() || len(s.Escrow) != 0 {
		t.Fatalf("expected executed settlement with cleared escrow, got %+v", s)
	}

	executed := f.bus.byType(func(e any) bool { _, ok := e.(ledger.Executed); return ok })
	if len(executed) != 1 {
		t.Fatalf("expected 1 Executed event, got %d", len(executed))
	}
	if evt := executed[0].(ledger.Executed); evt.Netted || evt.FlowCount != 3 {
		t.Fatalf("unexpected Executed event: %+v", evt)
	}
}

func TestExecuteDirect_Preconditions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.engine.ExecuteDirect(ctx, 42); !errors.Is(err, ledger.ErrNoSuchSettlement) {
		t.Fatalf("expected ErrNoSuchSettlement, got %v", err)
	}

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})
	if err := f.engine.ExecuteDirect(ctx, id); !errors.Is(err, ledger.ErrNotFullyApproved) {
		t.Fatalf("expected ErrNotFullyApproved, got %v", err)
	}

	f.mustApprove(t, "alice", []uint64{id}, 10)
	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if err := f.engine.ExecuteDirect(ctx, id); !errors.Is(err, ledger.ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}

	late := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{late}, 10)
	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if err := f.engine.ExecuteDirect(ctx, late); !errors.Is(err, ledger.ErrCutoffPassed) {
		t.Fatalf("expected ErrCutoffPassed, got %v", err)
	}
}

func TestExecuteDirect_RejectsNettingEnabled(t *testing.T) {
	f := newFixture(t)
	flows := []ledger.Flow{
		native(100, "alice", "bob"),
		native(100, "bob", "carol"),
	}
	id := f.mustCreate(t, "alice", CreateRequest{
		Flows:          flows,
		NettingEnabled: true,
		NettedFlows:    []ledger.Flow{native(100, "alice", "carol")},
	})
	f.mustApprove(t, "alice", []uint64{id}, 100)
	f.mustApprove(t, "bob", []uint64{id}, 0)

	if err := f.engine.ExecuteDirect(context.Background(), id); !errors.Is(err, ledger.ErrNettingRequired) {
		t.Fatalf("expected ErrNettingRequired, got %v", err)
	}
}

func TestExecuteDirect_FailureUnwindsEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("alice", 50)
	f.token.Approve("alice", 50)

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{
		native(100, "alice", "bob"),
		fungibleFlow(50, "alice", "bob"),
	}})
	f.mustApprove(t, "alice", []uint64{id}, 100)

	// The native payout lands first; the token transfer then fails and must
	// drag the payout back with it.
	transferErr := errors.New("contract halted")
	f.token.TransferHook = func(context.Context, ledger.Party, ledger.Party, uint64) error { return transferErr }

	err := f.engine.ExecuteDirect(ctx, id)
	var terr *ledger.TransferError
	if !errors.As(err, &terr) || !errors.Is(err, transferErr) {
		t.Fatalf("expected TransferError wrapping contract error, got %v", err)
	}

	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Executed {
		t.Fatalf("failed execution must not mark executed")
	}
	if s.Escrow["alice"] != 100 {
		t.Fatalf("expected escrow restored to 100, got %d", s.Escrow["alice"])
	}
	if held := f.vault.Held(); held != 100 {
		t.Fatalf("expected vault held restored to 100, got %d", held)
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 0 {
		t.Fatalf("expected bob payout reverted, got %d", balance)
	}
	if balance, _ := f.token.BalanceOf(ctx, "alice"); balance != 50 {
		t.Fatalf("expected alice token balance restored, got %d", balance)
	}

	// The settlement stays approved and retryable.
	f.token.TransferHook = nil
	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("retry after fix: %v", err)
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 100 {
		t.Fatalf("expected bob paid 100 on retry, got %d", balance)
	}
}

func TestExecuteNetted_UsesStoredPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{
		Flows: []ledger.Flow{
			native(100, "alice", "bob"),
			native(100, "bob", "carol"),
		},
		NettingEnabled: true,
		NettedFlows:    []ledger.Flow{native(100, "alice", "carol")},
	})
	f.mustApprove(t, "alice", []uint64{id}, 100)
	f.mustApprove(t, "bob", []uint64{id}, 0)

	if err := f.engine.ExecuteNetted(ctx, id, nil); err != nil {
		t.Fatalf("execute netted: %v", err)
	}
	if balance := f.vault.PayoutBalance("carol"); balance != 100 {
		t.Fatalf("expected carol paid 100, got %d", balance)
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 0 {
		t.Fatalf("flat party must receive nothing, got %d", balance)
	}
	if held := f.vault.Held(); held != 0 {
		t.Fatalf("expected no escrow left, held=%d", held)
	}

	executed := f.bus.byType(func(e any) bool { _, ok := e.(ledger.Executed); return ok })
	if len(executed) != 1 {
		t.Fatalf("expected 1 Executed event, got %d", len(executed))
	}
	if evt := executed[0].(ledger.Executed); !evt.Netted || evt.FlowCount != 1 {
		t.Fatalf("unexpected Executed event: %+v", evt)
	}
}

func TestExecuteNetted_RefundsResidualEscrow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// alice escrows the gross 100 before netting is registered; once the net
	// plan of 60 settles, the surplus 40 comes back to her.
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{
		native(100, "alice", "bob"),
		native(40, "bob", "alice"),
	}})
	f.mustApprove(t, "alice", []uint64{id}, 100)
	if err := f.engine.SetNettedFlows(ctx, "alice", id, []ledger.Flow{native(60, "alice", "bob")}); err != nil {
		t.Fatalf("set netted flows: %v", err)
	}
	f.mustApprove(t, "bob", []uint64{id}, 0)

	if err := f.engine.ExecuteNetted(ctx, id, nil); err != nil {
		t.Fatalf("execute netted: %v", err)
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 60 {
		t.Fatalf("expected bob paid 60, got %d", balance)
	}
	if balance := f.vault.PayoutBalance("alice"); balance != 40 {
		t.Fatalf("expected alice refunded 40, got %d", balance)
	}
	if held := f.vault.Held(); held != 0 {
		t.Fatalf("escrow must be fully drained, held=%d", held)
	}
}

func TestExecuteNetted_RequiresNettingEnabled(t *testing.T) {
	f := newFixture(t)
	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 10)

	if err := f.engine.ExecuteNetted(context.Background(), id, nil); !errors.Is(err, ledger.ErrDirectOnly) {
		t.Fatalf("expected ErrDirectOnly, got %v", err)
	}
}

func TestExecuteNetted_ValidatesSuppliedPlan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{
		Flows: []ledger.Flow{
			native(100, "alice", "bob"),
			native(100, "bob", "carol"),
		},
		NettingEnabled: true,
		NettedFlows:    []ledger.Flow{native(100, "alice", "carol")},
	})
	f.mustApprove(t, "alice", []uint64{id}, 100)
	f.mustApprove(t, "bob", []uint64{id}, 0)

	err := f.engine.ExecuteNetted(ctx, id, []ledger.Flow{native(90, "alice", "carol")})
	if !errors.Is(err, ledger.ErrNotEquivalentNettedFlows) {
		t.Fatalf("expected ErrNotEquivalentNettedFlows, got %v", err)
	}
	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Executed {
		t.Fatalf("invalid plan must not execute")
	}
}

func TestAutoSettle_ExecutesOnFinalApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("bob", 20)
	f.token.Approve("bob", 20)

	id := f.mustCreate(t, "alice", CreateRequest{
		AutoSettle: true,
		Flows: []ledger.Flow{
			native(50, "alice", "bob"),
			fungibleFlow(20, "bob", "alice"),
		},
	})

	f.mustApprove(t, "alice", []uint64{id}, 50)
	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Executed {
		t.Fatalf("partial approval must not trigger execution")
	}

	f.mustApprove(t, "bob", []uint64{id}, 0)
	s, _ = f.engine.GetSettlement(ctx, id)
	if !s.Executed {
		t.Fatalf("final approval must trigger auto execution")
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 50 {
		t.Fatalf("expected bob paid 50, got %d", balance)
	}
	if balance, _ := f.token.BalanceOf(ctx, "alice"); balance != 20 {
		t.Fatalf("expected alice token balance 20, got %d", balance)
	}
}

func TestAutoSettle_FailureKeepsApproval(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("bob", 20)
	f.token.Approve("bob", 20)
	transferErr := errors.New("contract halted")
	f.token.TransferHook = func(context.Context, ledger.Party, ledger.Party, uint64) error { return transferErr }

	id := f.mustCreate(t, "alice", CreateRequest{
		AutoSettle: true,
		Flows: []ledger.Flow{
			native(50, "alice", "bob"),
			fungibleFlow(20, "bob", "alice"),
		},
	})
	f.mustApprove(t, "alice", []uint64{id}, 50)

	// The triggering approval commits even though execution fails inside the
	// isolation wrapper.
	f.mustApprove(t, "bob", []uint64{id}, 0)

	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Executed {
		t.Fatalf("failed auto execution must not mark executed")
	}
	if !s.Approvals["bob"] || !s.Approvals["alice"] {
		t.Fatalf("approvals must survive the failure, got %+v", s.Approvals)
	}
	if s.Escrow["alice"] != 50 {
		t.Fatalf("expected escrow intact, got %d", s.Escrow["alice"])
	}

	failures := f.bus.byType(func(e any) bool { _, ok := e.(ledger.AutoExecutionFailed); return ok })
	if len(failures) != 1 {
		t.Fatalf("expected 1 AutoExecutionFailed event, got %d", len(failures))
	}
	evt := failures[0].(ledger.AutoExecutionFailed)
	if evt.Class != ledger.AutoFailReason || evt.TriggeredBy != "bob" {
		t.Fatalf("unexpected failure event: %+v", evt)
	}

	// Manual execution works once the contract recovers.
	f.token.TransferHook = nil
	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("manual retry: %v", err)
	}
}

func TestAutoSettle_PanicIsContained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("alice", 20)
	f.token.Approve("alice", 20)
	f.token.TransferHook = func(context.Context, ledger.Party, ledger.Party, uint64) error {
		panic("contract adapter bug")
	}

	id := f.mustCreate(t, "alice", CreateRequest{
		AutoSettle: true,
		Flows:      []ledger.Flow{fungibleFlow(20, "alice", "bob")},
	})
	if err := f.engine.Approve(ctx, "alice", []uint64{id}, 0); err != nil {
		t.Fatalf("approve must not surface the panic, got %v", err)
	}

	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Executed || !s.Approvals["alice"] {
		t.Fatalf("expected unexecuted settlement with approval intact, got %+v", s)
	}
	failures := f.bus.byType(func(e any) bool { _, ok := e.(ledger.AutoExecutionFailed); return ok })
	if len(failures) != 1 {
		t.Fatalf("expected 1 AutoExecutionFailed event, got %d", len(failures))
	}
	if evt := failures[0].(ledger.AutoExecutionFailed); evt.Class != ledger.AutoFailFault {
		t.Fatalf("expected fault class, got %+v", evt)
	}
}

func TestAutoSettle_PanicMidSettlementUnwinds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("alice", 20)
	f.token.Approve("alice", 20)
	f.token.TransferHook = func(context.Context, ledger.Party, ledger.Party, uint64) error {
		panic("contract adapter bug")
	}

	// The native payout lands before the token transfer panics; the fault
	// must drag the payout and the escrow debit back with it.
	id := f.mustCreate(t, "alice", CreateRequest{
		AutoSettle: true,
		Flows: []ledger.Flow{
			native(50, "alice", "bob"),
			fungibleFlow(20, "alice", "bob"),
		},
	})
	if err := f.engine.Approve(ctx, "alice", []uint64{id}, 50); err != nil {
		t.Fatalf("approve must not surface the panic, got %v", err)
	}

	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Executed {
		t.Fatalf("faulted execution must not mark executed")
	}
	if s.Escrow["alice"] != 50 {
		t.Fatalf("expected escrow restored to 50, got %d", s.Escrow["alice"])
	}
	if held := f.vault.Held(); held != 50 {
		t.Fatalf("expected vault held restored to 50, got %d", held)
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 0 {
		t.Fatalf("expected bob payout reverted, got %d", balance)
	}
	failures := f.bus.byType(func(e any) bool { _, ok := e.(ledger.AutoExecutionFailed); return ok })
	if len(failures) != 1 {
		t.Fatalf("expected 1 AutoExecutionFailed event, got %d", len(failures))
	}
	if evt := failures[0].(ledger.AutoExecutionFailed); evt.Class != ledger.AutoFailFault {
		t.Fatalf("expected fault class, got %+v", evt)
	}

	// The settlement stays approved and settles once the contract recovers.
	f.token.TransferHook = nil
	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("retry after fix: %v", err)
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 50 {
		t.Fatalf("expected bob paid 50 on retry, got %d", balance)
	}
}

func TestExecuteDirect_PanicUnwindsBeforePropagating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("alice", 20)
	f.token.Approve("alice", 20)

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{
		native(50, "alice", "bob"),
		fungibleFlow(20, "alice", "bob"),
	}})
	f.mustApprove(t, "alice", []uint64{id}, 50)
	f.token.TransferHook = func(context.Context, ledger.Party, ledger.Party, uint64) error {
		panic("contract adapter bug")
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate to the direct caller")
			}
		}()
		_ = f.engine.ExecuteDirect(ctx, id)
	}()

	s, _ := f.engine.GetSettlement(ctx, id)
	if s.Executed || s.Escrow["alice"] != 50 {
		t.Fatalf("expected unexecuted settlement with escrow intact, got %+v", s)
	}
	if held := f.vault.Held(); held != 50 {
		t.Fatalf("expected vault held restored to 50, got %d", held)
	}
	if balance := f.vault.PayoutBalance("bob"); balance != 0 {
		t.Fatalf("expected bob payout reverted, got %d", balance)
	}

	// The guard must have been released on the way out.
	f.token.TransferHook = nil
	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("retry after fix: %v", err)
	}
}

func TestExecute_ExecutedBeatsCutoff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})
	f.mustApprove(t, "alice", []uint64{id}, 10)
	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("execute: %v", err)
	}

	// Executed is a terminal state: it keeps reporting AlreadyExecuted even
	// after the cutoff passes.
	f.clock.now = f.clock.now.Add(2 * time.Hour)
	if err := f.engine.ExecuteDirect(ctx, id); !errors.Is(err, ledger.ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}
	if err := f.engine.ExecuteNetted(ctx, id, nil); !errors.Is(err, ledger.ErrAlreadyExecuted) {
		t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
	}
}

func TestExecution_ReentrantCallbackRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(30, "alice", "bob")}})
	other := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "bob", "alice")}})
	f.mustApprove(t, "alice", []uint64{id}, 30)

	// A recipient credited during execution tries to re-enter the engine with
	// the in-call context. The nested call must bounce; the outer one settles.
	var nestedErr error
	f.vault.RecipientHook = func(hookCtx context.Context, to ledger.Party, _ uint64) error {
		if to == "bob" {
			nestedErr = f.engine.Approve(hookCtx, "bob", []uint64{other}, 0)
		}
		return nil
	}

	if err := f.engine.ExecuteDirect(ctx, id); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !errors.Is(nestedErr, ledger.ErrReentrantCall) {
		t.Fatalf("expected nested call rejected with ErrReentrantCall, got %v", nestedErr)
	}

	s, _ := f.engine.GetSettlement(ctx, other)
	if s.Approvals["bob"] {
		t.Fatalf("rejected reentrant approval must leave no trace")
	}
}
