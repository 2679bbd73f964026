package application

import (
	"context"
	"errors"
	"testing"

	ledger "dvp-ledger/internal/ledger/domain"
)

func TestPartyStatus_AggregatesFungibleRequirements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.token.Mint("alice", 70)
	f.token.Approve("alice", 30)

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{
		native(100, "alice", "bob"),
		fungibleFlow(30, "alice", "bob"),
		fungibleFlow(40, "alice", "carol"),
	}})

	status, err := f.engine.PartyStatus(ctx, id, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Approved || status.NativeRequired != 100 || status.NativeDeposited != 0 {
		t.Fatalf("unexpected native view: %+v", status)
	}
	if len(status.Assets) != 1 {
		t.Fatalf("expected one aggregated fungible entry, got %d", len(status.Assets))
	}
	asset := status.Assets[0]
	if asset.Required != 70 || asset.Balance != 70 || asset.Authorized != 30 {
		t.Fatalf("unexpected fungible view: %+v", asset)
	}
	// Balance suffices but the allowance does not cover the aggregate.
	if asset.Ready {
		t.Fatalf("expected not ready with allowance 30 of 70")
	}

	f.token.Approve("alice", 70)
	status, _ = f.engine.PartyStatus(ctx, id, "alice")
	if !status.Assets[0].Ready {
		t.Fatalf("expected ready once allowance covers the aggregate")
	}
}

func TestPartyStatus_UniqueOwnershipAndAuthorization(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.nft.Mint(5, "bob")

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{
		uniqueFlow(5, "alice", "bob"),
	}})

	status, err := f.engine.PartyStatus(ctx, id, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	asset := status.Assets[0]
	if asset.Ready || asset.Detail != "asset not owned by party" {
		t.Fatalf("expected ownership failure detail, got %+v", asset)
	}

	f.nft.Mint(5, "alice")
	status, _ = f.engine.PartyStatus(ctx, id, "alice")
	if status.Assets[0].Ready {
		t.Fatalf("expected not ready without authorization")
	}

	f.nft.Authorize(5)
	status, _ = f.engine.PartyStatus(ctx, id, "alice")
	asset = status.Assets[0]
	if !asset.Ready || asset.Balance != 1 || asset.Authorized != 1 {
		t.Fatalf("expected ready owned authorized asset, got %+v", asset)
	}
}

func TestPartyStatus_ReflectsNettedRequirement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.mustCreate(t, "alice", CreateRequest{
		Flows: []ledger.Flow{
			native(100, "alice", "bob"),
			native(40, "bob", "alice"),
		},
		NettingEnabled: true,
		NettedFlows:    []ledger.Flow{native(60, "alice", "bob")},
	})

	status, err := f.engine.PartyStatus(ctx, id, "alice")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.NativeRequired != 60 {
		t.Fatalf("expected net requirement 60, got %d", status.NativeRequired)
	}

	f.mustApprove(t, "alice", []uint64{id}, 60)
	status, _ = f.engine.PartyStatus(ctx, id, "alice")
	if !status.Approved || status.NativeDeposited != 60 {
		t.Fatalf("expected approved with deposit 60, got %+v", status)
	}
}

func TestPartyStatus_Gating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.engine.PartyStatus(ctx, 9, "alice"); !errors.Is(err, ledger.ErrNoSuchSettlement) {
		t.Fatalf("expected ErrNoSuchSettlement, got %v", err)
	}

	id := f.mustCreate(t, "alice", CreateRequest{Flows: []ledger.Flow{native(10, "alice", "bob")}})
	if _, err := f.engine.PartyStatus(ctx, id, "mallory"); !errors.Is(err, ledger.ErrNotInvolved) {
		t.Fatalf("expected ErrNotInvolved, got %v", err)
	}
}
