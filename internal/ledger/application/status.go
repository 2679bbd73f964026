package application

import (
	"context"
	"time"

	ledger "dvp-ledger/internal/ledger/domain"
	"dvp-ledger/internal/observability/metrics"
)

// PartyStatus computes the readiness view for one party of a settlement.
// Fungible requirements are aggregated per contract; native requirements
// reflect the netting mode in force. Balances and authorizations are queried
// live from the registered contracts; a query failure marks the asset not
// ready and carries the failure detail instead of aborting the whole view.
func (e *Engine) PartyStatus(ctx context.Context, id uint64, p ledger.Party) (*ledger.PartyStatus, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("party_status", result, time.Since(start))
	}()

	release := e.guard.enterRead(ctx)
	defer release()

	s, ok := e.arena.Get(id)
	if !ok {
		result = metrics.ResultError
		return nil, ledger.ErrNoSuchSettlement
	}
	if !s.Involved(p) {
		result = metrics.ResultError
		return nil, ledger.ErrNotInvolved
	}

	status := &ledger.PartyStatus{
		Party:           p,
		Approved:        s.Approvals[p],
		NativeRequired:  s.RequiredDeposit(p),
		NativeDeposited: s.Escrow[p],
	}

	fungible := make(map[ledger.ContractRef]uint64)
	var fungibleOrder []ledger.ContractRef
	for _, f := range s.Flows {
		if f.From != p {
			continue
		}
		switch f.Asset.Kind {
		case ledger.AssetFungible:
			if _, seen := fungible[f.Asset.Contract]; !seen {
				fungibleOrder = append(fungibleOrder, f.Asset.Contract)
			}
			fungible[f.Asset.Contract] += f.Asset.Value
		case ledger.AssetUnique:
			status.Assets = append(status.Assets, e.uniqueStatus(ctx, p, f.Asset))
		}
	}
	for _, ref := range fungibleOrder {
		status.Assets = append(status.Assets, e.fungibleStatus(ctx, p, ref, fungible[ref]))
	}
	return status, nil
}

func (e *Engine) fungibleStatus(ctx context.Context, p ledger.Party, ref ledger.ContractRef, required uint64) ledger.AssetStatus {
	out := ledger.AssetStatus{
		Asset:    ledger.AssetDescriptor{Kind: ledger.AssetFungible, Contract: ref, Value: required},
		Required: required,
	}
	c, ok := e.registry.Fungible(ref)
	if !ok {
		out.Detail = "contract not registered"
		return out
	}
	balance, err := c.BalanceOf(ctx, p)
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	allowance, err := c.Allowance(ctx, p)
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	out.Balance = balance
	out.Authorized = allowance
	out.Ready = balance >= required && allowance >= required
	return out
}

func (e *Engine) uniqueStatus(ctx context.Context, p ledger.Party, asset ledger.AssetDescriptor) ledger.AssetStatus {
	out := ledger.AssetStatus{Asset: asset, Required: 1}
	c, ok := e.registry.Unique(asset.Contract)
	if !ok {
		out.Detail = "contract not registered"
		return out
	}
	owner, err := c.OwnerOf(ctx, asset.Value)
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	authorized, err := c.Authorized(ctx, asset.Value)
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	if owner == p {
		out.Balance = 1
	} else {
		out.Detail = "asset not owned by party"
	}
	if authorized {
		out.Authorized = 1
	}
	out.Ready = owner == p && authorized
	return out
}
