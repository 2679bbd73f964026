package netting

import (
	ledger "dvp-ledger/internal/ledger/domain"
)

// Optimize proposes a minimal-transfer-count netted flow set realizing the
// same net deltas as the input. The result is only a candidate: callers must
// run it through Validate (the engine does) before it carries any weight.
//
// Per asset, net debtors are paired against net creditors with a two-pointer
// walk over discovery-ordered lists. A unique asset nets to at most one
// transfer per id, or cancels entirely if it round-trips.
func Optimize(flows []ledger.Flow) []ledger.Flow {
	deltas := Build(flows)
	var out []ledger.Flow

	for _, key := range deltas.Assets() {
		if key.Kind == ledger.AssetUnique {
			out = append(out, netUnique(deltas, key)...)
			continue
		}
		out = append(out, netFungible(deltas, key)...)
	}
	return out
}

func netUnique(deltas *Deltas, key ledger.AssetKey) []ledger.Flow {
	var debtor, creditor ledger.Party
	var found bool
	for _, p := range deltas.PartiesFor(key) {
		switch deltas.Net(key, p) {
		case -1:
			debtor = p
			found = true
		case 1:
			creditor = p
		}
	}
	if !found {
		return nil // round-tripped, nothing moves
	}
	return []ledger.Flow{{
		Asset: ledger.AssetDescriptor{Kind: ledger.AssetUnique, Contract: key.Contract, Value: key.UniqueID},
		From:  debtor,
		To:    creditor,
	}}
}

func netFungible(deltas *Deltas, key ledger.AssetKey) []ledger.Flow {
	type position struct {
		party  ledger.Party
		amount uint64
	}
	var debtors, creditors []position
	for _, p := range deltas.PartiesFor(key) {
		net := deltas.Net(key, p)
		if net < 0 {
			debtors = append(debtors, position{party: p, amount: uint64(-net)})
		} else if net > 0 {
			creditors = append(creditors, position{party: p, amount: uint64(net)})
		}
	}

	asset := func(amount uint64) ledger.AssetDescriptor {
		return ledger.AssetDescriptor{Kind: key.Kind, Contract: key.Contract, Value: amount}
	}

	var out []ledger.Flow
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		amount := debtors[i].amount
		if creditors[j].amount < amount {
			amount = creditors[j].amount
		}
		out = append(out, ledger.Flow{
			Asset: asset(amount),
			From:  debtors[i].party,
			To:    creditors[j].party,
		})
		debtors[i].amount -= amount
		creditors[j].amount -= amount
		if debtors[i].amount == 0 {
			i++
		}
		if creditors[j].amount == 0 {
			j++
		}
	}
	return out
}
