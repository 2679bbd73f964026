package netting

import (
	ledger "dvp-ledger/internal/ledger/domain"
)

// Validate proves that the netted flow set moves identical net value per
// party per asset as the original set. It is the sole source of truth for
// netted-plan correctness; optimizer output carries no authority of its own.
//
// Checks, in order:
//  1. every netted flow references only parties and assets the original set
//     references (a unique asset is keyed by contract AND id);
//  2. no netted flow sends an asset back to its own sender, and no
//     native/fungible netted flow moves a zero amount;
//  3. every (asset,party) position nets to exactly zero after subtracting
//     the netted plan from the original deltas;
//  4. for native/fungible assets each party is a pure net debtor or pure net
//     creditor: a debtor sends exactly its shortfall and receives nothing, a
//     creditor receives exactly its surplus and sends nothing, and a party
//     with zero net position does not move that asset at all. This rejects
//     plans with offsetting gross movements that happen to cancel.
func Validate(original, netted []ledger.Flow) error {
	orig := Build(original)

	known := make(map[ledger.Party]bool)
	for _, p := range ledger.Parties(original) {
		known[p] = true
	}

	residual := Build(original)
	grossOut := make(map[ledger.AssetKey]map[ledger.Party]uint64)
	grossIn := make(map[ledger.AssetKey]map[ledger.Party]uint64)

	for _, f := range netted {
		key := f.Asset.Key()
		if !orig.HasAsset(key) {
			return ledger.ErrUnknownAssetInNettedFlow
		}
		if !known[f.From] || !known[f.To] {
			return ledger.ErrUnknownPartyInNettedFlow
		}
		if f.From == f.To {
			return ledger.ErrSelfTransferNettedFlow
		}
		if f.Asset.Kind != ledger.AssetUnique && f.Asset.Value == 0 {
			return ledger.ErrZeroAmountNettedFlow
		}

		amount := moveMagnitude(f.Asset)
		residual.add(key, f.From, amount)
		residual.add(key, f.To, -amount)

		if f.Asset.Kind != ledger.AssetUnique {
			if grossOut[key] == nil {
				grossOut[key] = make(map[ledger.Party]uint64)
				grossIn[key] = make(map[ledger.Party]uint64)
			}
			grossOut[key][f.From] += f.Asset.Value
			grossIn[key][f.To] += f.Asset.Value
		}
	}

	if !residual.AllZero() {
		return ledger.ErrNotEquivalentNettedFlows
	}

	for _, key := range orig.Assets() {
		if key.Kind == ledger.AssetUnique {
			continue
		}
		for _, p := range orig.PartiesFor(key) {
			net := orig.Net(key, p)
			out := grossOut[key][p]
			in := grossIn[key][p]
			switch {
			case net < 0: // net debtor: sends exactly the shortfall
				if out != uint64(-net) || in != 0 {
					return ledger.ErrGrossMovementInNettedFlow
				}
			case net > 0: // net creditor: receives exactly the surplus
				if in != uint64(net) || out != 0 {
					return ledger.ErrGrossMovementInNettedFlow
				}
			default: // flat: must not touch the asset
				if out != 0 || in != 0 {
					return ledger.ErrGrossMovementInNettedFlow
				}
			}
		}
	}
	return nil
}
