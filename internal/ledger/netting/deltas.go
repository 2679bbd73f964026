// Package netting computes per-(asset,party) balance deltas for flow sets,
// validates that a netted flow set is value-equivalent to an original one,
// and proposes minimal-transfer netted plans. The package is pure: it never
// touches ledger state or external contracts.
package netting

import (
	ledger "dvp-ledger/internal/ledger/domain"
)

// Deltas holds signed net positions per asset per party. Outgoing value is
// negative, incoming positive; unique-asset moves count as ±1. Assets and
// parties are remembered in discovery order so derived plans are
// deterministic.
type Deltas struct {
	assets  []ledger.AssetKey
	parties map[ledger.AssetKey][]ledger.Party
	net     map[ledger.AssetKey]map[ledger.Party]int64
}

// Build computes the deltas implied by a flow set.
func Build(flows []ledger.Flow) *Deltas {
	d := &Deltas{
		parties: make(map[ledger.AssetKey][]ledger.Party),
		net:     make(map[ledger.AssetKey]map[ledger.Party]int64),
	}
	for _, f := range flows {
		amount := moveMagnitude(f.Asset)
		key := f.Asset.Key()
		d.add(key, f.From, -amount)
		d.add(key, f.To, amount)
	}
	return d
}

func moveMagnitude(asset ledger.AssetDescriptor) int64 {
	if asset.Kind == ledger.AssetUnique {
		return 1
	}
	return int64(asset.Value)
}

func (d *Deltas) add(key ledger.AssetKey, p ledger.Party, amount int64) {
	byParty, ok := d.net[key]
	if !ok {
		byParty = make(map[ledger.Party]int64)
		d.net[key] = byParty
		d.assets = append(d.assets, key)
	}
	if _, seen := byParty[p]; !seen {
		d.parties[key] = append(d.parties[key], p)
	}
	byParty[p] += amount
}

// HasAsset reports whether the asset key appears in the set.
func (d *Deltas) HasAsset(key ledger.AssetKey) bool {
	_, ok := d.net[key]
	return ok
}

// Net returns the signed net position of a party for an asset.
func (d *Deltas) Net(key ledger.AssetKey, p ledger.Party) int64 {
	return d.net[key][p]
}

// Assets returns the asset keys in discovery order.
func (d *Deltas) Assets() []ledger.AssetKey {
	return d.assets
}

// PartiesFor returns the parties touching an asset, in discovery order.
func (d *Deltas) PartiesFor(key ledger.AssetKey) []ledger.Party {
	return d.parties[key]
}

// AllZero reports whether every position nets to exactly zero.
func (d *Deltas) AllZero() bool {
	for _, byParty := range d.net {
		for _, n := range byParty {
			if n != 0 {
				return false
			}
		}
	}
	return true
}
