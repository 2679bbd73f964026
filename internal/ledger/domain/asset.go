package ledger

// Party is the address of a settlement participant.
type Party string

// ContractRef identifies an external asset contract. Empty for native currency.
type ContractRef string

// AssetKind classifies how an asset is transferred.
type AssetKind string

const (
	AssetNative   AssetKind = "native"
	AssetFungible AssetKind = "fungible"
	AssetUnique   AssetKind = "unique"
)

// AssetDescriptor identifies an asset and the quantity (or unique id) moved.
// For native assets Contract is empty. Value is a transfer amount for
// native/fungible assets and the asset id for unique assets.
type AssetDescriptor struct {
	Kind     AssetKind   `json:"kind"`
	Contract ContractRef `json:"contract,omitempty"`
	Value    uint64      `json:"value"`
}

// AssetKey is the comparable identity of an asset. Two unique assets on the
// same contract with different ids are different assets.
type AssetKey struct {
	Kind     AssetKind
	Contract ContractRef
	UniqueID uint64
}

// Key returns the identity of the described asset.
func (d AssetDescriptor) Key() AssetKey {
	key := AssetKey{Kind: d.Kind, Contract: d.Contract}
	if d.Kind == AssetUnique {
		key.UniqueID = d.Value
	}
	return key
}

// Valid reports whether the descriptor is structurally well formed.
func (d AssetDescriptor) Valid() bool {
	switch d.Kind {
	case AssetNative:
		return d.Contract == ""
	case AssetFungible, AssetUnique:
		return d.Contract != ""
	default:
		return false
	}
}
