package ledger

// PartyStatus is a read view combining ledger state with live queries against
// external asset contracts. It is computed on demand and never persisted;
// clients use it to learn what to authorize before approving.
type PartyStatus struct {
	Party           Party         `json:"party"`
	Approved        bool          `json:"approved"`
	NativeRequired  uint64        `json:"native_required"`
	NativeDeposited uint64        `json:"native_deposited"`
	Assets          []AssetStatus `json:"assets"`
}

// AssetStatus describes one asset the party must send and whether the
// external contract currently reports enough balance and authorization.
type AssetStatus struct {
	Asset      AssetDescriptor `json:"asset"`
	Required   uint64          `json:"required"`
	Balance    uint64          `json:"balance"`
	Authorized uint64          `json:"authorized"`
	Ready      bool            `json:"ready"`
	Detail     string          `json:"detail,omitempty"`
}
