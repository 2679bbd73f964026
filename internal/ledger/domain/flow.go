package ledger

// Flow is a single asset movement from one party to another. Flows stored as
// a settlement's original set are immutable.
type Flow struct {
	Asset AssetDescriptor `json:"asset"`
	From  Party           `json:"from"`
	To    Party           `json:"to"`
}

// Senders returns the distinct senders of a flow set, in discovery order.
func Senders(flows []Flow) []Party {
	seen := make(map[Party]bool, len(flows))
	var out []Party
	for _, f := range flows {
		if !seen[f.From] {
			seen[f.From] = true
			out = append(out, f.From)
		}
	}
	return out
}

// Parties returns every distinct party referenced by a flow set, senders and
// recipients alike, in discovery order.
func Parties(flows []Flow) []Party {
	seen := make(map[Party]bool, len(flows)*2)
	var out []Party
	for _, f := range flows {
		if !seen[f.From] {
			seen[f.From] = true
			out = append(out, f.From)
		}
		if !seen[f.To] {
			seen[f.To] = true
			out = append(out, f.To)
		}
	}
	return out
}

// CloneFlows returns a detached copy of a flow slice.
func CloneFlows(flows []Flow) []Flow {
	if flows == nil {
		return nil
	}
	out := make([]Flow, len(flows))
	copy(out, flows)
	return out
}
