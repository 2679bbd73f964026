package ledger

import "time"

// Settlement is an atomic, caller-defined group of flows plus metadata.
// Records live in the arena; only the engine mutates them, under its
// call-tree guard. Id 0 never denotes a real settlement.
type Settlement struct {
	ID             uint64           `json:"id"`
	Reference      string           `json:"reference"`
	Cutoff         time.Time        `json:"cutoff"`
	Flows          []Flow           `json:"flows"`
	NettedFlows    []Flow           `json:"netted_flows,omitempty"`
	Creator        Party            `json:"creator"`
	Approvals      map[Party]bool   `json:"approvals"`
	Escrow         map[Party]uint64 `json:"escrow"`
	Executed       bool             `json:"executed"`
	AutoSettle     bool             `json:"auto_settle"`
	NettingEnabled bool             `json:"netting_enabled"`
	CreatedAt      time.Time        `json:"created_at"`
	ExecutedAt     time.Time        `json:"executed_at,omitempty"`
}

// Involved reports whether the party appears in any flow, as sender or
// recipient. Recipients are involved: they may approve (contributing zero)
// even though full approval never requires them.
func (s *Settlement) Involved(p Party) bool {
	for _, f := range s.Flows {
		if f.From == p || f.To == p {
			return true
		}
	}
	return false
}

// RequiredDeposit computes the native currency the party must escrow on
// approval. With netting enabled it is the net requirement (outgoing minus
// incoming, floored at zero); otherwise the gross sum of outgoing native
// flows.
func (s *Settlement) RequiredDeposit(p Party) uint64 {
	var outgoing, incoming uint64
	for _, f := range s.Flows {
		if f.Asset.Kind != AssetNative {
			continue
		}
		if f.From == p {
			outgoing += f.Asset.Value
		}
		if f.To == p {
			incoming += f.Asset.Value
		}
	}
	if !s.NettingEnabled {
		return outgoing
	}
	if incoming >= outgoing {
		return 0
	}
	return outgoing - incoming
}

// FullyApproved reports whether every distinct sender of the original flow
// set has approved. Receive-only parties do not count toward it.
func (s *Settlement) FullyApproved() bool {
	for _, sender := range Senders(s.Flows) {
		if !s.Approvals[sender] {
			return false
		}
	}
	return true
}

// Expired reports whether the cutoff has passed at the given instant.
func (s *Settlement) Expired(now time.Time) bool {
	return now.After(s.Cutoff)
}

// EscrowTotal sums the native currency held in escrow for this settlement.
func (s *Settlement) EscrowTotal() uint64 {
	var total uint64
	for _, amount := range s.Escrow {
		total += amount
	}
	return total
}

// Clone returns a detached copy safe to hand outside the arena.
func (s *Settlement) Clone() *Settlement {
	if s == nil {
		return nil
	}
	out := *s
	out.Flows = CloneFlows(s.Flows)
	out.NettedFlows = CloneFlows(s.NettedFlows)
	out.Approvals = make(map[Party]bool, len(s.Approvals))
	for p, v := range s.Approvals {
		out.Approvals[p] = v
	}
	out.Escrow = make(map[Party]uint64, len(s.Escrow))
	for p, v := range s.Escrow {
		out.Escrow[p] = v
	}
	return &out
}
