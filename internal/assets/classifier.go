package assets

import (
	"context"

	ledger "dvp-ledger/internal/ledger/domain"
)

// ProbeResult is the typed outcome of an asset classification probe. The
// heuristic nature stays explicit: ProbeFailed is not Unsupported.
type ProbeResult int

const (
	Supported ProbeResult = iota
	Unsupported
	ProbeFailed
)

func (r ProbeResult) String() string {
	switch r {
	case Supported:
		return "supported"
	case Unsupported:
		return "unsupported"
	case ProbeFailed:
		return "probe-failed"
	}
	return "unknown"
}

// Classifier validates, at settlement creation, that a referenced contract
// behaves as the claimed asset kind.
type Classifier interface {
	ProbeUnique(ctx context.Context, ref ledger.ContractRef) ProbeResult
	ProbeFungible(ctx context.Context, ref ledger.ContractRef) ProbeResult
}

// RegistryClassifier probes contracts resolved through a Registry.
type RegistryClassifier struct {
	registry *Registry
}

// NewRegistryClassifier constructs a classifier over the registry.
func NewRegistryClassifier(registry *Registry) *RegistryClassifier {
	return &RegistryClassifier{registry: registry}
}

// ProbeUnique queries the contract's declared capability set.
func (c *RegistryClassifier) ProbeUnique(ctx context.Context, ref ledger.ContractRef) ProbeResult {
	contract, ok := c.registry.Unique(ref)
	if !ok {
		return Unsupported
	}
	supported, err := contract.SupportsUniqueAssets(ctx)
	if err != nil {
		return ProbeFailed
	}
	if !supported {
		return Unsupported
	}
	return Supported
}

// ProbeFungible issues a low-level balance probe against the contract. A
// contract that answers may still misbehave at transfer time.
func (c *RegistryClassifier) ProbeFungible(ctx context.Context, ref ledger.ContractRef) ProbeResult {
	contract, ok := c.registry.Fungible(ref)
	if !ok {
		return Unsupported
	}
	if _, err := contract.BalanceOf(ctx, probeParty); err != nil {
		return ProbeFailed
	}
	return Supported
}

// probeParty is the throwaway address used for the fungible probe.
const probeParty = ledger.Party("0x0000000000000000000000000000000000000000")
