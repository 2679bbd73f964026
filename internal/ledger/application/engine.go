// Package application implements the settlement engine: creation, approval
// and escrow bookkeeping, atomic direct/netted execution, and the isolation
// protocol for auto-settlement.
package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"dvp-ledger/internal/assets"
	ledger "dvp-ledger/internal/ledger/domain"
	arena "dvp-ledger/internal/ledger/infrastructure/memory"
	"dvp-ledger/internal/ledger/netting"
	"dvp-ledger/internal/observability/metrics"
)

// Clock abstracts time for cutoff checks.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// EventPublisher receives ledger notifications. Nil disables publishing.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Journal receives write-through copies of mutated settlements for the
// external read index. Nil disables journaling; write errors never fail the
// mutating call.
type Journal interface {
	Record(ctx context.Context, s *ledger.Settlement) error
}

// Engine owns the settlement arena and is the only writer to it.
type Engine struct {
	guard      callGuard
	arena      *arena.Arena
	registry   *assets.Registry
	classifier assets.Classifier
	vault      assets.NativeVault
	events     EventPublisher
	journal    Journal
	clock      Clock
}

// NewEngine constructs an engine.
func NewEngine(store *arena.Arena, registry *assets.Registry, classifier assets.Classifier, vault assets.NativeVault, events EventPublisher, journal Journal, clock Clock) (*Engine, error) {
	if store == nil {
		return nil, errors.New("engine: nil arena")
	}
	if registry == nil {
		return nil, errors.New("engine: nil registry")
	}
	if classifier == nil {
		return nil, errors.New("engine: nil classifier")
	}
	if vault == nil {
		return nil, errors.New("engine: nil vault")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		arena:      store,
		registry:   registry,
		classifier: classifier,
		vault:      vault,
		events:     events,
		journal:    journal,
		clock:      clock,
	}, nil
}

// CreateRequest carries the caller-supplied settlement definition.
type CreateRequest struct {
	Reference      string
	Cutoff         time.Time
	Flows          []ledger.Flow
	AutoSettle     bool
	NettingEnabled bool
	NettedFlows    []ledger.Flow
}

// Create validates and stores a settlement, returning its id.
func (e *Engine) Create(ctx context.Context, creator ledger.Party, req CreateRequest) (uint64, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("create", result, time.Since(start))
	}()

	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		result = metrics.ResultError
		return 0, err
	}
	defer release()

	if !req.Cutoff.After(e.clock.Now()) {
		result = metrics.ResultError
		return 0, ledger.ErrInvalidTimeWindow
	}
	if len(req.Flows) == 0 {
		result = metrics.ResultError
		return 0, ledger.ErrEmptyFlowSet
	}
	if err := e.classifyFlows(ctx, req.Flows); err != nil {
		result = metrics.ResultError
		return 0, err
	}
	if req.NettingEnabled {
		if err := netting.Validate(req.Flows, req.NettedFlows); err != nil {
			result = metrics.ResultError
			return 0, err
		}
	}

	s := &ledger.Settlement{
		Reference:      req.Reference,
		Cutoff:         req.Cutoff,
		Flows:          ledger.CloneFlows(req.Flows),
		NettedFlows:    ledger.CloneFlows(req.NettedFlows),
		Creator:        creator,
		Approvals:      make(map[ledger.Party]bool),
		Escrow:         make(map[ledger.Party]uint64),
		AutoSettle:     req.AutoSettle,
		NettingEnabled: req.NettingEnabled,
		CreatedAt:      e.clock.Now(),
	}
	if !req.NettingEnabled {
		s.NettedFlows = nil
	}
	id := e.arena.Append(s)

	e.record(ctx, s)
	e.publish(ctx, ledger.SettlementCreated{
		SettlementID: id,
		Creator:      creator,
		Reference:    s.Reference,
		FlowCount:    len(s.Flows),
		AutoSettle:   s.AutoSettle,
		OccurredAt:   s.CreatedAt,
	})
	return id, nil
}

func (e *Engine) classifyFlows(ctx context.Context, flows []ledger.Flow) error {
	for _, f := range flows {
		if !f.Asset.Valid() {
			return ledger.ErrInvalidAsset
		}
		switch f.Asset.Kind {
		case ledger.AssetUnique:
			if e.classifier.ProbeUnique(ctx, f.Asset.Contract) != assets.Supported {
				return ledger.ErrInvalidUniqueAsset
			}
		case ledger.AssetFungible:
			if e.classifier.ProbeFungible(ctx, f.Asset.Contract) != assets.Supported {
				return ledger.ErrInvalidFungibleAsset
			}
		}
	}
	return nil
}

// SetNettedFlows replaces the netted flow set. Creator-only, pre-execution,
// pre-cutoff; each call fully replaces the prior set and enables netting.
func (e *Engine) SetNettedFlows(ctx context.Context, caller ledger.Party, id uint64, nettedFlows []ledger.Flow) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("set_netted_flows", result, time.Since(start))
	}()

	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	defer release()

	s, ok := e.arena.Get(id)
	if !ok {
		result = metrics.ResultError
		return ledger.ErrNoSuchSettlement
	}
	if s.Executed {
		result = metrics.ResultError
		return ledger.ErrAlreadyExecuted
	}
	if s.Creator != caller {
		result = metrics.ResultError
		return ledger.ErrNotCreator
	}
	if s.Expired(e.clock.Now()) {
		result = metrics.ResultError
		return ledger.ErrCutoffPassed
	}
	if err := netting.Validate(s.Flows, nettedFlows); err != nil {
		result = metrics.ResultError
		return err
	}

	s.NettedFlows = ledger.CloneFlows(nettedFlows)
	s.NettingEnabled = true
	e.record(ctx, s)
	return nil
}

// GetSettlement returns a detached copy of the settlement record.
func (e *Engine) GetSettlement(ctx context.Context, id uint64) (*ledger.Settlement, error) {
	release := e.guard.enterRead(ctx)
	defer release()

	s, ok := e.arena.Get(id)
	if !ok {
		return nil, ledger.ErrNoSuchSettlement
	}
	return s.Clone(), nil
}

// SettlementCount returns the total number of settlements ever created.
func (e *Engine) SettlementCount(ctx context.Context) uint64 {
	release := e.guard.enterRead(ctx)
	defer release()
	return e.arena.Count()
}

// IsFullyApproved reports whether every distinct sender has approved.
func (e *Engine) IsFullyApproved(ctx context.Context, id uint64) (bool, error) {
	release := e.guard.enterRead(ctx)
	defer release()

	s, ok := e.arena.Get(id)
	if !ok {
		return false, ledger.ErrNoSuchSettlement
	}
	return s.FullyApproved(), nil
}

// ProposeNetting returns an advisory netted flow set for the settlement,
// computed from its original flows. The proposal is not stored; the creator
// must register it through SetNettedFlows for it to take effect.
func (e *Engine) ProposeNetting(ctx context.Context, id uint64) ([]ledger.Flow, error) {
	release := e.guard.enterRead(ctx)
	defer release()

	s, ok := e.arena.Get(id)
	if !ok {
		return nil, ledger.ErrNoSuchSettlement
	}
	return netting.Optimize(s.Flows), nil
}

// EscrowHeld returns the vault's total held native currency, for the
// conservation gauge.
func (e *Engine) EscrowHeld() uint64 {
	return e.vault.Held()
}

func (e *Engine) publish(ctx context.Context, event any) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event); err != nil {
		slog.Error("event publish failed", "error", err)
	}
}

func (e *Engine) record(ctx context.Context, s *ledger.Settlement) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Record(ctx, s.Clone()); err != nil {
		metrics.CountJournalWriteFailure()
		slog.Error("journal write failed", "settlement_id", s.ID, "error", err)
	}
}
