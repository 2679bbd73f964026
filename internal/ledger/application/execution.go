package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dvp-ledger/internal/assets"
	ledger "dvp-ledger/internal/ledger/domain"
	"dvp-ledger/internal/ledger/netting"
	"dvp-ledger/internal/observability/metrics"
)

var errEscrowShortfall = errors.New("ledger: escrow shortfall during execution")

// ExecuteDirect settles the original flow set as stored. Any involved party
// (or operator acting for one) may call it once all senders have approved and
// the cutoff has not passed. Settlements with netting enabled must go through
// ExecuteNetted instead.
func (e *Engine) ExecuteDirect(ctx context.Context, id uint64) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("execute_direct", result, time.Since(start))
	}()

	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	defer release()

	s, err := e.executable(id)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	if s.NettingEnabled {
		result = metrics.ResultError
		return ledger.ErrNettingRequired
	}
	if err := e.settle(ctx, s, s.Flows, false); err != nil {
		result = metrics.ResultError
		return err
	}
	return nil
}

// ExecuteNetted settles using a netted flow set. When nettedFlows is empty
// the set stored on the settlement is used. The set (supplied or stored) is
// re-validated against the original flows immediately before settlement.
func (e *Engine) ExecuteNetted(ctx context.Context, id uint64, nettedFlows []ledger.Flow) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOperation("execute_netted", result, time.Since(start))
	}()

	ctx, release, err := e.guard.enter(ctx)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	defer release()

	s, err := e.executable(id)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	if !s.NettingEnabled {
		result = metrics.ResultError
		return ledger.ErrDirectOnly
	}
	flows := nettedFlows
	if len(flows) == 0 {
		flows = s.NettedFlows
	}
	if err := netting.Validate(s.Flows, flows); err != nil {
		result = metrics.ResultError
		return err
	}
	if err := e.settle(ctx, s, flows, true); err != nil {
		result = metrics.ResultError
		return err
	}
	return nil
}

// executable runs the common execution preconditions, in fixed order.
func (e *Engine) executable(id uint64) (*ledger.Settlement, error) {
	s, ok := e.arena.Get(id)
	if !ok {
		return nil, ledger.ErrNoSuchSettlement
	}
	if s.Executed {
		return nil, ledger.ErrAlreadyExecuted
	}
	if s.Expired(e.clock.Now()) {
		return nil, ledger.ErrCutoffPassed
	}
	if !s.FullyApproved() {
		return nil, ledger.ErrNotFullyApproved
	}
	return s, nil
}

// settle applies the given flow set atomically. Every touched contract, the
// vault and the record itself are snapshotted first; any transfer failure
// unwinds them all in reverse order and returns a TransferError, leaving the
// settlement approved and retryable.
func (e *Engine) settle(ctx context.Context, s *ledger.Settlement, flows []ledger.Flow, netted bool) (err error) {
	mode := "direct"
	if netted {
		mode = "netted"
	}
	start := time.Now()
	defer func() {
		result := metrics.ResultSuccess
		if err != nil {
			result = metrics.ResultError
		}
		metrics.ObserveExecution(mode, result, time.Since(start))
	}()

	restores := []assets.Snapshot{assets.Snapshot(e.snapshotRecords([]*ledger.Settlement{s})), e.vault.Snapshot()}
	snapped := make(map[ledger.ContractRef]bool)
	for _, f := range flows {
		if f.Asset.Kind == ledger.AssetNative || snapped[f.Asset.Contract] {
			continue
		}
		switch f.Asset.Kind {
		case ledger.AssetFungible:
			c, ok := e.registry.Fungible(f.Asset.Contract)
			if !ok {
				return &ledger.TransferError{Flow: f, Err: fmt.Errorf("no fungible contract registered for %q", f.Asset.Contract)}
			}
			restores = append(restores, c.Snapshot())
		case ledger.AssetUnique:
			c, ok := e.registry.Unique(f.Asset.Contract)
			if !ok {
				return &ledger.TransferError{Flow: f, Err: fmt.Errorf("no unique contract registered for %q", f.Asset.Contract)}
			}
			restores = append(restores, c.Snapshot())
		}
		snapped[f.Asset.Contract] = true
	}
	unwind := func() {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}
	// A panic in contract adapter code unwinds like any other transfer
	// failure, then re-raises so the caller still sees the fault.
	defer func() {
		if r := recover(); r != nil {
			unwind()
			err = fmt.Errorf("ledger: execution fault: %v", r)
			panic(r)
		}
	}()

	now := e.clock.Now()
	for _, f := range flows {
		if terr := e.applyFlow(ctx, s, f); terr != nil {
			unwind()
			return terr
		}
		if f.Asset.Kind == ledger.AssetNative {
			e.publish(ctx, ledger.NativeWithdrawn{Party: f.To, Amount: f.Asset.Value, OccurredAt: now})
		}
	}

	// Escrow left after a netted settlement belongs to parties that deposited
	// more than their net obligation. Refund it before marking executed.
	if netted {
		for _, p := range ledger.Parties(s.Flows) {
			amount := s.Escrow[p]
			if amount == 0 {
				continue
			}
			delete(s.Escrow, p)
			if perr := e.vault.Push(ctx, p, amount); perr != nil {
				unwind()
				return &ledger.TransferError{
					Flow: ledger.Flow{Asset: ledger.AssetDescriptor{Kind: ledger.AssetNative, Value: amount}, To: p},
					Err:  perr,
				}
			}
			e.publish(ctx, ledger.NativeWithdrawn{Party: p, Amount: amount, OccurredAt: now})
		}
	}

	s.Executed = true
	s.ExecutedAt = now
	e.record(ctx, s)
	e.publish(ctx, ledger.Executed{
		SettlementID: s.ID,
		Netted:       netted,
		FlowCount:    len(flows),
		OccurredAt:   now,
	})
	return nil
}

// applyFlow moves one asset. Native flows debit the sender's escrow and push
// from the vault; fungible and unique flows delegate to the registered
// contract under its prior authorization.
func (e *Engine) applyFlow(ctx context.Context, s *ledger.Settlement, f ledger.Flow) error {
	switch f.Asset.Kind {
	case ledger.AssetNative:
		if s.Escrow[f.From] < f.Asset.Value {
			return &ledger.TransferError{Flow: f, Err: errEscrowShortfall}
		}
		s.Escrow[f.From] -= f.Asset.Value
		if s.Escrow[f.From] == 0 {
			delete(s.Escrow, f.From)
		}
		if err := e.vault.Push(ctx, f.To, f.Asset.Value); err != nil {
			return &ledger.TransferError{Flow: f, Err: err}
		}
	case ledger.AssetFungible:
		c, ok := e.registry.Fungible(f.Asset.Contract)
		if !ok {
			return &ledger.TransferError{Flow: f, Err: fmt.Errorf("no fungible contract registered for %q", f.Asset.Contract)}
		}
		if err := c.TransferFrom(ctx, f.From, f.To, f.Asset.Value); err != nil {
			return &ledger.TransferError{Flow: f, Err: err}
		}
	case ledger.AssetUnique:
		c, ok := e.registry.Unique(f.Asset.Contract)
		if !ok {
			return &ledger.TransferError{Flow: f, Err: fmt.Errorf("no unique contract registered for %q", f.Asset.Contract)}
		}
		if err := c.TransferFrom(ctx, f.From, f.To, f.Asset.Value); err != nil {
			return &ledger.TransferError{Flow: f, Err: err}
		}
	default:
		return &ledger.TransferError{Flow: f, Err: ledger.ErrInvalidAsset}
	}
	return nil
}

// runIsolatedExecution attempts execution triggered by a final approval. Any
// failure, including a panic in external contract code, is contained: it is
// classified, counted and published, and the approval that triggered it
// stands.
func (e *Engine) runIsolatedExecution(ctx context.Context, s *ledger.Settlement, triggeredBy ledger.Party) {
	var execErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("recovered: %v", r)
				e.reportAutoFailure(ctx, s, triggeredBy, ledger.AutoFailFault, execErr)
				execErr = nil
			}
		}()
		if s.NettingEnabled {
			if verr := netting.Validate(s.Flows, s.NettedFlows); verr != nil {
				execErr = verr
				return
			}
			execErr = e.settle(ctx, s, s.NettedFlows, true)
			return
		}
		execErr = e.settle(ctx, s, s.Flows, false)
	}()
	if execErr == nil {
		return
	}
	class := ledger.AutoFailOther
	var terr *ledger.TransferError
	if errors.As(execErr, &terr) || isLedgerError(execErr) {
		class = ledger.AutoFailReason
	}
	e.reportAutoFailure(ctx, s, triggeredBy, class, execErr)
}

func (e *Engine) reportAutoFailure(ctx context.Context, s *ledger.Settlement, triggeredBy ledger.Party, class string, cause error) {
	metrics.CountAutoExecutionFailure(class)
	e.publish(ctx, ledger.AutoExecutionFailed{
		SettlementID: s.ID,
		TriggeredBy:  triggeredBy,
		Class:        class,
		Detail:       cause.Error(),
		OccurredAt:   e.clock.Now(),
	})
}

func isLedgerError(err error) bool {
	for _, known := range []error{
		ledger.ErrNotFullyApproved,
		ledger.ErrCutoffPassed,
		ledger.ErrAlreadyExecuted,
		ledger.ErrNotEquivalentNettedFlows,
		ledger.ErrUnknownPartyInNettedFlow,
		ledger.ErrUnknownAssetInNettedFlow,
		ledger.ErrZeroAmountNettedFlow,
		ledger.ErrSelfTransferNettedFlow,
		ledger.ErrGrossMovementInNettedFlow,
		ledger.ErrReentrantCall,
	} {
		if errors.Is(err, known) {
			return true
		}
	}
	return false
}
