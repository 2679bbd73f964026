// Package interfaces exposes the settlement engine over HTTP and builds
// statement exports.
package interfaces

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dvp-ledger/internal/audit"
	"dvp-ledger/internal/auth"
	"dvp-ledger/internal/ledger/application"
	ledger "dvp-ledger/internal/ledger/domain"
	"dvp-ledger/internal/observability/metrics"
)

const routePrefix = "/api/v1/settlements"

// SettlementHandler handles the settlement APIs. The acting party always
// comes from the authenticated identity, never from the request body.
type SettlementHandler struct {
	engine      *application.Engine
	auditLogger audit.Logger
}

// NewSettlementHandler constructs a handler.
func NewSettlementHandler(engine *application.Engine, auditLogger audit.Logger) (*SettlementHandler, error) {
	if engine == nil {
		return nil, errors.New("settlement handler: nil engine")
	}
	return &SettlementHandler{engine: engine, auditLogger: auditLogger}, nil
}

// ServeHTTP handles routes under /api/v1/settlements.
func (h *SettlementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, routePrefix)
	path = strings.TrimPrefix(path, "/")

	switch {
	case path == "" && r.Method == http.MethodPost:
		h.handleCreate(w, r)
		return
	case path == "count" && r.Method == http.MethodGet:
		h.handleCount(w, r)
		return
	case path == "approve" && r.Method == http.MethodPost:
		h.handleApprove(w, r)
		return
	case path == "revoke" && r.Method == http.MethodPost:
		h.handleRevoke(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 {
		if r.Method == http.MethodGet {
			h.handleGet(w, r, id)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if len(parts) == 2 {
		switch parts[1] {
		case "status":
			if r.Method == http.MethodGet {
				h.handleStatus(w, r, id)
				return
			}
		case "approved":
			if r.Method == http.MethodGet {
				h.handleApproved(w, r, id)
				return
			}
		case "netting-proposal":
			if r.Method == http.MethodGet {
				h.handleNettingProposal(w, r, id)
				return
			}
		case "netted-flows":
			if r.Method == http.MethodPost {
				h.handleSetNettedFlows(w, r, id)
				return
			}
		case "execute":
			if r.Method == http.MethodPost {
				h.handleExecute(w, r, id)
				return
			}
		case "execute-netted":
			if r.Method == http.MethodPost {
				h.handleExecuteNetted(w, r, id)
				return
			}
		case "withdraw":
			if r.Method == http.MethodPost {
				h.handleWithdraw(w, r, id)
				return
			}
		case "export.pdf":
			if r.Method == http.MethodGet {
				h.handleExportPDF(w, r, id)
				return
			}
		case "export.xlsx":
			if r.Method == http.MethodGet {
				h.handleExportXLSX(w, r, id)
				return
			}
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *SettlementHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference      string        `json:"reference"`
		Cutoff         time.Time     `json:"cutoff"`
		Flows          []ledger.Flow `json:"flows"`
		AutoSettle     bool          `json:"auto_settle"`
		NettingEnabled bool          `json:"netting_enabled"`
		NettedFlows    []ledger.Flow `json:"netted_flows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	id, err := h.engine.Create(r.Context(), caller, application.CreateRequest{
		Reference:      req.Reference,
		Cutoff:         req.Cutoff,
		Flows:          req.Flows,
		AutoSettle:     req.AutoSettle,
		NettingEnabled: req.NettingEnabled,
		NettedFlows:    req.NettedFlows,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]any{"settlement_id": id})
	h.logAudit(r, id, "settlement.create", map[string]any{
		"reference":   req.Reference,
		"flow_count":  len(req.Flows),
		"auto_settle": req.AutoSettle,
	})
}

func (h *SettlementHandler) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SettlementIDs []uint64 `json:"settlement_ids"`
		Deposit       uint64   `json:"deposit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	if err := h.engine.Approve(r.Context(), caller, req.SettlementIDs, req.Deposit); err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"approved": req.SettlementIDs})
	for _, id := range req.SettlementIDs {
		h.logAudit(r, id, "settlement.approve", map[string]any{"deposit": req.Deposit})
	}
}

func (h *SettlementHandler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SettlementIDs []uint64 `json:"settlement_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	if err := h.engine.Revoke(r.Context(), caller, req.SettlementIDs); err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"revoked": req.SettlementIDs})
	for _, id := range req.SettlementIDs {
		h.logAudit(r, id, "settlement.revoke", nil)
	}
}

func (h *SettlementHandler) handleWithdraw(w http.ResponseWriter, r *http.Request, id uint64) {
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	if err := h.engine.Withdraw(r.Context(), caller, id); err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"withdrawn": id})
	h.logAudit(r, id, "settlement.withdraw", nil)
}

func (h *SettlementHandler) handleExecute(w http.ResponseWriter, r *http.Request, id uint64) {
	if err := h.engine.ExecuteDirect(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"executed": id})
	h.logAudit(r, id, "settlement.execute", map[string]any{"mode": "direct"})
}

func (h *SettlementHandler) handleExecuteNetted(w http.ResponseWriter, r *http.Request, id uint64) {
	var req struct {
		NettedFlows []ledger.Flow `json:"netted_flows"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	if err := h.engine.ExecuteNetted(r.Context(), id, req.NettedFlows); err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"executed": id})
	h.logAudit(r, id, "settlement.execute", map[string]any{"mode": "netted"})
}

func (h *SettlementHandler) handleSetNettedFlows(w http.ResponseWriter, r *http.Request, id uint64) {
	var req struct {
		NettedFlows []ledger.Flow `json:"netted_flows"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	caller, ok := callerParty(w, r)
	if !ok {
		return
	}
	if err := h.engine.SetNettedFlows(r.Context(), caller, id, req.NettedFlows); err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"settlement_id": id, "netted_flow_count": len(req.NettedFlows)})
	h.logAudit(r, id, "settlement.set_netted_flows", map[string]any{"netted_flow_count": len(req.NettedFlows)})
}

func (h *SettlementHandler) handleGet(w http.ResponseWriter, r *http.Request, id uint64) {
	s, err := h.engine.GetSettlement(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s)
}

func (h *SettlementHandler) handleCount(w http.ResponseWriter, r *http.Request) {
	count := h.engine.SettlementCount(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"count": count})
}

func (h *SettlementHandler) handleApproved(w http.ResponseWriter, r *http.Request, id uint64) {
	approved, err := h.engine.IsFullyApproved(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"settlement_id": id, "fully_approved": approved})
}

func (h *SettlementHandler) handleStatus(w http.ResponseWriter, r *http.Request, id uint64) {
	party := ledger.Party(r.URL.Query().Get("party"))
	if party == "" {
		party = ledger.Party(auth.PartyFromContext(r.Context()))
	}
	if party == "" {
		http.Error(w, "party required", http.StatusBadRequest)
		return
	}
	status, err := h.engine.PartyStatus(r.Context(), id, party)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}

func (h *SettlementHandler) handleNettingProposal(w http.ResponseWriter, r *http.Request, id uint64) {
	flows, err := h.engine.ProposeNetting(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"settlement_id": id, "netted_flows": flows})
}

func (h *SettlementHandler) handleExportPDF(w http.ResponseWriter, r *http.Request, id uint64) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport("pdf", result, time.Since(start))
	}()

	s, err := h.engine.GetSettlement(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	data, err := BuildStatementPDF(s)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export pdf error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, id, "settlement.export", map[string]any{"format": "pdf"})
}

func (h *SettlementHandler) handleExportXLSX(w http.ResponseWriter, r *http.Request, id uint64) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport("xlsx", result, time.Since(start))
	}()

	s, err := h.engine.GetSettlement(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		respondServiceError(w, err)
		return
	}
	data, err := BuildStatementXLSX(s)
	if err != nil {
		result = metrics.ResultError
		http.Error(w, "export xlsx error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, id, "settlement.export", map[string]any{"format": "xlsx"})
}

func (h *SettlementHandler) logAudit(r *http.Request, settlementID uint64, action string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var payload json.RawMessage
	if meta != nil {
		payload, _ = json.Marshal(meta)
	}
	src := audit.RequestSource(r)
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        auth.PartyFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		SettlementID: settlementID,
		Metadata:     payload,
		IP:           src.IP,
		UserAgent:    src.UserAgent,
	})
}

func callerParty(w http.ResponseWriter, r *http.Request) (ledger.Party, bool) {
	party := auth.PartyFromContext(r.Context())
	if party == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	return ledger.Party(party), true
}

func respondServiceError(w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var depositErr *ledger.IncorrectDepositError
	if errors.As(err, &depositErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":    "incorrect deposit",
			"actual":   depositErr.Actual,
			"expected": depositErr.Expected,
		})
		return
	}
	var transferErr *ledger.TransferError
	if errors.As(err, &transferErr) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	switch {
	case errors.Is(err, ledger.ErrNoSuchSettlement):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, ledger.ErrNotInvolved),
		errors.Is(err, ledger.ErrNotCreator):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, ledger.ErrAlreadyExecuted),
		errors.Is(err, ledger.ErrAlreadyApproved),
		errors.Is(err, ledger.ErrCutoffPassed),
		errors.Is(err, ledger.ErrCutoffNotPassed),
		errors.Is(err, ledger.ErrNotApproved),
		errors.Is(err, ledger.ErrNotFullyApproved),
		errors.Is(err, ledger.ErrNettingRequired),
		errors.Is(err, ledger.ErrDirectOnly),
		errors.Is(err, ledger.ErrNothingToWithdraw),
		errors.Is(err, ledger.ErrReentrantCall):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusBadRequest)
	}
}
