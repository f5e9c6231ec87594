package main

import (
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"worklayer/config"
	"worklayer/native/escrow"
	"worklayer/native/staking"
	"worklayer/services/market/disputes"
	"worklayer/services/market/models"
	"worklayer/services/market/orders"
	"worklayer/services/market/quotes"
)

type daemon struct {
	logger   *slog.Logger
	escrow   *escrow.Engine
	staking  *staking.Engine
	quotes   *quotes.Service
	orders   *orders.Service
	disputes *disputes.Service
}

// registerOps exposes read-only operator inspection endpoints. The
// user-facing API lives in a separate gateway; these exist so operators can
// cross-check ledger and coordinator state while reconciling.
func (d *daemon) registerOps(mux *http.ServeMux) {
	mux.HandleFunc("GET /ops/escrows/{id}", d.handleEscrow)
	mux.HandleFunc("GET /ops/stakes/{provider}", d.handleStake)
	mux.HandleFunc("GET /ops/orders/{id}", d.handleOrder)
	mux.HandleFunc("GET /ops/orders/{id}/logs", d.handleOrderLogs)
	mux.HandleFunc("GET /ops/quotes/{id}", d.handleQuote)
	mux.HandleFunc("GET /ops/disputes", d.handleDisputes)
}

func (d *daemon) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		d.logger.Error("encode ops response", "error", err)
	}
}

func (d *daemon) writeError(w http.ResponseWriter, status int, err error) {
	d.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (d *daemon) handleEscrow(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimPrefix(r.PathValue("id"), "0x")
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 32 {
		http.Error(w, "escrow id must be 32 bytes of hex", http.StatusBadRequest)
		return
	}
	var id [32]byte
	copy(id[:], decoded)
	esc, err := d.escrow.Get(id)
	if err != nil {
		d.writeError(w, http.StatusNotFound, err)
		return
	}
	d.writeJSON(w, http.StatusOK, map[string]any{
		"id":          hex.EncodeToString(esc.ID[:]),
		"buyer":       hex.EncodeToString(esc.Buyer[:]),
		"provider":    hex.EncodeToString(esc.Provider[:]),
		"orderRef":    esc.OrderRef,
		"amount":      esc.Amount.String(),
		"platformFee": esc.PlatformFee.String(),
		"deadline":    esc.Deadline,
		"createdAt":   esc.CreatedAt,
		"status":      esc.Status.String(),
	})
}

func (d *daemon) handleStake(w http.ResponseWriter, r *http.Request) {
	provider, err := config.ParseAddress(r.PathValue("provider"))
	if err != nil {
		d.writeError(w, http.StatusBadRequest, err)
		return
	}
	stake, err := d.staking.GetStake(provider)
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, err)
		return
	}
	d.writeJSON(w, http.StatusOK, map[string]any{
		"provider":           hex.EncodeToString(stake.Provider[:]),
		"amount":             stake.Amount.String(),
		"active":             stake.Active,
		"unstakeRequestedAt": stake.UnstakeRequestedAt,
	})
}

func (d *daemon) handleOrder(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		d.writeError(w, http.StatusBadRequest, err)
		return
	}
	order, err := d.orders.GetByID(r.Context(), id)
	if err != nil {
		d.writeError(w, http.StatusNotFound, err)
		return
	}
	d.writeJSON(w, http.StatusOK, order)
}

func (d *daemon) handleOrderLogs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		d.writeError(w, http.StatusBadRequest, err)
		return
	}
	logs, err := d.orders.StatusLogs(r.Context(), id)
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, err)
		return
	}
	d.writeJSON(w, http.StatusOK, logs)
}

func (d *daemon) handleQuote(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		d.writeError(w, http.StatusBadRequest, err)
		return
	}
	quote, err := d.quotes.GetByID(r.Context(), id)
	if err != nil {
		d.writeError(w, http.StatusNotFound, err)
		return
	}
	d.writeJSON(w, http.StatusOK, quote)
}

func (d *daemon) handleDisputes(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	list, err := d.disputes.List(r.Context(), models.DisputeStatus(status))
	if err != nil {
		d.writeError(w, http.StatusInternalServerError, err)
		return
	}
	d.writeJSON(w, http.StatusOK, list)
}
