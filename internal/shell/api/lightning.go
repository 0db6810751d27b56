package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/artpar/lnlab/internal/core/lightning"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

// =============================================================================
// Node Command Handlers
// =============================================================================

func (h *Handler) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	info, err := h.orch.NodeInfo(r.Context(), chi.URLParam(r, "name"), chi.URLParam(r, "node"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, info)
}

func (h *Handler) handleMine(w http.ResponseWriter, r *http.Request) {
	var req MineRequest
	if !h.decodeOptional(w, r, &req) {
		return
	}
	blocks := 1
	if req.Blocks != nil {
		blocks = *req.Blocks
	}

	hashes, err := h.orch.MineBlocks(r.Context(), chi.URLParam(r, "name"), blocks)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, MineResponse{Blocks: hashes})
}

func (h *Handler) handleFundWallet(w http.ResponseWriter, r *http.Request) {
	var req FundWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "InvalidRequest")
		return
	}

	res, err := h.orch.FundWallet(r.Context(), chi.URLParam(r, "name"), orchestrator.FundWalletParams{
		Node:          chi.URLParam(r, "node"),
		Amount:        lightning.Sats(req.AmountSat),
		Confirmations: confirmations(req.Confirmations),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleOpenChannel(w http.ResponseWriter, r *http.Request) {
	var req OpenChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "InvalidRequest")
		return
	}
	if req.From == "" || req.To == "" {
		h.writeError(w, http.StatusBadRequest, "from and to are required", "InvalidRequest")
		return
	}

	res, err := h.orch.OpenChannel(r.Context(), chi.URLParam(r, "name"), orchestrator.OpenChannelParams{
		From:          req.From,
		To:            req.To,
		Capacity:      lightning.Sats(req.CapacitySat),
		PushAmount:    lightning.Sats(req.PushSat),
		Confirmations: confirmations(req.Confirmations),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, res)
}

func (h *Handler) handleCloseChannel(w http.ResponseWriter, r *http.Request) {
	var req CloseChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "InvalidRequest")
		return
	}

	txid, err := h.orch.CloseChannel(r.Context(), chi.URLParam(r, "name"), orchestrator.CloseChannelParams{
		Node:         chi.URLParam(r, "node"),
		ChannelPoint: req.ChannelPoint,
		Force:        req.Force,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, CloseChannelResponse{ClosingTxID: txid})
}

func (h *Handler) handleSendPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "InvalidRequest")
		return
	}
	if req.From == "" || req.To == "" {
		h.writeError(w, http.StatusBadRequest, "from and to are required", "InvalidRequest")
		return
	}

	payment, err := h.orch.SendPayment(r.Context(), chi.URLParam(r, "name"), orchestrator.PaymentParams{
		From:   req.From,
		To:     req.To,
		Amount: lightning.Sats(req.AmountSat),
		Memo:   req.Memo,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, payment)
}

func (h *Handler) handleSyncGraph(w http.ResponseWriter, r *http.Request) {
	n, err := h.orch.SyncGraph(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, SyncGraphResponse{Nodes: n})
}

func (h *Handler) handleSyncChain(w http.ResponseWriter, r *http.Request) {
	status, err := h.orch.SyncChain(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, status)
}

// decodeOptional decodes a JSON body that may be empty.
func (h *Handler) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "InvalidRequest")
		return false
	}
	return true
}

func confirmations(v *int) int {
	if v == nil {
		return lightning.DefaultConfirmations
	}
	return *v
}
