package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// RegistryService is the subset of the settlement engine that manages a
// maker's RFQ origins and delegated signers.
type RegistryService interface {
	RegisterAllowedRfqOrigins(ctx context.Context, caller common.Address, origins []common.Address, allowed bool) error
	RegisterAllowedOrderSigner(ctx context.Context, caller, signer common.Address, allowed bool) error
	IsValidOrderSigner(ctx context.Context, maker, signer common.Address) (bool, error)
}

// RegistryHandler serves the registry endpoints.
type RegistryHandler struct {
	registry RegistryService
	logger   *slog.Logger
}

// NewRegistryHandler creates a RegistryHandler.
func NewRegistryHandler(registry RegistryService, logger *slog.Logger) *RegistryHandler {
	return &RegistryHandler{registry: registry, logger: logHandler(logger, "registry")}
}

type rfqOriginsRequest struct {
	Caller  common.Address   `json:"caller"`
	Origins []common.Address `json:"origins"`
	Allowed bool             `json:"allowed"`
}

type orderSignerRequest struct {
	Caller  common.Address `json:"caller"`
	Signer  common.Address `json:"signer"`
	Allowed bool           `json:"allowed"`
}

// RegisterRfqOrigins updates the caller's allowed RFQ transaction origins.
// POST /api/v1/rfq-origins
func (h *RegistryHandler) RegisterRfqOrigins(w http.ResponseWriter, r *http.Request) {
	var req rfqOriginsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.registry.RegisterAllowedRfqOrigins(r.Context(), req.Caller, req.Origins, req.Allowed); err != nil {
		writeSettlementError(w, r, h.logger, "register rfq origins", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// RegisterOrderSigner adds or removes a delegated signer of the caller.
// POST /api/v1/order-signers
func (h *RegistryHandler) RegisterOrderSigner(w http.ResponseWriter, r *http.Request) {
	var req orderSignerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.registry.RegisterAllowedOrderSigner(r.Context(), req.Caller, req.Signer, req.Allowed); err != nil {
		writeSettlementError(w, r, h.logger, "register order signer", err)
		return
	}
	writeJSON(w, http.StatusOK, req)
}

// IsValidOrderSigner reports whether signer may act for maker.
// GET /api/v1/order-signers?maker=0x...&signer=0x...
func (h *RegistryHandler) IsValidOrderSigner(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maker, signer := q.Get("maker"), q.Get("signer")
	if !common.IsHexAddress(maker) || !common.IsHexAddress(signer) {
		writeError(w, http.StatusBadRequest, "invalid_params", "maker and signer must be hex addresses")
		return
	}
	ok, err := h.registry.IsValidOrderSigner(r.Context(), common.HexToAddress(maker), common.HexToAddress(signer))
	if err != nil {
		writeSettlementError(w, r, h.logger, "is valid order signer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"maker":   common.HexToAddress(maker),
		"signer":  common.HexToAddress(signer),
		"isValid": ok,
	})
}
