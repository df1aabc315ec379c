package handler

import (
	"context"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/settlement"
)

// OrderService defines the methods that the order handler requires from the
// settlement engine.
type OrderService interface {
	FillLimitOrder(ctx context.Context, o domain.LimitOrder, sig domain.Signature, amount *big.Int, p settlement.FillParams) (settlement.FillResult, error)
	FillOrKillLimitOrder(ctx context.Context, o domain.LimitOrder, sig domain.Signature, amount *big.Int, p settlement.FillParams) (settlement.FillResult, error)
	FillRfqOrder(ctx context.Context, o domain.RfqOrder, sig domain.Signature, amount *big.Int, p settlement.FillParams) (settlement.FillResult, error)
	FillOrKillRfqOrder(ctx context.Context, o domain.RfqOrder, sig domain.Signature, amount *big.Int, p settlement.FillParams) (settlement.FillResult, error)

	CancelLimitOrder(ctx context.Context, caller common.Address, o domain.LimitOrder) error
	BatchCancelLimitOrders(ctx context.Context, caller common.Address, orders []domain.LimitOrder) error
	CancelRfqOrder(ctx context.Context, caller common.Address, o domain.RfqOrder) error
	BatchCancelRfqOrders(ctx context.Context, caller common.Address, orders []domain.RfqOrder) error

	CancelPairLimitOrders(ctx context.Context, caller common.Address, c settlement.PairCancel) error
	BatchCancelPairLimitOrders(ctx context.Context, caller common.Address, pairs []settlement.PairCancel) error
	CancelPairRfqOrders(ctx context.Context, caller common.Address, c settlement.PairCancel) error
	BatchCancelPairRfqOrders(ctx context.Context, caller common.Address, pairs []settlement.PairCancel) error

	GetLimitOrderInfo(ctx context.Context, o domain.LimitOrder) (domain.OrderInfo, error)
	GetRfqOrderInfo(ctx context.Context, o domain.RfqOrder) (domain.OrderInfo, error)
	GetLimitOrderRelevantState(ctx context.Context, o domain.LimitOrder, sig domain.Signature) (domain.RelevantState, error)
	GetRfqOrderRelevantState(ctx context.Context, o domain.RfqOrder, sig domain.Signature) (domain.RelevantState, error)
}

// OrderHandler serves the fill, cancel and info endpoints of both order
// kinds.
type OrderHandler struct {
	orders OrderService
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler with the given service and logger.
func NewOrderHandler(orders OrderService, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		orders: orders,
		logger: logHandler(logger, "orders"),
	}
}

// fillRequest is the body of a fill. Caller identities sit at the top level.
type fillRequest[T any] struct {
	Order                T                `json:"order"`
	Signature            domain.Signature `json:"signature"`
	TakerTokenFillAmount *big.Int         `json:"takerTokenFillAmount"`
	FillOrKill           bool             `json:"fillOrKill"`
	settlement.FillParams
}

// cancelRequest cancels either one order or a batch.
type cancelRequest[T any] struct {
	Caller common.Address `json:"caller"`
	Order  *T             `json:"order,omitempty"`
	Orders []T            `json:"orders,omitempty"`
}

// cancelPairRequest cancels either one pair, given inline, or a batch.
type cancelPairRequest struct {
	Caller common.Address `json:"caller"`
	settlement.PairCancel
	Pairs []settlement.PairCancel `json:"pairs,omitempty"`
}

// infoRequest asks for an order's info, or its relevant state when a
// signature is supplied.
type infoRequest[T any] struct {
	Order     T                 `json:"order"`
	Signature *domain.Signature `json:"signature,omitempty"`
}

// FillLimitOrder fills a limit order.
// POST /api/v1/limit-orders/fill
func (h *OrderHandler) FillLimitOrder(w http.ResponseWriter, r *http.Request) {
	var req fillRequest[domain.LimitOrder]
	if !decodeJSON(w, r, &req) {
		return
	}
	fill := h.orders.FillLimitOrder
	if req.FillOrKill {
		fill = h.orders.FillOrKillLimitOrder
	}
	res, err := fill(r.Context(), req.Order, req.Signature, req.TakerTokenFillAmount, req.FillParams)
	if err != nil {
		writeSettlementError(w, r, h.logger, "fill limit order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FillRfqOrder fills an RFQ order.
// POST /api/v1/rfq-orders/fill
func (h *OrderHandler) FillRfqOrder(w http.ResponseWriter, r *http.Request) {
	var req fillRequest[domain.RfqOrder]
	if !decodeJSON(w, r, &req) {
		return
	}
	fill := h.orders.FillRfqOrder
	if req.FillOrKill {
		fill = h.orders.FillOrKillRfqOrder
	}
	res, err := fill(r.Context(), req.Order, req.Signature, req.TakerTokenFillAmount, req.FillParams)
	if err != nil {
		writeSettlementError(w, r, h.logger, "fill rfq order", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CancelLimitOrders cancels one limit order or a batch.
// POST /api/v1/limit-orders/cancel
func (h *OrderHandler) CancelLimitOrders(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest[domain.LimitOrder]
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	switch {
	case len(req.Orders) > 0:
		err = h.orders.BatchCancelLimitOrders(r.Context(), req.Caller, req.Orders)
	case req.Order != nil:
		err = h.orders.CancelLimitOrder(r.Context(), req.Caller, *req.Order)
	default:
		writeError(w, http.StatusBadRequest, "invalid_body", "order or orders is required")
		return
	}
	if err != nil {
		writeSettlementError(w, r, h.logger, "cancel limit orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "count": max(len(req.Orders), 1)})
}

// CancelRfqOrders cancels one RFQ order or a batch.
// POST /api/v1/rfq-orders/cancel
func (h *OrderHandler) CancelRfqOrders(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest[domain.RfqOrder]
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	switch {
	case len(req.Orders) > 0:
		err = h.orders.BatchCancelRfqOrders(r.Context(), req.Caller, req.Orders)
	case req.Order != nil:
		err = h.orders.CancelRfqOrder(r.Context(), req.Caller, *req.Order)
	default:
		writeError(w, http.StatusBadRequest, "invalid_body", "order or orders is required")
		return
	}
	if err != nil {
		writeSettlementError(w, r, h.logger, "cancel rfq orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "count": max(len(req.Orders), 1)})
}

// CancelPairLimitOrders raises the minimum valid salt of one or more limit
// order pairs.
// POST /api/v1/limit-orders/cancel-pair
func (h *OrderHandler) CancelPairLimitOrders(w http.ResponseWriter, r *http.Request) {
	var req cancelPairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	if len(req.Pairs) > 0 {
		err = h.orders.BatchCancelPairLimitOrders(r.Context(), req.Caller, req.Pairs)
	} else {
		err = h.orders.CancelPairLimitOrders(r.Context(), req.Caller, req.PairCancel)
	}
	if err != nil {
		writeSettlementError(w, r, h.logger, "cancel pair limit orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "count": max(len(req.Pairs), 1)})
}

// CancelPairRfqOrders raises the minimum valid salt of one or more RFQ order
// pairs.
// POST /api/v1/rfq-orders/cancel-pair
func (h *OrderHandler) CancelPairRfqOrders(w http.ResponseWriter, r *http.Request) {
	var req cancelPairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var err error
	if len(req.Pairs) > 0 {
		err = h.orders.BatchCancelPairRfqOrders(r.Context(), req.Caller, req.Pairs)
	} else {
		err = h.orders.CancelPairRfqOrders(r.Context(), req.Caller, req.PairCancel)
	}
	if err != nil {
		writeSettlementError(w, r, h.logger, "cancel pair rfq orders", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "cancelled", "count": max(len(req.Pairs), 1)})
}

// LimitOrderInfo returns a limit order's info, or its relevant state when
// the request carries a signature.
// POST /api/v1/limit-orders/info
func (h *OrderHandler) LimitOrderInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest[domain.LimitOrder]
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Signature != nil {
		state, err := h.orders.GetLimitOrderRelevantState(r.Context(), req.Order, *req.Signature)
		if err != nil {
			writeSettlementError(w, r, h.logger, "limit order relevant state", err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}
	info, err := h.orders.GetLimitOrderInfo(r.Context(), req.Order)
	if err != nil {
		writeSettlementError(w, r, h.logger, "limit order info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// RfqOrderInfo returns an RFQ order's info, or its relevant state when the
// request carries a signature.
// POST /api/v1/rfq-orders/info
func (h *OrderHandler) RfqOrderInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest[domain.RfqOrder]
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Signature != nil {
		state, err := h.orders.GetRfqOrderRelevantState(r.Context(), req.Order, *req.Signature)
		if err != nil {
			writeSettlementError(w, r, h.logger, "rfq order relevant state", err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}
	info, err := h.orders.GetRfqOrderInfo(r.Context(), req.Order)
	if err != nil {
		writeSettlementError(w, r, h.logger, "rfq order info", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
