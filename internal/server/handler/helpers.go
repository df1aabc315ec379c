package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/nativeorders/internal/domain"
	"github.com/alanyoungcy/nativeorders/internal/settlement"
)

// maxBodyBytes bounds request bodies. Batch cancels are the largest payloads.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse is the body of every non-2xx response. Kind names the
// failure and Params carries the identities involved.
type errorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body: "+err.Error())
		return false
	}
	return true
}

// writeSettlementError maps an engine error onto a status code and a typed
// body. Unknown errors are logged and reported as 500.
func writeSettlementError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status, body := classify(err)
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.String("error", err.Error()),
		)
		body.Message = op + " failed"
	}
	writeJSON(w, status, body)
}

func classify(err error) (int, errorResponse) {
	var (
		notFillable *domain.OrderNotFillableError
		byTaker     *domain.OrderNotFillableByTakerError
		bySender    *domain.OrderNotFillableBySenderError
		byOrigin    *domain.OrderNotFillableByOriginError
		notSigned   *domain.OrderNotSignedByMakerError
		onlyMaker   *domain.OnlyOrderMakerAllowedError
		badSigner   *domain.InvalidSignerError
		fok         *domain.FillOrKillFailedError
		saltTooLow  *domain.CancelSaltTooLowError
	)
	msg := err.Error()

	switch {
	case errors.As(err, &notFillable):
		return http.StatusConflict, errorResponse{Error: "order_not_fillable", Message: msg, Params: map[string]any{
			"orderHash": notFillable.Hash,
			"status":    notFillable.Status,
		}}
	case errors.As(err, &fok):
		return http.StatusConflict, errorResponse{Error: "fill_or_kill_failed", Message: msg, Params: map[string]any{
			"orderHash":              fok.Hash,
			"takerTokenFilledAmount": fok.TakerFilledAmount,
			"takerTokenFillAmount":   fok.TakerFillRequested,
		}}
	case errors.As(err, &saltTooLow):
		return http.StatusConflict, errorResponse{Error: "cancel_salt_too_low", Message: msg, Params: map[string]any{
			"minValidSalt":    saltTooLow.MinValidSalt,
			"oldMinValidSalt": saltTooLow.OldMinValidSalt,
		}}
	case errors.As(err, &byTaker):
		return http.StatusForbidden, errorResponse{Error: "order_not_fillable_by_taker", Message: msg, Params: map[string]any{
			"orderHash":  byTaker.Hash,
			"taker":      byTaker.Taker,
			"orderTaker": byTaker.OrderTaker,
		}}
	case errors.As(err, &bySender):
		return http.StatusForbidden, errorResponse{Error: "order_not_fillable_by_sender", Message: msg, Params: map[string]any{
			"orderHash":   bySender.Hash,
			"sender":      bySender.Sender,
			"orderSender": bySender.OrderSender,
		}}
	case errors.As(err, &byOrigin):
		return http.StatusForbidden, errorResponse{Error: "order_not_fillable_by_origin", Message: msg, Params: map[string]any{
			"orderHash":     byOrigin.Hash,
			"txOrigin":      byOrigin.TxOrigin,
			"orderTxOrigin": byOrigin.OrderTxOrigin,
		}}
	case errors.As(err, &notSigned):
		return http.StatusForbidden, errorResponse{Error: "order_not_signed_by_maker", Message: msg, Params: map[string]any{
			"orderHash": notSigned.Hash,
			"signer":    notSigned.Signer,
			"maker":     notSigned.Maker,
		}}
	case errors.As(err, &onlyMaker):
		return http.StatusForbidden, errorResponse{Error: "only_order_maker_allowed", Message: msg, Params: map[string]any{
			"orderHash": onlyMaker.Hash,
			"sender":    onlyMaker.Sender,
			"maker":     onlyMaker.Maker,
		}}
	case errors.As(err, &badSigner):
		return http.StatusForbidden, errorResponse{Error: "invalid_signer", Message: msg, Params: map[string]any{
			"maker":  badSigner.Maker,
			"signer": badSigner.Signer,
		}}
	case errors.Is(err, domain.ErrFillLimitExceeded):
		return http.StatusConflict, errorResponse{Error: "fill_limit_exceeded", Message: msg}
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusConflict, errorResponse{Error: "insufficient_balance", Message: msg}
	case errors.Is(err, domain.ErrLockHeld):
		return http.StatusLocked, errorResponse{Error: "lock_held", Message: msg}
	case errors.Is(err, domain.ErrReentrantCall):
		return http.StatusLocked, errorResponse{Error: "reentrant_call", Message: msg}
	case errors.Is(err, settlement.ErrInvalidParams):
		return http.StatusBadRequest, errorResponse{Error: "invalid_params", Message: msg}
	case errors.Is(err, domain.ErrInvalidOrder):
		return http.StatusBadRequest, errorResponse{Error: "invalid_order", Message: msg}
	case errors.Is(err, domain.ErrArithmeticOverflow):
		return http.StatusBadRequest, errorResponse{Error: "arithmetic_overflow", Message: msg}
	default:
		return http.StatusInternalServerError, errorResponse{Error: "internal"}
	}
}

// parseListOpts extracts pagination and time-range parameters from the query
// string. Defaults: limit=50 (max 500), offset=0. since and until are
// RFC 3339 timestamps.
func parseListOpts(r *http.Request) (domain.ListOpts, error) {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	opts := domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
	for name, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return opts, fmt.Errorf("%s: %w", name, err)
		}
		*dst = &t
	}
	return opts, nil
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// logHandler is a convenience to attach slog fields in handler code.
func logHandler(logger *slog.Logger, handler string) *slog.Logger {
	return logger.With(slog.String("handler", handler))
}
