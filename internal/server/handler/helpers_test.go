package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/nativeorders/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("memory: commit fill: %w", domain.ErrFillLimitExceeded), http.StatusConflict, "fill_limit_exceeded"},
		{domain.ErrInsufficientBalance, http.StatusConflict, "insufficient_balance"},
		{domain.ErrLockHeld, http.StatusLocked, "lock_held"},
		{fmt.Errorf("order 0: %w", domain.ErrInvalidOrder), http.StatusBadRequest, "invalid_order"},
		{errors.New("disk on fire"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			status, resp := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestGetStatusReportsDomain(t *testing.T) {
	h := &StatusHandler{
		Mode:              "server",
		DomainName:        "ZeroEx",
		DomainVersion:     "1.0.0",
		ChainID:           big.NewInt(1),
		VerifyingContract: common.HexToAddress("0xDef1C0ded9bec7F1a1670819833240f027b25EfF"),
		StateBackend:      "memory",
		StartedAt:         time.Now(),
	}
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/v1/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ZeroEx", body["domainName"])
	assert.Equal(t, "1.0.0", body["domainVersion"])
	assert.Equal(t, float64(1), body["chainId"])
}
