package handler

import (
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StatusHandler serves the signing domain and backend selection so clients
// can check their typed-data domain before signing.
type StatusHandler struct {
	Mode              string
	DomainName        string
	DomainVersion     string
	ChainID           *big.Int
	VerifyingContract common.Address
	StateBackend      string
	StartedAt         time.Time
}

// GetStatus responds with the signing domain and runtime metadata.
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":              h.Mode,
		"domainName":        h.DomainName,
		"domainVersion":     h.DomainVersion,
		"chainId":           h.ChainID,
		"verifyingContract": h.VerifyingContract,
		"stateBackend":      h.StateBackend,
		"uptimeSeconds":     int64(time.Since(h.StartedAt).Seconds()),
	})
}
