package routes

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"defiapps/core"
)

var errBadRequest = errors.New("bad request")

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func writeBadRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Reason: "validation"})
}

// writeNodeError maps node failures onto HTTP statuses using the same
// reasons the metrics carry.
func writeNodeError(w http.ResponseWriter, err error) {
	reason := core.ErrorReason(err)
	writeJSON(w, statusForReason(reason), errorResponse{Error: err.Error(), Reason: reason})
}

func statusForReason(reason string) int {
	switch reason {
	case "validation":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "insufficient_liquidity", "overflow":
		return http.StatusUnprocessableEntity
	case "stale_oracle", "paused":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, chi.URLParam(r, name))
}

func addressQuery(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, r.URL.Query().Get(name))
}

func parseAddress(name, raw string) (common.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("%w: %s must be a hex address", errBadRequest, name)
	}
	return common.HexToAddress(trimmed), nil
}

func amountQuery(r *http.Request, name string) (*big.Int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s must be a positive integer", errBadRequest, name)
	}
	return amount, nil
}

func decimal(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func decimals(values []*big.Int) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = decimal(v)
	}
	return out
}

func hexes(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, addr := range addrs {
		out[i] = addr.Hex()
	}
	return out
}
