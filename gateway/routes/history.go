package routes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"defiapps/native/oracle"
	"defiapps/services/keeper"
)

const maxHistoryLimit = 1000

// PriceHistory is the archive the keeper records oracle readings into.
type PriceHistory interface {
	Latest(ctx context.Context, token, kind string) (*keeper.PriceSample, error)
	History(ctx context.Context, token string, since time.Time, limit int) ([]keeper.PriceSample, error)
}

type sampleView struct {
	Kind       string `json:"kind"`
	Price      string `json:"price"`
	ObservedAt int64  `json:"observedAt"`
}

func viewSample(s keeper.PriceSample) sampleView {
	return sampleView{Kind: s.Kind, Price: s.PriceWad, ObservedAt: s.ObservedAt.Unix()}
}

// priceHistory serves ?since=<unix seconds>&limit=<n>, oldest first.
func (h *handlers) priceHistory(w http.ResponseWriter, r *http.Request) {
	token, err := addressParam(r, "token")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	query := r.URL.Query()
	var since time.Time
	if raw := strings.TrimSpace(query.Get("since")); raw != "" {
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || secs < 0 {
			writeBadRequest(w, fmt.Errorf("%w: since must be unix seconds", errBadRequest))
			return
		}
		since = time.Unix(secs, 0).UTC()
	}
	limit := 0
	if raw := strings.TrimSpace(query.Get("limit")); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxHistoryLimit {
			writeBadRequest(w, fmt.Errorf("%w: limit must be between 1 and %d", errBadRequest, maxHistoryLimit))
			return
		}
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	samples, err := h.history.History(ctx, token.Hex(), since, limit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Reason: "internal"})
		return
	}
	views := make([]sampleView, len(samples))
	for i, s := range samples {
		views[i] = viewSample(s)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"token": token.Hex(), "samples": views})
}

// latestPrice serves the newest archived reading; ?kind defaults to windowed.
func (h *handlers) latestPrice(w http.ResponseWriter, r *http.Request) {
	token, err := addressParam(r, "token")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	kind := oracle.KindWindowed
	if raw := r.URL.Query().Get("kind"); raw != "" {
		if kind, err = oracle.ParseKind(raw); err != nil {
			writeBadRequest(w, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	sample, err := h.history.Latest(ctx, token.Hex(), kind.String())
	switch {
	case errors.Is(err, keeper.ErrNoSamples):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error(), Reason: "not_found"})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error(), Reason: "internal"})
		return
	}
	writeJSON(w, http.StatusOK, viewSample(*sample))
}
