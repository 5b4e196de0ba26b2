package routes

import (
	"net/http"
)

type priceView struct {
	Token         string `json:"token"`
	Base          string `json:"base"`
	Spot          string `json:"spot"`
	Windowed      string `json:"windowed,omitempty"`
	WindowedError string `json:"windowedError,omitempty"`
	// LendingOracle names the variant lending values accounts with.
	LendingOracle string `json:"lendingOracle"`
}

func (h *handlers) getPrice(w http.ResponseWriter, r *http.Request) {
	token, err := addressParam(r, "token")
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	ctx, cancel := h.context(r.Context())
	defer cancel()

	report, err := h.node.Price(ctx, token)
	if err != nil {
		writeNodeError(w, err)
		return
	}
	view := priceView{
		Token:         token.Hex(),
		Base:          h.node.BaseToken().Hex(),
		Spot:          decimal(report.Spot),
		LendingOracle: report.Kind.String(),
	}
	if report.WindowedErr != nil {
		view.WindowedError = report.WindowedErr.Error()
	} else {
		view.Windowed = decimal(report.Windowed)
	}
	writeJSON(w, http.StatusOK, view)
}
