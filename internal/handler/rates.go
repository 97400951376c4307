package handler

import (
	"net/http"
	"time"

	"qfs/internal/rates"
)

// RatesHandler serves the current reference-asset rate.
type RatesHandler struct {
	service *rates.Service
}

func NewRatesHandler(service *rates.Service) *RatesHandler {
	return &RatesHandler{service: service}
}

// Current returns the BTC/USD rate in use for conversions.
func (h *RatesHandler) Current(w http.ResponseWriter, r *http.Request) {
	rate := h.service.Current(r.Context())

	payload := map[string]interface{}{
		"pair":   "BTC/USD",
		"rate":   rate,
		"asOf":   time.Now().UTC(),
		"isLive": !h.service.FetchedAt().IsZero(),
	}
	respondJSON(w, http.StatusOK, payload)
}
