package api

import (
	"encoding/json"
	"net/http"

	"tally/internal/limits"
)

type limitsResponse struct {
	Limits []limits.Entry `json:"limits"`
}

type limitResponse struct {
	Category  string `json:"category"`
	Limit     int64  `json:"limit"`
	Unbounded bool   `json:"unbounded"`
}

type putLimitRequest struct {
	Limit *int64 `json:"limit"`
}

type putLimitResponse struct {
	OK bool `json:"ok"`
}

func (h *handler) handleListLimits(w http.ResponseWriter, _ *http.Request) {
	if h.limits == nil {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return
	}
	entries := h.limits.Limits()
	if entries == nil {
		entries = []limits.Entry{}
	}
	writeJSON(w, http.StatusOK, limitsResponse{Limits: entries})
}

func (h *handler) handleGetLimit(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return
	}
	category := r.PathValue("category")
	limit := h.limits.Limit(category)
	writeJSON(w, http.StatusOK, limitResponse{
		Category:  category,
		Limit:     limit,
		Unbounded: limit == limits.Unbounded,
	})
}

func (h *handler) handlePutLimit(w http.ResponseWriter, r *http.Request) {
	if h.limits == nil {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return
	}
	var req putLimitRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil || req.Limit == nil || *req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	if !h.limits.SetLimit(r.Context(), r.PathValue("category"), *req.Limit) {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return
	}
	writeJSON(w, http.StatusOK, putLimitResponse{OK: true})
}
