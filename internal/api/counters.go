package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"tally/internal/counter"
)

type recordRequest struct {
	Category string `json:"category"`
	Delta    *int64 `json:"delta"`
	Product  string `json:"product,omitempty"`
	TV       string `json:"tv,omitempty"`
}

type recordResponse struct {
	OK bool `json:"ok"`
}

type countResponse struct {
	Kind     counter.Kind `json:"kind"`
	Day      string       `json:"day"`
	Category string       `json:"category"`
	Product  string       `json:"product,omitempty"`
	TV       string       `json:"tv,omitempty"`
	Value    int64        `json:"value"`
}

func (h *handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	if h.counters == nil {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return
	}
	kind, err := counter.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_kind")
		return
	}
	var req recordRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	delta := int64(1)
	if req.Delta != nil {
		delta = *req.Delta
	}
	dims, ok := dimensions(kind, strings.TrimSpace(req.Product), strings.TrimSpace(req.TV))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	err = h.counters.Add(r.Context(), kind, delta, strings.TrimSpace(req.Category), dims...)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, recordResponse{OK: true})
	case errors.Is(err, counter.ErrInvalidCategory), errors.Is(err, counter.ErrInvalidDimension):
		writeError(w, http.StatusBadRequest, "invalid_category")
	case errors.Is(err, counter.ErrPipelineClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable")
	default:
		h.logger.Error("record counter failed", "kind", kind, "category", req.Category, "error", err)
		writeError(w, http.StatusInternalServerError, "backend_error")
	}
}

func (h *handler) handleCount(w http.ResponseWriter, r *http.Request) {
	if h.counters == nil {
		writeError(w, http.StatusInternalServerError, "backend_error")
		return
	}
	kind, err := counter.ParseKind(r.PathValue("kind"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown_kind")
		return
	}
	query := r.URL.Query()
	day := strings.TrimSpace(query.Get("day"))
	if day == "" {
		day = h.counters.Policy().Today()
	}
	if !counter.ValidDay(day) {
		writeError(w, http.StatusBadRequest, "invalid_day")
		return
	}
	product := strings.TrimSpace(query.Get("product"))
	tv := strings.TrimSpace(query.Get("tv"))
	dims, ok := dimensions(kind, product, tv)
	if !ok || len(dims) > 1 {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return
	}
	category := r.PathValue("category")
	writeJSON(w, http.StatusOK, countResponse{
		Kind:     kind,
		Day:      day,
		Category: category,
		Product:  product,
		TV:       tv,
		Value:    h.counters.Count(r.Context(), kind, day, category, dims...),
	})
}

// dimensions builds the optional sub-dimensions. Only successful responses
// carry them.
func dimensions(kind counter.Kind, product, tv string) ([]counter.Dimension, bool) {
	var dims []counter.Dimension
	if product != "" {
		dims = append(dims, counter.Product(product))
	}
	if tv != "" {
		dims = append(dims, counter.TV(tv))
	}
	if len(dims) > 0 && kind != counter.ResponseSuccess {
		return nil, false
	}
	return dims, true
}
