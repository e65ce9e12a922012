package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/service/analysis"
)

// HandleAnalyze handles POST /v1/analysis/{device_id} (ingest+). Runs the
// full pipeline; the body is optional and defaults to grading and pricing
// both enabled.
func (h *Handlers) HandleAnalyze(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	var req model.AnalyzeRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil && !errors.Is(err, io.EOF) {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateImageURLs(req.ImageURLs); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	opts := analysis.Options{
		IncludeGrading: req.IncludeGrading == nil || *req.IncludeGrading,
		IncludePricing: req.IncludePricing == nil || *req.IncludePricing,
		ImageURLs:      req.ImageURLs,
	}

	report, err := h.analysisSvc.Analyze(r.Context(), deviceID, opts)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "analysis failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, report)
}

// HandleAnalyzeHealth handles GET /v1/analysis/{device_id}/health (reader+).
// Health-only view: no grading, no pricing, nothing persisted.
func (h *Handlers) HandleAnalyzeHealth(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	report, err := h.analysisSvc.Analyze(r.Context(), deviceID, analysis.Options{})
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "analysis failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"device_id":         deviceID,
		"health_prediction": report.HealthPrediction,
	})
}

// HandleAnalyzeRecommendations handles GET /v1/analysis/{device_id}/recommendations
// (reader+). Synthesizes recommendations from the stored grading and a fresh
// price estimate; the detector never runs here since no images are supplied.
func (h *Handlers) HandleAnalyzeRecommendations(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")

	report, err := h.analysisSvc.Analyze(r.Context(), deviceID, analysis.Options{
		IncludeGrading: true,
		IncludePricing: true,
	})
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "analysis failed", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"device_id":       deviceID,
		"recommendations": report.Recommendations,
	})
}
