package server

import (
	"net/http"
	"time"

	"github.com/loopphones/loop/internal/model"
)

// HandleRegisterDevice handles POST /v1/devices (ingest+).
func (h *Handlers) HandleRegisterDevice(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterDeviceRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateDeviceID(req.DeviceID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Model == "" || req.Manufacturer == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "model and manufacturer are required")
		return
	}
	purchaseDate, err := parseDate(req.PurchaseDate)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid purchase_date: "+err.Error())
		return
	}
	if purchaseDate.After(time.Now().UTC()) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "purchase_date must not be in the future")
		return
	}

	device, err := h.db.CreateDevice(r.Context(), model.Device{
		ID:                      req.DeviceID,
		Model:                   req.Model,
		Manufacturer:            req.Manufacturer,
		PurchaseDate:            purchaseDate,
		CurrentOwner:            req.CurrentOwner,
		StorageGB:               req.StorageGB,
		RAMGB:                   req.RAMGB,
		OriginalBatteryCapacity: req.OriginalBatteryCapacity,
		OriginalPrice:           req.OriginalPrice,
	})
	if err != nil {
		if isConflict(err) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "device already registered: "+req.DeviceID)
			return
		}
		h.writeInternalError(w, r, "failed to register device", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, device)
}

// HandleListDevices handles GET /v1/devices (reader+).
func (h *Handlers) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	var status *model.DeviceStatus
	if s := r.URL.Query().Get("status"); s != "" {
		ds := model.DeviceStatus(s)
		if !model.ValidDeviceStatus(ds) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown status: "+s)
			return
		}
		status = &ds
	}
	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	devices, total, err := h.db.ListDevices(r.Context(), status, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list devices", err)
		return
	}

	writeList(w, r, devices, &total, limit, offset, offset+len(devices) < total)
}

// HandleGetDevice handles GET /v1/devices/{device_id} (reader+).
func (h *Handlers) HandleGetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	device, err := h.db.GetDevice(r.Context(), deviceID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "failed to get device", err)
		return
	}
	writeJSON(w, r, http.StatusOK, device)
}

// HandleDeleteDevice handles DELETE /v1/devices/{device_id} (admin-only).
func (h *Handlers) HandleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	if err := h.db.DeleteDevice(r.Context(), deviceID); err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "failed to delete device", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"device_id": deviceID, "deleted": true})
}

// HandleIngestTelemetry handles POST /v1/telemetry (ingest+).
func (h *Handlers) HandleIngestTelemetry(w http.ResponseWriter, r *http.Request) {
	var req model.IngestTelemetryRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateDeviceID(req.DeviceID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.BatteryHealthPct < 0 || req.BatteryHealthPct > 100 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "battery_health_pct must be between 0 and 100")
		return
	}

	timestamp := time.Now().UTC()
	if req.Timestamp != nil {
		t, err := time.Parse(time.RFC3339, *req.Timestamp)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid timestamp: expected RFC3339")
			return
		}
		timestamp = t.UTC()
	}

	snap, err := h.analysisSvc.IngestSnapshot(r.Context(), model.TelemetrySnapshot{
		DeviceID:            req.DeviceID,
		Timestamp:           timestamp,
		BatteryCycleCount:   req.BatteryCycleCount,
		BatteryHealthPct:    req.BatteryHealthPct,
		BatteryVoltage:      req.BatteryVoltage,
		BatteryTemperature:  req.BatteryTemperature,
		CPUThrottlingEvents: req.CPUThrottlingEvents,
		ThermalEventsCount:  req.ThermalEventsCount,
		CrashCount:          req.CrashCount,
	})
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+req.DeviceID)
			return
		}
		h.writeInternalError(w, r, "failed to ingest telemetry", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, snap)
}

// HandleTelemetryHistory handles GET /v1/devices/{device_id}/telemetry (reader+).
func (h *Handlers) HandleTelemetryHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	limit := queryLimit(r, 100)

	since, err := queryTime(r, "since")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	from := time.Now().UTC().AddDate(0, 0, -30)
	if since != nil {
		from = *since
	}

	snaps, err := h.db.ListTelemetrySince(r.Context(), deviceID, from, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load telemetry history", err)
		return
	}
	writeList(w, r, snaps, nil, limit, 0, len(snaps) == limit)
}

// HandleLatestTelemetry handles GET /v1/devices/{device_id}/telemetry/latest (reader+).
func (h *Handlers) HandleLatestTelemetry(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	snap, err := h.db.LatestTelemetry(r.Context(), deviceID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no telemetry for device: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "failed to load latest telemetry", err)
		return
	}
	writeJSON(w, r, http.StatusOK, snap)
}

// HandleGradeDevice handles POST /v1/gradings (ingest+). Runs the grading
// engine over the submitted images, persists the record, and marks the
// device graded.
func (h *Handlers) HandleGradeDevice(w http.ResponseWriter, r *http.Request) {
	var req model.GradeDeviceRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateDeviceID(req.DeviceID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if len(req.ImageURLs) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "at least one image URL is required")
		return
	}
	if err := model.ValidateImageURLs(req.ImageURLs); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if _, err := h.db.GetDevice(r.Context(), req.DeviceID); err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+req.DeviceID)
			return
		}
		h.writeInternalError(w, r, "failed to get device", err)
		return
	}

	result, err := h.grader.Grade(r.Context(), req.ImageURLs)
	if err != nil {
		h.writeInternalError(w, r, "grading failed", err)
		return
	}

	stored, err := h.db.InsertGrading(r.Context(), req.DeviceID, result)
	if err != nil {
		h.writeInternalError(w, r, "failed to persist grading", err)
		return
	}

	if err := h.db.UpdateDeviceStatus(r.Context(), req.DeviceID, model.StatusGraded); err != nil {
		h.logger.Warn("failed to mark device graded", "device_id", req.DeviceID, "error", err)
	}

	writeJSON(w, r, http.StatusCreated, stored)
}

// HandleGradingHistory handles GET /v1/devices/{device_id}/gradings (reader+).
func (h *Handlers) HandleGradingHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	limit := queryLimit(r, 50)

	gradings, err := h.db.ListGradings(r.Context(), deviceID, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load grading history", err)
		return
	}
	writeList(w, r, gradings, nil, limit, 0, len(gradings) == limit)
}

// HandleLatestGrading handles GET /v1/devices/{device_id}/gradings/latest (reader+).
func (h *Handlers) HandleLatestGrading(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	g, err := h.db.LatestGrading(r.Context(), deviceID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no grading for device: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "failed to load latest grading", err)
		return
	}
	writeJSON(w, r, http.StatusOK, g)
}

// HandlePriceHistory handles GET /v1/devices/{device_id}/prices (reader+).
func (h *Handlers) HandlePriceHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	limit := queryLimit(r, 50)

	prices, err := h.db.ListPriceEstimates(r.Context(), deviceID, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to load price history", err)
		return
	}
	writeList(w, r, prices, nil, limit, 0, len(prices) == limit)
}

// parseDate accepts an RFC 3339 timestamp or a plain YYYY-MM-DD date.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
