package server

import (
	"net/http"

	"github.com/loopphones/loop/internal/model"
)

// HandleCreatePassport handles POST /v1/passports (ingest+). Mints a ledger
// receipt and creates the device's digital passport; a device can hold at
// most one.
func (h *Handlers) HandleCreatePassport(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePassportRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := model.ValidateDeviceID(req.DeviceID); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.OwnerAddress == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "owner_address is required")
		return
	}

	passport, err := h.tracker.CreatePassport(r.Context(), req.DeviceID, req.OwnerAddress)
	if err != nil {
		switch {
		case isNotFound(err):
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "device not found: "+req.DeviceID)
		case isConflict(err):
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "device already has a passport: "+req.DeviceID)
		default:
			h.writeInternalError(w, r, "failed to create passport", err)
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, passport)
}

// HandleGetPassport handles GET /v1/passports/{passport_id} (reader+).
func (h *Handlers) HandleGetPassport(w http.ResponseWriter, r *http.Request) {
	passportID := r.PathValue("passport_id")
	passport, err := h.db.GetPassport(r.Context(), passportID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "passport not found: "+passportID)
			return
		}
		h.writeInternalError(w, r, "failed to get passport", err)
		return
	}
	writeJSON(w, r, http.StatusOK, passport)
}

// HandleGetDevicePassport handles GET /v1/devices/{device_id}/passport (reader+).
func (h *Handlers) HandleGetDevicePassport(w http.ResponseWriter, r *http.Request) {
	deviceID := r.PathValue("device_id")
	passport, err := h.db.GetPassportByDevice(r.Context(), deviceID)
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "no passport for device: "+deviceID)
			return
		}
		h.writeInternalError(w, r, "failed to get passport", err)
		return
	}
	writeJSON(w, r, http.StatusOK, passport)
}

// HandleRecordEvent handles POST /v1/passports/{passport_id}/events (ingest+).
// Records the event on the ledger, appends it to the passport history, and
// recomputes the lifecycle scores.
func (h *Handlers) HandleRecordEvent(w http.ResponseWriter, r *http.Request) {
	passportID := r.PathValue("passport_id")

	var req model.RecordEventRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.EventType == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "event_type is required")
		return
	}
	if len(req.Description) > model.MaxDescriptionLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "description too long")
		return
	}

	passport, err := h.tracker.RecordEvent(r.Context(), passportID, model.LifecycleEvent{
		EventType:   req.EventType,
		Description: req.Description,
		Metadata:    req.Metadata,
	})
	if err != nil {
		if isNotFound(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "passport not found: "+passportID)
			return
		}
		h.writeInternalError(w, r, "failed to record lifecycle event", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, passport)
}
