package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/loopphones/loop/internal/ledger"
	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/storage"
)

// PassportStore is the persistence surface the tracker needs for
// passports.
type PassportStore interface {
	CreatePassport(ctx context.Context, p model.Passport) error
	GetPassport(ctx context.Context, id string) (model.Passport, error)
	GetPassportByDevice(ctx context.Context, deviceID string) (model.Passport, error)
	UpdatePassport(ctx context.Context, p model.Passport) error
}

// DeviceStore is the persistence surface the tracker needs for devices.
type DeviceStore interface {
	GetDevice(ctx context.Context, id string) (model.Device, error)
	SetDevicePassport(ctx context.Context, deviceID, passportID, mintAddress string) error
}

// Tracker creates passports and applies lifecycle events to them. Events
// for the same passport are serialized through a per-passport lock, so two
// racing events both land and both counters stick.
type Tracker struct {
	passports PassportStore
	devices   DeviceStore
	recorder  ledger.Recorder
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTracker wires a lifecycle tracker.
func NewTracker(passports PassportStore, devices DeviceStore, recorder ledger.Recorder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		passports: passports,
		devices:   devices,
		recorder:  recorder,
		logger:    logger,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lockFor returns the mutex serializing one passport's events. The map is
// bounded by the number of distinct passports seen by this process.
func (t *Tracker) lockFor(passportID string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[passportID]
	if !ok {
		l = &sync.Mutex{}
		t.locks[passportID] = l
	}
	return l
}

// CreatePassport mints a passport for the device and persists it. One
// passport per device: a second create returns storage.ErrConflict.
func (t *Tracker) CreatePassport(ctx context.Context, deviceID, ownerAddress string) (model.Passport, error) {
	device, err := t.devices.GetDevice(ctx, deviceID)
	if err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: load device: %w", err)
	}

	if _, err := t.passports.GetPassportByDevice(ctx, deviceID); err == nil {
		return model.Passport{}, fmt.Errorf("lifecycle: passport for device %s: %w", deviceID, storage.ErrConflict)
	} else if !errors.Is(err, storage.ErrNotFound) {
		return model.Passport{}, fmt.Errorf("lifecycle: check existing passport: %w", err)
	}

	receipt, err := t.recorder.MintPassport(ctx, deviceID, ownerAddress, map[string]any{
		"device_id":     device.ID,
		"model":         device.Model,
		"manufacturer":  device.Manufacturer,
		"purchase_date": device.PurchaseDate.Format(time.RFC3339),
	})
	if err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: mint passport: %w", err)
	}

	now := time.Now().UTC()
	passport := model.Passport{
		ID:               "PASS-" + deviceID,
		DeviceID:         deviceID,
		MintAddress:      receipt.MintAddress,
		OwnerAddress:     ownerAddress,
		CircularityScore: baseCircularityScore,
		CarbonFootprint:  InitialCarbonFootprint(),
		LifecycleEvents: []model.LifecycleEvent{{
			EventType:   model.EventMinted,
			Timestamp:   now,
			Description: "Digital Passport created",
			Metadata: map[string]any{
				"mint_address": receipt.MintAddress,
				"network":      receipt.Network,
				"explorer_url": receipt.ExplorerURL,
			},
			LedgerTx: receipt.TransactionSignature,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := t.passports.CreatePassport(ctx, passport); err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: create passport: %w", err)
	}
	if err := t.devices.SetDevicePassport(ctx, deviceID, passport.ID, passport.MintAddress); err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: link device passport: %w", err)
	}

	t.logger.Info("lifecycle: passport created",
		"passport_id", passport.ID, "device_id", deviceID, "mint_address", passport.MintAddress)
	return passport, nil
}

// RecordEvent records the event on the ledger and applies it to the
// passport. Unknown event types are accepted and kept in history.
func (t *Tracker) RecordEvent(ctx context.Context, passportID string, ev model.LifecycleEvent) (model.Passport, error) {
	lock := t.lockFor(passportID)
	lock.Lock()
	defer lock.Unlock()

	passport, err := t.passports.GetPassport(ctx, passportID)
	if err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: load passport: %w", err)
	}
	device, err := t.devices.GetDevice(ctx, passport.DeviceID)
	if err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: load device: %w", err)
	}

	receipt, err := t.recorder.RecordEvent(ctx, passport.MintAddress, ev.EventType, map[string]any{
		"description": ev.Description,
		"metadata":    ev.Metadata,
	})
	if err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: record on ledger: %w", err)
	}
	ev.LedgerTx = receipt.TransactionSignature

	updated := Apply(passport, ev, device.PurchaseDate, time.Now().UTC())
	if err := t.passports.UpdatePassport(ctx, updated); err != nil {
		return model.Passport{}, fmt.Errorf("lifecycle: update passport: %w", err)
	}

	t.logger.Info("lifecycle: event recorded",
		"passport_id", passportID, "event_type", ev.EventType,
		"circularity_score", updated.CircularityScore, "ledger_tx", ev.LedgerTx)
	return updated, nil
}
