package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/loopphones/loop/internal/ledger"
	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/storage"
)

type memStore struct {
	mu        sync.Mutex
	devices   map[string]model.Device
	passports map[string]model.Passport
}

func newMemStore() *memStore {
	return &memStore{
		devices:   make(map[string]model.Device),
		passports: make(map[string]model.Passport),
	}
}

func (m *memStore) GetDevice(_ context.Context, id string) (model.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		return model.Device{}, storage.ErrNotFound
	}
	return d, nil
}

func (m *memStore) SetDevicePassport(_ context.Context, deviceID, passportID, mintAddress string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.devices[deviceID]
	d.PassportID = &passportID
	d.PassportMintAddress = &mintAddress
	m.devices[deviceID] = d
	return nil
}

func (m *memStore) CreatePassport(_ context.Context, p model.Passport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passports[p.ID]; ok {
		return storage.ErrConflict
	}
	m.passports[p.ID] = p
	return nil
}

func (m *memStore) GetPassport(_ context.Context, id string) (model.Passport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.passports[id]
	if !ok {
		return model.Passport{}, storage.ErrNotFound
	}
	return p, nil
}

func (m *memStore) GetPassportByDevice(_ context.Context, deviceID string) (model.Passport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.passports {
		if p.DeviceID == deviceID {
			return p, nil
		}
	}
	return model.Passport{}, storage.ErrNotFound
}

func (m *memStore) UpdatePassport(_ context.Context, p model.Passport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.passports[p.ID]; !ok {
		return storage.ErrNotFound
	}
	m.passports[p.ID] = p
	return nil
}

func newTestTracker(t *testing.T) (*Tracker, *memStore) {
	t.Helper()
	store := newMemStore()
	store.devices["dev1"] = model.Device{
		ID:           "dev1",
		Model:        "Pixel 8",
		Manufacturer: "Google",
		PurchaseDate: time.Now().UTC().AddDate(-1, 0, 0),
		Status:       model.StatusActive,
	}
	return NewTracker(store, store, ledger.NewDevnetRecorder("devnet", nil), nil), store
}

func TestCreatePassport(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()

	p, err := tr.CreatePassport(ctx, "dev1", "wallet-1")
	if err != nil {
		t.Fatalf("CreatePassport: %v", err)
	}
	if p.ID != "PASS-dev1" {
		t.Errorf("passport id = %q, want PASS-dev1", p.ID)
	}
	if p.CircularityScore != 70 || p.CarbonFootprint != 77 {
		t.Errorf("initial scores = %d/%v, want 70/77", p.CircularityScore, p.CarbonFootprint)
	}
	if len(p.LifecycleEvents) != 1 || p.LifecycleEvents[0].EventType != model.EventMinted {
		t.Errorf("LifecycleEvents = %+v, want single minted event", p.LifecycleEvents)
	}
	if p.MintAddress == "" || p.LifecycleEvents[0].LedgerTx == "" {
		t.Error("ledger receipt not recorded on passport")
	}

	dev, _ := store.GetDevice(ctx, "dev1")
	if dev.PassportID == nil || *dev.PassportID != "PASS-dev1" {
		t.Errorf("device not linked to passport: %+v", dev)
	}
}

func TestCreatePassportConflict(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.CreatePassport(ctx, "dev1", "wallet-1"); err != nil {
		t.Fatalf("first CreatePassport: %v", err)
	}
	_, err := tr.CreatePassport(ctx, "dev1", "wallet-2")
	if !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second CreatePassport error = %v, want ErrConflict", err)
	}
}

func TestCreatePassportUnknownDevice(t *testing.T) {
	tr, _ := newTestTracker(t)
	_, err := tr.CreatePassport(context.Background(), "ghost", "wallet-1")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestRecordEventUpdatesScores(t *testing.T) {
	tr, _ := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.CreatePassport(ctx, "dev1", "wallet-1"); err != nil {
		t.Fatalf("CreatePassport: %v", err)
	}
	p, err := tr.RecordEvent(ctx, "PASS-dev1", model.LifecycleEvent{
		EventType:   model.EventRepair,
		Description: "screen replacement",
	})
	if err != nil {
		t.Fatalf("RecordEvent: %v", err)
	}
	if p.TotalRepairs != 1 {
		t.Errorf("TotalRepairs = %d, want 1", p.TotalRepairs)
	}
	// Base 70 + one repair + one usage year.
	if p.CircularityScore != 76 {
		t.Errorf("CircularityScore = %d, want 76", p.CircularityScore)
	}
	if last := p.LifecycleEvents[len(p.LifecycleEvents)-1]; last.LedgerTx == "" {
		t.Error("event missing ledger transaction")
	}
}

func TestRecordEventConcurrent(t *testing.T) {
	tr, store := newTestTracker(t)
	ctx := context.Background()

	if _, err := tr.CreatePassport(ctx, "dev1", "wallet-1"); err != nil {
		t.Fatalf("CreatePassport: %v", err)
	}

	const n = 25
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := tr.RecordEvent(ctx, "PASS-dev1", model.LifecycleEvent{EventType: model.EventRepair}); err != nil {
				t.Errorf("RecordEvent: %v", err)
			}
		}()
	}
	wg.Wait()

	p, err := store.GetPassport(ctx, "PASS-dev1")
	if err != nil {
		t.Fatalf("GetPassport: %v", err)
	}
	if p.TotalRepairs != n {
		t.Errorf("TotalRepairs = %d, want %d (lost updates)", p.TotalRepairs, n)
	}
	// Minted event plus n repairs.
	if len(p.LifecycleEvents) != n+1 {
		t.Errorf("history length = %d, want %d", len(p.LifecycleEvents), n+1)
	}
}
