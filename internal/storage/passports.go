package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/loopphones/loop/internal/model"
)

const passportColumns = `id, device_id, mint_address, owner_address, circularity_score,
	total_repairs, total_refurbishments, parts_harvested, recycling_events,
	carbon_footprint, lifecycle_events, created_at, updated_at`

func scanPassport(row pgx.Row) (model.Passport, error) {
	var p model.Passport
	err := row.Scan(
		&p.ID, &p.DeviceID, &p.MintAddress, &p.OwnerAddress, &p.CircularityScore,
		&p.TotalRepairs, &p.TotalRefurbishments, &p.PartsHarvested, &p.RecyclingEvents,
		&p.CarbonFootprint, &p.LifecycleEvents, &p.CreatedAt, &p.UpdatedAt,
	)
	return p, err
}

// CreatePassport inserts a new digital passport. A duplicate passport or a
// second passport for the same device returns ErrConflict.
func (db *DB) CreatePassport(ctx context.Context, p model.Passport) error {
	if p.LifecycleEvents == nil {
		p.LifecycleEvents = []model.LifecycleEvent{}
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO digital_passports (id, device_id, mint_address, owner_address, circularity_score,
		                                total_repairs, total_refurbishments, parts_harvested, recycling_events,
		                                carbon_footprint, lifecycle_events, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		p.ID, p.DeviceID, p.MintAddress, p.OwnerAddress, p.CircularityScore,
		p.TotalRepairs, p.TotalRefurbishments, p.PartsHarvested, p.RecyclingEvents,
		p.CarbonFootprint, p.LifecycleEvents, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("storage: passport %s: %w", p.ID, ErrConflict)
		}
		return fmt.Errorf("storage: create passport: %w", err)
	}
	return nil
}

// GetPassport retrieves a passport by ID.
func (db *DB) GetPassport(ctx context.Context, id string) (model.Passport, error) {
	p, err := scanPassport(db.pool.QueryRow(ctx,
		`SELECT `+passportColumns+` FROM digital_passports WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Passport{}, fmt.Errorf("storage: passport %s: %w", id, ErrNotFound)
		}
		return model.Passport{}, fmt.Errorf("storage: get passport: %w", err)
	}
	return p, nil
}

// GetPassportByDevice retrieves the passport minted for a device.
func (db *DB) GetPassportByDevice(ctx context.Context, deviceID string) (model.Passport, error) {
	p, err := scanPassport(db.pool.QueryRow(ctx,
		`SELECT `+passportColumns+` FROM digital_passports WHERE device_id = $1`, deviceID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Passport{}, fmt.Errorf("storage: passport for device %s: %w", deviceID, ErrNotFound)
		}
		return model.Passport{}, fmt.Errorf("storage: get passport by device: %w", err)
	}
	return p, nil
}

// UpdatePassport overwrites a passport's counters, scores, and event
// history. Callers serialize per-passport updates.
func (db *DB) UpdatePassport(ctx context.Context, p model.Passport) error {
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = time.Now().UTC()
	}
	return WithRetry(ctx, 3, 10*time.Millisecond, func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE digital_passports
			 SET owner_address = $1, circularity_score = $2, total_repairs = $3,
			     total_refurbishments = $4, parts_harvested = $5, recycling_events = $6,
			     carbon_footprint = $7, lifecycle_events = $8, updated_at = $9
			 WHERE id = $10`,
			p.OwnerAddress, p.CircularityScore, p.TotalRepairs,
			p.TotalRefurbishments, p.PartsHarvested, p.RecyclingEvents,
			p.CarbonFootprint, p.LifecycleEvents, p.UpdatedAt, p.ID,
		)
		if err != nil {
			return fmt.Errorf("storage: update passport: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("storage: passport %s: %w", p.ID, ErrNotFound)
		}
		return nil
	})
}
