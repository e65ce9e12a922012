package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/loopphones/loop/internal/model"
)

// uniqueViolation is the Postgres error code for duplicate keys.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// CreateDevice registers a new device. A duplicate device ID returns
// ErrConflict.
func (db *DB) CreateDevice(ctx context.Context, d model.Device) (model.Device, error) {
	now := time.Now().UTC()
	d.Status = model.StatusActive
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO devices (id, model, manufacturer, purchase_date, current_owner, status,
		                      storage_gb, ram_gb, original_battery_capacity, original_price, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.Model, d.Manufacturer, d.PurchaseDate, d.CurrentOwner, string(d.Status),
		d.StorageGB, d.RAMGB, d.OriginalBatteryCapacity, d.OriginalPrice, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Device{}, fmt.Errorf("storage: device %s: %w", d.ID, ErrConflict)
		}
		return model.Device{}, fmt.Errorf("storage: create device: %w", err)
	}
	return d, nil
}

// GetDevice retrieves a device by ID.
func (db *DB) GetDevice(ctx context.Context, id string) (model.Device, error) {
	var d model.Device
	err := db.pool.QueryRow(ctx,
		`SELECT id, model, manufacturer, purchase_date, current_owner, status,
		        storage_gb, ram_gb, original_battery_capacity, original_price,
		        passport_id, passport_mint_address, created_at, updated_at
		 FROM devices WHERE id = $1`, id,
	).Scan(
		&d.ID, &d.Model, &d.Manufacturer, &d.PurchaseDate, &d.CurrentOwner, &d.Status,
		&d.StorageGB, &d.RAMGB, &d.OriginalBatteryCapacity, &d.OriginalPrice,
		&d.PassportID, &d.PassportMintAddress, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Device{}, fmt.Errorf("storage: device %s: %w", id, ErrNotFound)
		}
		return model.Device{}, fmt.Errorf("storage: get device: %w", err)
	}
	return d, nil
}

// ListDevices returns devices ordered by creation time, optionally filtered
// by status.
func (db *DB) ListDevices(ctx context.Context, status *model.DeviceStatus, limit, offset int) ([]model.Device, int, error) {
	if limit <= 0 {
		limit = 50
	}

	where := ""
	countArgs := []any{}
	listArgs := []any{limit, offset}
	if status != nil {
		where = " WHERE status = $1"
		countArgs = append(countArgs, string(*status))
		listArgs = []any{string(*status), limit, offset}
	}

	var total int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM devices`+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("storage: count devices: %w", err)
	}

	query := `SELECT id, model, manufacturer, purchase_date, current_owner, status,
	                 storage_gb, ram_gb, original_battery_capacity, original_price,
	                 passport_id, passport_mint_address, created_at, updated_at
	          FROM devices`
	if status != nil {
		query += ` WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	} else {
		query += ` ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	}

	rows, err := db.pool.Query(ctx, query, listArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("storage: list devices: %w", err)
	}
	defer rows.Close()

	var devices []model.Device
	for rows.Next() {
		var d model.Device
		if err := rows.Scan(
			&d.ID, &d.Model, &d.Manufacturer, &d.PurchaseDate, &d.CurrentOwner, &d.Status,
			&d.StorageGB, &d.RAMGB, &d.OriginalBatteryCapacity, &d.OriginalPrice,
			&d.PassportID, &d.PassportMintAddress, &d.CreatedAt, &d.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("storage: scan device: %w", err)
		}
		devices = append(devices, d)
	}
	return devices, total, rows.Err()
}

// UpdateDeviceStatus moves a device to a new lifecycle status.
func (db *DB) UpdateDeviceStatus(ctx context.Context, id string, status model.DeviceStatus) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE devices SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: update device status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: device %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetDevicePassport links a minted passport to its device.
func (db *DB) SetDevicePassport(ctx context.Context, id, passportID, mintAddress string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE devices SET passport_id = $1, passport_mint_address = $2, updated_at = $3 WHERE id = $4`,
		passportID, mintAddress, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storage: set device passport: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: device %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDevice removes a device and, via cascade, its telemetry, gradings,
// prices, and passport.
func (db *DB) DeleteDevice(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: delete device: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: device %s: %w", id, ErrNotFound)
	}
	return nil
}
