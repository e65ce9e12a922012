package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/loopphones/loop/internal/model"
)

// CreateClient inserts a new API client. A duplicate client_id returns
// ErrConflict.
func (db *DB) CreateClient(ctx context.Context, c model.Client) (model.Client, error) {
	now := time.Now().UTC()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = now
	c.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO api_clients (id, client_id, name, role, api_key_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.ClientID, c.Name, string(c.Role), c.APIKeyHash, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.Client{}, fmt.Errorf("storage: client %s: %w", c.ClientID, ErrConflict)
		}
		return model.Client{}, fmt.Errorf("storage: create client: %w", err)
	}
	return c, nil
}

// GetClientByClientID retrieves a client by its external identifier.
func (db *DB) GetClientByClientID(ctx context.Context, clientID string) (model.Client, error) {
	var c model.Client
	err := db.pool.QueryRow(ctx,
		`SELECT id, client_id, name, role, api_key_hash, created_at, updated_at
		 FROM api_clients WHERE client_id = $1`, clientID,
	).Scan(&c.ID, &c.ClientID, &c.Name, &c.Role, &c.APIKeyHash, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Client{}, fmt.Errorf("storage: client %s: %w", clientID, ErrNotFound)
		}
		return model.Client{}, fmt.Errorf("storage: get client: %w", err)
	}
	return c, nil
}

// CountClients returns the number of registered API clients.
func (db *DB) CountClients(ctx context.Context) (int, error) {
	var n int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_clients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count clients: %w", err)
	}
	return n, nil
}
