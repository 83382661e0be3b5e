package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	loadStateQuery = `SELECT state FROM extraction_ledger WHERE run_key = $1`

	saveStateQuery = `
INSERT INTO extraction_ledger (run_key, state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (run_key) DO UPDATE
SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
)

type dbStore struct {
	pool *pgxpool.Pool
}

// NewDBStore creates a Store backed by the extraction_ledger table
func NewDBStore(pool *pgxpool.Pool) Store {
	return &dbStore{
		pool: pool,
	}
}

func (d *dbStore) Load(ctx context.Context, key string) (*State, error) {
	var raw []byte
	err := d.pool.QueryRow(ctx, loadStateQuery, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("failed to load ledger for '%s': %w", key, err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger for '%s': %w", key, err)
	}
	return &state, nil
}

// Save upserts a single row, so the write is atomic without an explicit transaction
func (d *dbStore) Save(ctx context.Context, key string, state *State) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger for '%s': %w", key, err)
	}

	if _, err := d.pool.Exec(ctx, saveStateQuery, key, raw, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to save ledger for '%s': %w", key, err)
	}
	return nil
}
