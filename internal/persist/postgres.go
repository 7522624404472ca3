package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresAdapter keeps the latest snapshot in an engine_snapshots row,
// one per engine instance. The snapshot body is JSONB so operators can
// inspect state with plain SQL.
type PostgresAdapter struct {
	pool *pgxpool.Pool
	name string
}

// NewPostgresAdapter creates a PostgreSQL-backed adapter. name keys the
// snapshot row, letting several engines share one database.
func NewPostgresAdapter(pool *pgxpool.Pool, name string) *PostgresAdapter {
	return &PostgresAdapter{pool: pool, name: name}
}

func (a *PostgresAdapter) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("persist: marshal snapshot: %w", err)
	}

	_, err = a.pool.Exec(ctx,
		`INSERT INTO engine_snapshots (engine, version, saved_at, state)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (engine)
		 DO UPDATE SET version = $2, saved_at = $3, state = $4`,
		a.name, state.Version, state.SavedAt, data,
	)
	if err != nil {
		return fmt.Errorf("persist: save snapshot: %w", err)
	}
	return nil
}

func (a *PostgresAdapter) Load(ctx context.Context) (*State, error) {
	var version int
	var data []byte

	err := a.pool.QueryRow(ctx,
		`SELECT version, state FROM engine_snapshots WHERE engine = $1`,
		a.name).Scan(&version, &data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("persist: load snapshot: %w", err)
	}
	if version != SchemaVersion {
		return nil, fmt.Errorf("persist: unsupported snapshot version %d", version)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("persist: decode snapshot: %w", err)
	}
	return &state, nil
}
