package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"clear25/internal/types"
)

// SnapshotRepository provides data access for the snapshots table, which
// holds one reading snapshot per city: the station readings recorded by the
// most recent successful evaluation cycle.
type SnapshotRepository struct {
	db DBTX
}

// NewSnapshotRepository creates a SnapshotRepository backed by the given
// database connection (pool or transaction).
func NewSnapshotRepository(db DBTX) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// GetAll returns the stored snapshot for every city, keyed by city.
// Cities with no stored snapshot are simply absent from the map.
func (r *SnapshotRepository) GetAll(ctx context.Context) (map[string]types.Snapshot, error) {
	rows, err := r.db.Query(ctx,
		`SELECT city, readings, taken_at FROM snapshots`)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"querying snapshots", err)
	}
	defer rows.Close()

	snapshots := make(map[string]types.Snapshot)
	for rows.Next() {
		var (
			city     string
			readings []byte
			takenAt  time.Time
		)
		if err := rows.Scan(&city, &readings, &takenAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB,
				"scanning snapshot row", err)
		}

		snap := types.Snapshot{City: city, Timestamp: takenAt}
		if err := json.Unmarshal(readings, &snap.Readings); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB,
				"decoding snapshot readings", err)
		}
		snapshots[city] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"iterating snapshot rows", err)
	}

	return snapshots, nil
}

// GetByCity returns the stored snapshot for one city.
func (r *SnapshotRepository) GetByCity(ctx context.Context, city string) (*types.Snapshot, error) {
	row := r.db.QueryRow(ctx,
		`SELECT city, readings, taken_at FROM snapshots WHERE city = $1`, city)

	var (
		readings []byte
		snap     types.Snapshot
	)
	if err := row.Scan(&snap.City, &readings, &snap.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundResult,
				"no snapshot stored for city", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"querying snapshot", err)
	}
	if err := json.Unmarshal(readings, &snap.Readings); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"decoding snapshot readings", err)
	}

	return &snap, nil
}

// Upsert stores a city's snapshot, replacing any previous one.
func (r *SnapshotRepository) Upsert(ctx context.Context, snap types.Snapshot) error {
	readings, err := json.Marshal(snap.Readings)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			"encoding snapshot readings", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO snapshots (city, readings, taken_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (city) DO UPDATE SET
			readings = EXCLUDED.readings,
			taken_at = EXCLUDED.taken_at,
			updated_at = now()`,
		snap.City, readings, snap.Timestamp)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			"upserting snapshot", err)
	}

	return nil
}
