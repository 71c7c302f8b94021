package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"clear25/internal/types"
)

// latestResultKey is the single row key under which the most recent
// evaluation result is stored.
const latestResultKey = "latest"

// StoredResult is an evaluation result together with its persistence time,
// used by the API to report result age.
type StoredResult struct {
	Result    types.EvaluationResult
	UpdatedAt time.Time
}

// ResultRepository provides data access for the evaluation_results table.
// Only the latest result is retained; each successful cycle overwrites it.
type ResultRepository struct {
	db DBTX
}

// NewResultRepository creates a ResultRepository backed by the given database
// connection (pool or transaction).
func NewResultRepository(db DBTX) *ResultRepository {
	return &ResultRepository{db: db}
}

// Latest returns the most recently stored evaluation result.
func (r *ResultRepository) Latest(ctx context.Context) (*StoredResult, error) {
	row := r.db.QueryRow(ctx,
		`SELECT payload, updated_at FROM evaluation_results WHERE key = $1`,
		latestResultKey)

	var (
		payload   []byte
		updatedAt time.Time
	)
	if err := row.Scan(&payload, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundResult,
				"no evaluation result stored yet", err)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"querying latest result", err)
	}

	var result types.EvaluationResult
	if err := json.Unmarshal(payload, &result); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB,
			"decoding stored result", err)
	}

	return &StoredResult{Result: result, UpdatedAt: updatedAt}, nil
}

// Save stores the evaluation result as the latest, replacing the previous
// one.
func (r *ResultRepository) Save(ctx context.Context, result types.EvaluationResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			"encoding evaluation result", err)
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO evaluation_results (key, payload, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = now()`,
		latestResultKey, payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB,
			"saving evaluation result", err)
	}

	return nil
}
