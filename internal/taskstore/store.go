// File: internal/taskstore/store.go
package taskstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/droidpilot/api/schemas"
)

// DBPool abstracts the pgxpool.Pool so the store can be mocked in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// Store is the PostgreSQL-backed journal of terminal task outcomes. It is
// write-mostly: the control loop inserts one row per finished task, and the
// CLI reads back recent runs per device.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("taskstore"),
	}, nil
}

// SaveOutcome inserts one terminal outcome. Task IDs are unique per run, so
// a conflicting insert (a retried journal write) is resolved by keeping the
// first row.
func (s *Store) SaveOutcome(ctx context.Context, outcome schemas.TaskOutcome) error {
	actions, err := json.Marshal(outcome.Actions)
	if err != nil {
		return fmt.Errorf("failed to marshal outcome actions: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO task_outcomes (task_id, device_id, goal, status, steps_taken, actions, elapsed_ms, reason, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (task_id) DO NOTHING;
	`, outcome.TaskID, outcome.DeviceID, outcome.Goal, string(outcome.Status), outcome.StepsTaken,
		actions, outcome.Elapsed.Milliseconds(), outcome.Reason, outcome.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert task outcome: %w", err)
	}
	return nil
}

// RecentOutcomes returns the most recent outcomes for a device, newest first.
func (s *Store) RecentOutcomes(ctx context.Context, deviceID string, limit int) ([]schemas.TaskOutcome, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.pool.Query(ctx, `
		SELECT task_id, device_id, goal, status, steps_taken, actions, elapsed_ms, reason, finished_at
		FROM task_outcomes
		WHERE device_id = $1
		ORDER BY finished_at DESC
		LIMIT $2;
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query task outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []schemas.TaskOutcome
	for rows.Next() {
		var (
			o         schemas.TaskOutcome
			status    string
			actions   []byte
			elapsedMS int64
		)
		if err := rows.Scan(&o.TaskID, &o.DeviceID, &o.Goal, &status, &o.StepsTaken,
			&actions, &elapsedMS, &o.Reason, &o.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task outcome row: %w", err)
		}
		o.Status = schemas.TaskStatus(status)
		o.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		if len(actions) > 0 {
			if err := json.Unmarshal(actions, &o.Actions); err != nil {
				return nil, fmt.Errorf("failed to unmarshal outcome actions: %w", err)
			}
		}
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// EnsureSchema creates the journal table when it does not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS task_outcomes (
			task_id     TEXT PRIMARY KEY,
			device_id   TEXT NOT NULL,
			goal        TEXT NOT NULL,
			status      TEXT NOT NULL,
			steps_taken INTEGER NOT NULL,
			actions     JSONB NOT NULL DEFAULT '[]',
			elapsed_ms  BIGINT NOT NULL,
			reason      TEXT NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS task_outcomes_device_idx ON task_outcomes (device_id, finished_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure task_outcomes schema: %w", err)
	}
	return nil
}
