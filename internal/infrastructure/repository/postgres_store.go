package repository

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/fraudlens/investigation-backend/internal/domain/errors"
	"github.com/fraudlens/investigation-backend/internal/domain/investigation"
)

const investigationColumns = `
	id, user_id, entity_id, entity_type, time_start, time_end,
	tool_configuration, execution_mode, risk_threshold,
	lifecycle_stage, status, failure_reason, version,
	progress_json, results_json,
	created_at, updated_at, last_accessed_at`

// PostgresStore implements Store over PostgreSQL. The version column carries
// the optimistic lock: every mutating write is conditioned on it.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgreSQL-backed investigation store
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// Create validates the configuration and inserts a fresh record
func (s *PostgresStore) Create(ctx context.Context, cfg investigation.Config) (*investigation.Investigation, error) {
	inv, err := investigation.NewInvestigation(cfg)
	if err != nil {
		return nil, err
	}

	toolsJSON, err := json.Marshal(inv.ToolConfiguration)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal tool configuration").WithCause(err)
	}

	query := `
		INSERT INTO investigations (
			id, user_id, entity_id, entity_type, time_start, time_end,
			tool_configuration, execution_mode, risk_threshold,
			lifecycle_stage, status, failure_reason, version,
			progress_json, results_json,
			created_at, updated_at, last_accessed_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12, $13,
			$14, $15,
			$16, $17, $18
		)
	`

	_, err = s.pool.Exec(ctx, query,
		inv.ID, inv.UserID, inv.EntityID, inv.EntityType.String(),
		inv.TimeRange.Start, inv.TimeRange.End,
		toolsJSON, inv.ExecutionMode.String(), inv.RiskThreshold,
		inv.LifecycleStage.String(), inv.Status.String(), nullableString(inv.FailureReason), inv.Version,
		nullableJSON(inv.ProgressJSON), nullableJSON(inv.ResultsJSON),
		inv.CreatedAt, inv.UpdatedAt, inv.LastAccessedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return nil, errors.NewInternalError(fmt.Sprintf("investigation %s already exists", inv.ID)).WithCause(err)
		}
		return nil, errors.NewInternalError("failed to create investigation").WithCause(err)
	}

	return inv, nil
}

// Get fetches the record, updating last-accessed bookkeeping in the same
// round trip. The bookkeeping write does not touch the version column.
func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*investigation.Investigation, error) {
	query := `
		UPDATE investigations
		SET last_accessed_at = now()
		WHERE id = $1
		RETURNING` + investigationColumns

	inv, err := s.scanRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrInvestigationNotFound
		}
		return nil, errors.NewInternalError("failed to get investigation").WithCause(err)
	}

	return inv, nil
}

// CompareAndSwap applies mutate to a fresh read and persists iff the stored
// version still equals the expected one. The conditional UPDATE makes the
// version sequence linearizable: of two racing writers one loses, always.
func (s *PostgresStore) CompareAndSwap(ctx context.Context, id uuid.UUID, expectedVersion int64, mutate Mutator) (*investigation.Investigation, error) {
	fresh, err := s.fetch(ctx, id)
	if err != nil {
		return nil, err
	}

	if fresh.Version != expectedVersion {
		return nil, errors.NewVersionConflictError(expectedVersion, fresh.Version)
	}

	if err := mutate(fresh); err != nil {
		return nil, err
	}
	fresh.Version = expectedVersion + 1

	toolsJSON, err := json.Marshal(fresh.ToolConfiguration)
	if err != nil {
		return nil, errors.NewInternalError("failed to marshal tool configuration").WithCause(err)
	}

	query := `
		UPDATE investigations
		SET entity_id = $3, entity_type = $4, time_start = $5, time_end = $6,
			tool_configuration = $7, execution_mode = $8, risk_threshold = $9,
			lifecycle_stage = $10, status = $11, failure_reason = $12,
			version = $13, progress_json = $14, results_json = $15,
			updated_at = $16, last_accessed_at = $17
		WHERE id = $1 AND version = $2
	`

	tag, err := s.pool.Exec(ctx, query,
		id, expectedVersion,
		fresh.EntityID, fresh.EntityType.String(), fresh.TimeRange.Start, fresh.TimeRange.End,
		toolsJSON, fresh.ExecutionMode.String(), fresh.RiskThreshold,
		fresh.LifecycleStage.String(), fresh.Status.String(), nullableString(fresh.FailureReason),
		fresh.Version, nullableJSON(fresh.ProgressJSON), nullableJSON(fresh.ResultsJSON),
		fresh.UpdatedAt, fresh.LastAccessedAt,
	)
	if err != nil {
		return nil, errors.NewInternalError("failed to update investigation").WithCause(err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race between read and write; report the stored version
		current, fetchErr := s.fetch(ctx, id)
		if fetchErr != nil {
			return nil, fetchErr
		}
		return nil, errors.NewVersionConflictError(expectedVersion, current.Version)
	}

	return fresh, nil
}

// ListByUser returns the user's investigations, newest first
func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID) ([]*investigation.Investigation, error) {
	query := `
		SELECT` + investigationColumns + `
		FROM investigations
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, errors.NewInternalError("failed to list investigations").WithCause(err)
	}
	defer rows.Close()

	var out []*investigation.Investigation
	for rows.Next() {
		inv, err := s.scanRow(rows)
		if err != nil {
			return nil, errors.NewInternalError("failed to scan investigation").WithCause(err)
		}
		out = append(out, inv)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewInternalError("failed to iterate investigations").WithCause(err)
	}

	return out, nil
}

func (s *PostgresStore) fetch(ctx context.Context, id uuid.UUID) (*investigation.Investigation, error) {
	query := `
		SELECT` + investigationColumns + `
		FROM investigations
		WHERE id = $1
	`

	inv, err := s.scanRow(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.ErrInvestigationNotFound
		}
		return nil, errors.NewInternalError("failed to read investigation").WithCause(err)
	}

	return inv, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanRow(row rowScanner) (*investigation.Investigation, error) {
	var (
		inv           investigation.Investigation
		entityType    string
		executionMode string
		stage         string
		status        string
		failureReason *string
		toolsJSON     []byte
	)

	err := row.Scan(
		&inv.ID, &inv.UserID, &inv.EntityID, &entityType,
		&inv.TimeRange.Start, &inv.TimeRange.End,
		&toolsJSON, &executionMode, &inv.RiskThreshold,
		&stage, &status, &failureReason, &inv.Version,
		&inv.ProgressJSON, &inv.ResultsJSON,
		&inv.CreatedAt, &inv.UpdatedAt, &inv.LastAccessedAt,
	)
	if err != nil {
		return nil, err
	}

	if inv.EntityType, err = investigation.ParseEntityType(entityType); err != nil {
		return nil, err
	}
	if inv.ExecutionMode, err = investigation.ParseExecutionMode(executionMode); err != nil {
		return nil, err
	}
	if inv.LifecycleStage, err = investigation.ParseLifecycleStage(stage); err != nil {
		return nil, err
	}
	if inv.Status, err = investigation.ParseStatus(status); err != nil {
		return nil, err
	}
	if failureReason != nil {
		inv.FailureReason = *failureReason
	}

	if err := json.Unmarshal(toolsJSON, &inv.ToolConfiguration); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tool configuration: %w", err)
	}

	return &inv, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableJSON(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
