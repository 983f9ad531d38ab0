package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Run Rows
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID           string  `db:"id"`
	BakeID       string  `db:"bake_id"`
	RecipeID     string  `db:"recipe_id"`
	Status       string  `db:"status"`
	ContainerID  string  `db:"container_id"`
	ExitCode     *int64  `db:"exit_code"`
	Output       string  `db:"output"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

// =============================================================================
// Store Methods
// =============================================================================

func (s *SQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.db, run)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.db, run)
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.db, opts)
}

func (s *SQLiteStore) ListRunsByRecipe(ctx context.Context, recipeID string, opts ListOptions) ([]domain.Run, error) {
	return listRunsByRecipe(ctx, s.db, recipeID, opts)
}

func (s *SQLiteStore) ListRunsByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	return listRunsByStatus(ctx, s.db, status, limit)
}

func (s *SQLiteStore) ListActiveRunIDs(ctx context.Context) ([]string, error) {
	return listActiveRunIDs(ctx, s.db)
}

func (s *txSQLiteStore) CreateRun(ctx context.Context, run *domain.Run) error {
	return createRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	return getRun(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateRun(ctx context.Context, run *domain.Run) error {
	return updateRun(ctx, s.tx, run)
}

func (s *txSQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]domain.Run, error) {
	return listRuns(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListRunsByRecipe(ctx context.Context, recipeID string, opts ListOptions) ([]domain.Run, error) {
	return listRunsByRecipe(ctx, s.tx, recipeID, opts)
}

func (s *txSQLiteStore) ListRunsByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error) {
	return listRunsByStatus(ctx, s.tx, status, limit)
}

func (s *txSQLiteStore) ListActiveRunIDs(ctx context.Context) ([]string, error) {
	return listActiveRunIDs(ctx, s.tx)
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		INSERT INTO runs (
			id, bake_id, recipe_id, status, container_id, exit_code,
			output, error_message, created_at, started_at, finished_at
		) VALUES (
			:id, :bake_id, :recipe_id, :status, :container_id, :exit_code,
			:output, :error_message, :created_at, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            run.ID,
		"bake_id":       run.BakeID,
		"recipe_id":     run.RecipeID,
		"status":        string(run.Status),
		"container_id":  run.ContainerID,
		"exit_code":     run.ExitCode,
		"output":        run.Output,
		"error_message": run.Error,
		"created_at":    formatTime(run.CreatedAt),
		"started_at":    formatTimePtr(run.StartedAt),
		"finished_at":   formatTimePtr(run.FinishedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateRun", "run", run.ID, "bake not found", ErrForeignKey)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}

	return nil
}

func getRun(ctx context.Context, exec executor, id string) (*domain.Run, error) {
	query := `SELECT * FROM runs WHERE id = ?`

	var row runRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRun", "run", id, "run not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRun", "run", id, err.Error(), err)
	}

	return rowToRun(&row), nil
}

func updateRun(ctx context.Context, exec executor, run *domain.Run) error {
	query := `
		UPDATE runs SET
			status = :status,
			container_id = :container_id,
			exit_code = :exit_code,
			output = :output,
			error_message = :error_message,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            run.ID,
		"status":        string(run.Status),
		"container_id":  run.ContainerID,
		"exit_code":     run.ExitCode,
		"output":        run.Output,
		"error_message": run.Error,
		"started_at":    formatTimePtr(run.StartedAt),
		"finished_at":   formatTimePtr(run.FinishedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateRun", "run", run.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRun", "run", run.ID, "run not found", ErrNotFound)
	}

	return nil
}

func listRuns(ctx context.Context, exec executor, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	return rowsToRuns(rows), nil
}

func listRunsByRecipe(ctx context.Context, exec executor, recipeID string, opts ListOptions) ([]domain.Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs WHERE recipe_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, recipeID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRunsByRecipe", "run", "", err.Error(), err)
	}

	return rowsToRuns(rows), nil
}

// listRunsByStatus returns the oldest runs first so workers drain the
// queue in submission order.
func listRunsByStatus(ctx context.Context, exec executor, status domain.RunStatus, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM runs WHERE status = ? ORDER BY created_at ASC LIMIT ?`

	var rows []runRow
	err := exec.SelectContext(ctx, &rows, query, string(status), limit)
	if err != nil {
		return nil, NewStoreError("ListRunsByStatus", "run", "", err.Error(), err)
	}

	return rowsToRuns(rows), nil
}

// listActiveRunIDs returns IDs of runs that are created or running. Used
// by the reaper to decide which exited containers are orphans.
func listActiveRunIDs(ctx context.Context, exec executor) ([]string, error) {
	query := `SELECT id FROM runs WHERE status IN (?, ?)`

	var ids []string
	err := exec.SelectContext(ctx, &ids, query,
		string(domain.RunStatusCreated), string(domain.RunStatusRunning))
	if err != nil {
		return nil, NewStoreError("ListActiveRunIDs", "run", "", err.Error(), err)
	}

	return ids, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToRun converts a database row to a domain.Run.
func rowToRun(row *runRow) *domain.Run {
	var exitCode *int
	if row.ExitCode != nil {
		code := int(*row.ExitCode)
		exitCode = &code
	}

	return &domain.Run{
		ID:          row.ID,
		BakeID:      row.BakeID,
		RecipeID:    row.RecipeID,
		Status:      domain.RunStatus(row.Status),
		ContainerID: row.ContainerID,
		ExitCode:    exitCode,
		Output:      row.Output,
		Error:       row.ErrorMessage,
		CreatedAt:   parseTime(row.CreatedAt),
		StartedAt:   parseTimePtr(row.StartedAt),
		FinishedAt:  parseTimePtr(row.FinishedAt),
	}
}

func rowsToRuns(rows []runRow) []domain.Run {
	runs := make([]domain.Run, 0, len(rows))
	for _, row := range rows {
		runs = append(runs, *rowToRun(&row))
	}
	return runs
}
