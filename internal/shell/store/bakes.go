package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Bake Rows
// =============================================================================

// bakeRow represents a bake row in the database.
type bakeRow struct {
	ID           string  `db:"id"`
	RecipeID     string  `db:"recipe_id"`
	Status       string  `db:"status"`
	Fingerprint  string  `db:"fingerprint"`
	ImageTag     string  `db:"image_tag"`
	NodeID       string  `db:"node_id"`
	BuildLog     string  `db:"build_log"`
	ErrorMessage string  `db:"error_message"`
	CreatedAt    string  `db:"created_at"`
	StartedAt    *string `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

// =============================================================================
// Store Methods
// =============================================================================

func (s *SQLiteStore) CreateBake(ctx context.Context, bake *domain.Bake) error {
	return createBake(ctx, s.db, bake)
}

func (s *SQLiteStore) GetBake(ctx context.Context, id string) (*domain.Bake, error) {
	return getBake(ctx, s.db, id)
}

func (s *SQLiteStore) UpdateBake(ctx context.Context, bake *domain.Bake) error {
	return updateBake(ctx, s.db, bake)
}

func (s *SQLiteStore) ListBakes(ctx context.Context, opts ListOptions) ([]domain.Bake, error) {
	return listBakes(ctx, s.db, opts)
}

func (s *SQLiteStore) ListBakesByRecipe(ctx context.Context, recipeID string, opts ListOptions) ([]domain.Bake, error) {
	return listBakesByRecipe(ctx, s.db, recipeID, opts)
}

func (s *SQLiteStore) ListBakesByStatus(ctx context.Context, status domain.BakeStatus, limit int) ([]domain.Bake, error) {
	return listBakesByStatus(ctx, s.db, status, limit)
}

func (s *SQLiteStore) GetLatestSucceededBake(ctx context.Context, recipeID string) (*domain.Bake, error) {
	return getLatestSucceededBake(ctx, s.db, recipeID)
}

func (s *SQLiteStore) GetBakeByFingerprint(ctx context.Context, recipeID, fingerprint string) (*domain.Bake, error) {
	return getBakeByFingerprint(ctx, s.db, recipeID, fingerprint)
}

func (s *SQLiteStore) CountActiveBakes(ctx context.Context, recipeID string) (int, error) {
	return countActiveBakes(ctx, s.db, recipeID)
}

func (s *SQLiteStore) ListBakesByNode(ctx context.Context, nodeID string) ([]domain.Bake, error) {
	return listBakesByNode(ctx, s.db, nodeID)
}

func (s *txSQLiteStore) CreateBake(ctx context.Context, bake *domain.Bake) error {
	return createBake(ctx, s.tx, bake)
}

func (s *txSQLiteStore) GetBake(ctx context.Context, id string) (*domain.Bake, error) {
	return getBake(ctx, s.tx, id)
}

func (s *txSQLiteStore) UpdateBake(ctx context.Context, bake *domain.Bake) error {
	return updateBake(ctx, s.tx, bake)
}

func (s *txSQLiteStore) ListBakes(ctx context.Context, opts ListOptions) ([]domain.Bake, error) {
	return listBakes(ctx, s.tx, opts)
}

func (s *txSQLiteStore) ListBakesByRecipe(ctx context.Context, recipeID string, opts ListOptions) ([]domain.Bake, error) {
	return listBakesByRecipe(ctx, s.tx, recipeID, opts)
}

func (s *txSQLiteStore) ListBakesByStatus(ctx context.Context, status domain.BakeStatus, limit int) ([]domain.Bake, error) {
	return listBakesByStatus(ctx, s.tx, status, limit)
}

func (s *txSQLiteStore) GetLatestSucceededBake(ctx context.Context, recipeID string) (*domain.Bake, error) {
	return getLatestSucceededBake(ctx, s.tx, recipeID)
}

func (s *txSQLiteStore) GetBakeByFingerprint(ctx context.Context, recipeID, fingerprint string) (*domain.Bake, error) {
	return getBakeByFingerprint(ctx, s.tx, recipeID, fingerprint)
}

func (s *txSQLiteStore) CountActiveBakes(ctx context.Context, recipeID string) (int, error) {
	return countActiveBakes(ctx, s.tx, recipeID)
}

func (s *txSQLiteStore) ListBakesByNode(ctx context.Context, nodeID string) ([]domain.Bake, error) {
	return listBakesByNode(ctx, s.tx, nodeID)
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createBake(ctx context.Context, exec executor, bake *domain.Bake) error {
	query := `
		INSERT INTO bakes (
			id, recipe_id, status, fingerprint, image_tag, node_id,
			build_log, error_message, created_at, started_at, finished_at
		) VALUES (
			:id, :recipe_id, :status, :fingerprint, :image_tag, :node_id,
			:build_log, :error_message, :created_at, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            bake.ID,
		"recipe_id":     bake.RecipeID,
		"status":        string(bake.Status),
		"fingerprint":   bake.Fingerprint,
		"image_tag":     bake.ImageTag,
		"node_id":       bake.NodeID,
		"build_log":     bake.BuildLog,
		"error_message": bake.Error,
		"created_at":    formatTime(bake.CreatedAt),
		"started_at":    formatTimePtr(bake.StartedAt),
		"finished_at":   formatTimePtr(bake.FinishedAt),
	}

	_, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: bakes.id") {
			return NewStoreError("CreateBake", "bake", bake.ID, "bake with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "FOREIGN KEY constraint failed") {
			return NewStoreError("CreateBake", "bake", bake.ID, "recipe not found", ErrForeignKey)
		}
		return NewStoreError("CreateBake", "bake", bake.ID, err.Error(), err)
	}

	return nil
}

func getBake(ctx context.Context, exec executor, id string) (*domain.Bake, error) {
	query := `SELECT * FROM bakes WHERE id = ?`

	var row bakeRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetBake", "bake", id, "bake not found", ErrNotFound)
		}
		return nil, NewStoreError("GetBake", "bake", id, err.Error(), err)
	}

	return rowToBake(&row), nil
}

func updateBake(ctx context.Context, exec executor, bake *domain.Bake) error {
	query := `
		UPDATE bakes SET
			status = :status,
			node_id = :node_id,
			build_log = :build_log,
			error_message = :error_message,
			started_at = :started_at,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            bake.ID,
		"status":        string(bake.Status),
		"node_id":       bake.NodeID,
		"build_log":     bake.BuildLog,
		"error_message": bake.Error,
		"started_at":    formatTimePtr(bake.StartedAt),
		"finished_at":   formatTimePtr(bake.FinishedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("UpdateBake", "bake", bake.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateBake", "bake", bake.ID, "bake not found", ErrNotFound)
	}

	return nil
}

func listBakes(ctx context.Context, exec executor, opts ListOptions) ([]domain.Bake, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM bakes ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []bakeRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListBakes", "bake", "", err.Error(), err)
	}

	return rowsToBakes(rows), nil
}

func listBakesByRecipe(ctx context.Context, exec executor, recipeID string, opts ListOptions) ([]domain.Bake, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM bakes WHERE recipe_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []bakeRow
	err := exec.SelectContext(ctx, &rows, query, recipeID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListBakesByRecipe", "bake", "", err.Error(), err)
	}

	return rowsToBakes(rows), nil
}

// listBakesByStatus returns the oldest bakes first so workers drain the
// queue in submission order.
func listBakesByStatus(ctx context.Context, exec executor, status domain.BakeStatus, limit int) ([]domain.Bake, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT * FROM bakes WHERE status = ? ORDER BY created_at ASC LIMIT ?`

	var rows []bakeRow
	err := exec.SelectContext(ctx, &rows, query, string(status), limit)
	if err != nil {
		return nil, NewStoreError("ListBakesByStatus", "bake", "", err.Error(), err)
	}

	return rowsToBakes(rows), nil
}

func getLatestSucceededBake(ctx context.Context, exec executor, recipeID string) (*domain.Bake, error) {
	query := `SELECT * FROM bakes WHERE recipe_id = ? AND status = ? ORDER BY created_at DESC LIMIT 1`

	var row bakeRow
	err := exec.GetContext(ctx, &row, query, recipeID, string(domain.BakeStatusSucceeded))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetLatestSucceededBake", "bake", recipeID, "no succeeded bake for recipe", ErrNotFound)
		}
		return nil, NewStoreError("GetLatestSucceededBake", "bake", recipeID, err.Error(), err)
	}

	return rowToBake(&row), nil
}

func getBakeByFingerprint(ctx context.Context, exec executor, recipeID, fingerprint string) (*domain.Bake, error) {
	query := `SELECT * FROM bakes WHERE recipe_id = ? AND fingerprint = ? ORDER BY created_at DESC LIMIT 1`

	var row bakeRow
	err := exec.GetContext(ctx, &row, query, recipeID, fingerprint)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetBakeByFingerprint", "bake", recipeID, "no bake with this fingerprint", ErrNotFound)
		}
		return nil, NewStoreError("GetBakeByFingerprint", "bake", recipeID, err.Error(), err)
	}

	return rowToBake(&row), nil
}

func countActiveBakes(ctx context.Context, exec executor, recipeID string) (int, error) {
	query := `SELECT COUNT(*) FROM bakes WHERE recipe_id = ? AND status IN (?, ?)`

	var count int
	err := exec.GetContext(ctx, &count, query, recipeID,
		string(domain.BakeStatusQueued), string(domain.BakeStatusBuilding))
	if err != nil {
		return 0, NewStoreError("CountActiveBakes", "bake", recipeID, err.Error(), err)
	}

	return count, nil
}

func listBakesByNode(ctx context.Context, exec executor, nodeID string) ([]domain.Bake, error) {
	query := `SELECT * FROM bakes WHERE node_id = ? ORDER BY created_at DESC`

	var rows []bakeRow
	err := exec.SelectContext(ctx, &rows, query, nodeID)
	if err != nil {
		return nil, NewStoreError("ListBakesByNode", "bake", "", err.Error(), err)
	}

	return rowsToBakes(rows), nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToBake converts a database row to a domain.Bake.
func rowToBake(row *bakeRow) *domain.Bake {
	return &domain.Bake{
		ID:          row.ID,
		RecipeID:    row.RecipeID,
		Status:      domain.BakeStatus(row.Status),
		Fingerprint: row.Fingerprint,
		ImageTag:    row.ImageTag,
		NodeID:      row.NodeID,
		BuildLog:    row.BuildLog,
		Error:       row.ErrorMessage,
		CreatedAt:   parseTime(row.CreatedAt),
		StartedAt:   parseTimePtr(row.StartedAt),
		FinishedAt:  parseTimePtr(row.FinishedAt),
	}
}

func rowsToBakes(rows []bakeRow) []domain.Bake {
	bakes := make([]domain.Bake, 0, len(rows))
	for _, row := range rows {
		bakes = append(bakes, *rowToBake(&row))
	}
	return bakes
}
