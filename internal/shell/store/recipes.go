package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/casebake/bakery/internal/core/domain"
)

// =============================================================================
// Recipe Rows
// =============================================================================

// recipeRow represents a recipe row in the database.
type recipeRow struct {
	ID          string  `db:"id"`
	Name        string  `db:"name"`
	Slug        string  `db:"slug"`
	Description string  `db:"description"`
	BaseImage   string  `db:"base_image"`
	ScriptPath  string  `db:"script_path"`
	Packages    string  `db:"packages"`
	Interpreter string  `db:"interpreter"`
	WorkDir     string  `db:"workdir"`
	Labels      *string `db:"labels"`
	CreatedAt   string  `db:"created_at"`
	UpdatedAt   string  `db:"updated_at"`
}

// =============================================================================
// Store Methods
// =============================================================================

func (s *SQLiteStore) CreateRecipe(ctx context.Context, recipe *domain.Recipe) error {
	return createRecipe(ctx, s.db, recipe)
}

func (s *SQLiteStore) GetRecipe(ctx context.Context, id string) (*domain.Recipe, error) {
	return getRecipe(ctx, s.db, id)
}

func (s *SQLiteStore) GetRecipeBySlug(ctx context.Context, slug string) (*domain.Recipe, error) {
	return getRecipeBySlug(ctx, s.db, slug)
}

func (s *SQLiteStore) UpdateRecipe(ctx context.Context, recipe *domain.Recipe) error {
	return updateRecipe(ctx, s.db, recipe)
}

func (s *SQLiteStore) DeleteRecipe(ctx context.Context, id string) error {
	return deleteRecipe(ctx, s.db, id)
}

func (s *SQLiteStore) ListRecipes(ctx context.Context, opts ListOptions) ([]domain.Recipe, error) {
	return listRecipes(ctx, s.db, opts)
}

func (s *txSQLiteStore) CreateRecipe(ctx context.Context, recipe *domain.Recipe) error {
	return createRecipe(ctx, s.tx, recipe)
}

func (s *txSQLiteStore) GetRecipe(ctx context.Context, id string) (*domain.Recipe, error) {
	return getRecipe(ctx, s.tx, id)
}

func (s *txSQLiteStore) GetRecipeBySlug(ctx context.Context, slug string) (*domain.Recipe, error) {
	return getRecipeBySlug(ctx, s.tx, slug)
}

func (s *txSQLiteStore) UpdateRecipe(ctx context.Context, recipe *domain.Recipe) error {
	return updateRecipe(ctx, s.tx, recipe)
}

func (s *txSQLiteStore) DeleteRecipe(ctx context.Context, id string) error {
	return deleteRecipe(ctx, s.tx, id)
}

func (s *txSQLiteStore) ListRecipes(ctx context.Context, opts ListOptions) ([]domain.Recipe, error) {
	return listRecipes(ctx, s.tx, opts)
}

// =============================================================================
// Shared Implementation Functions
// =============================================================================

func createRecipe(ctx context.Context, exec executor, recipe *domain.Recipe) error {
	packagesJSON, err := json.Marshal(recipe.Packages)
	if err != nil {
		return NewStoreError("CreateRecipe", "recipe", recipe.ID, "failed to serialize packages", ErrInvalidData)
	}
	labelsJSON, err := json.Marshal(recipe.Labels)
	if err != nil {
		return NewStoreError("CreateRecipe", "recipe", recipe.ID, "failed to serialize labels", ErrInvalidData)
	}

	query := `
		INSERT INTO recipes (
			id, name, slug, description, base_image, script_path, packages,
			interpreter, workdir, labels, created_at, updated_at
		) VALUES (
			:id, :name, :slug, :description, :base_image, :script_path, :packages,
			:interpreter, :workdir, :labels, :created_at, :updated_at
		)`

	row := map[string]any{
		"id":          recipe.ID,
		"name":        recipe.Name,
		"slug":        recipe.Slug,
		"description": recipe.Description,
		"base_image":  recipe.BaseImage,
		"script_path": recipe.ScriptPath,
		"packages":    string(packagesJSON),
		"interpreter": recipe.Interpreter,
		"workdir":     recipe.WorkDir,
		"labels":      string(labelsJSON),
		"created_at":  formatTime(recipe.CreatedAt),
		"updated_at":  formatTime(recipe.UpdatedAt),
	}

	_, err = exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: recipes.id") {
			return NewStoreError("CreateRecipe", "recipe", recipe.ID, "recipe with this ID already exists", ErrDuplicateID)
		}
		if strings.Contains(err.Error(), "UNIQUE constraint failed: recipes.slug") {
			return NewStoreError("CreateRecipe", "recipe", recipe.ID, "recipe with this slug already exists", ErrDuplicateSlug)
		}
		return NewStoreError("CreateRecipe", "recipe", recipe.ID, err.Error(), err)
	}

	return nil
}

func getRecipe(ctx context.Context, exec executor, id string) (*domain.Recipe, error) {
	query := `SELECT * FROM recipes WHERE id = ?`

	var row recipeRow
	err := exec.GetContext(ctx, &row, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRecipe", "recipe", id, "recipe not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRecipe", "recipe", id, err.Error(), err)
	}

	return rowToRecipe(&row)
}

func getRecipeBySlug(ctx context.Context, exec executor, slug string) (*domain.Recipe, error) {
	query := `SELECT * FROM recipes WHERE slug = ?`

	var row recipeRow
	err := exec.GetContext(ctx, &row, query, slug)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, NewStoreError("GetRecipeBySlug", "recipe", slug, "recipe not found", ErrNotFound)
		}
		return nil, NewStoreError("GetRecipeBySlug", "recipe", slug, err.Error(), err)
	}

	return rowToRecipe(&row)
}

func updateRecipe(ctx context.Context, exec executor, recipe *domain.Recipe) error {
	packagesJSON, err := json.Marshal(recipe.Packages)
	if err != nil {
		return NewStoreError("UpdateRecipe", "recipe", recipe.ID, "failed to serialize packages", ErrInvalidData)
	}
	labelsJSON, err := json.Marshal(recipe.Labels)
	if err != nil {
		return NewStoreError("UpdateRecipe", "recipe", recipe.ID, "failed to serialize labels", ErrInvalidData)
	}

	query := `
		UPDATE recipes SET
			name = :name,
			slug = :slug,
			description = :description,
			base_image = :base_image,
			script_path = :script_path,
			packages = :packages,
			interpreter = :interpreter,
			workdir = :workdir,
			labels = :labels,
			updated_at = :updated_at
		WHERE id = :id`

	row := map[string]any{
		"id":          recipe.ID,
		"name":        recipe.Name,
		"slug":        recipe.Slug,
		"description": recipe.Description,
		"base_image":  recipe.BaseImage,
		"script_path": recipe.ScriptPath,
		"packages":    string(packagesJSON),
		"interpreter": recipe.Interpreter,
		"workdir":     recipe.WorkDir,
		"labels":      string(labelsJSON),
		"updated_at":  formatTime(recipe.UpdatedAt),
	}

	result, err := exec.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: recipes.slug") {
			return NewStoreError("UpdateRecipe", "recipe", recipe.ID, "recipe with this slug already exists", ErrDuplicateSlug)
		}
		return NewStoreError("UpdateRecipe", "recipe", recipe.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("UpdateRecipe", "recipe", recipe.ID, "recipe not found", ErrNotFound)
	}

	return nil
}

func deleteRecipe(ctx context.Context, exec executor, id string) error {
	query := `DELETE FROM recipes WHERE id = ?`

	result, err := exec.ExecContext(ctx, query, id)
	if err != nil {
		return NewStoreError("DeleteRecipe", "recipe", id, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("DeleteRecipe", "recipe", id, "recipe not found", ErrNotFound)
	}

	return nil
}

func listRecipes(ctx context.Context, exec executor, opts ListOptions) ([]domain.Recipe, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM recipes ORDER BY created_at DESC LIMIT ? OFFSET ?`

	var rows []recipeRow
	err := exec.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRecipes", "recipe", "", err.Error(), err)
	}

	recipes := make([]domain.Recipe, 0, len(rows))
	for _, row := range rows {
		recipe, err := rowToRecipe(&row)
		if err != nil {
			return nil, err
		}
		recipes = append(recipes, *recipe)
	}

	return recipes, nil
}

// =============================================================================
// Row Conversion
// =============================================================================

// rowToRecipe converts a database row to a domain.Recipe.
func rowToRecipe(row *recipeRow) (*domain.Recipe, error) {
	var packages []string
	if row.Packages != "" && row.Packages != "null" {
		if err := json.Unmarshal([]byte(row.Packages), &packages); err != nil {
			return nil, NewStoreError("rowToRecipe", "recipe", row.ID, "failed to parse packages", ErrInvalidData)
		}
	}

	var labels map[string]string
	if row.Labels != nil && *row.Labels != "" && *row.Labels != "null" {
		if err := json.Unmarshal([]byte(*row.Labels), &labels); err != nil {
			return nil, NewStoreError("rowToRecipe", "recipe", row.ID, "failed to parse labels", ErrInvalidData)
		}
	}

	return &domain.Recipe{
		ID:          row.ID,
		Name:        row.Name,
		Slug:        row.Slug,
		Description: row.Description,
		BaseImage:   row.BaseImage,
		ScriptPath:  row.ScriptPath,
		Packages:    packages,
		Interpreter: row.Interpreter,
		WorkDir:     row.WorkDir,
		Labels:      labels,
		CreatedAt:   parseTime(row.CreatedAt),
		UpdatedAt:   parseTime(row.UpdatedAt),
	}, nil
}
