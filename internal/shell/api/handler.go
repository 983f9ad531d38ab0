// Package api provides HTTP handlers for the bakery API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/casebake/bakery/internal/core/crypto"
	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/core/provider"
	"github.com/casebake/bakery/internal/core/recipe"
	"github.com/casebake/bakery/internal/core/stats"
	"github.com/casebake/bakery/internal/core/validation"
	apimw "github.com/casebake/bakery/internal/shell/api/middleware"
	"github.com/casebake/bakery/internal/shell/api/openapi"
	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/casebake/bakery/internal/shell/store"
	"github.com/casebake/bakery/internal/shell/workers"
)

// =============================================================================
// Handler
// =============================================================================

// Handler provides HTTP handlers for the API.
type Handler struct {
	store       store.Store
	executor    *docker.Executor
	health      *workers.HealthChecker
	provisioner *workers.Provisioner
	config      HandlerConfig
	logger      *slog.Logger
	spec        *openapi.Generator
}

// HandlerConfig holds the handler's non-dependency settings.
type HandlerConfig struct {
	// EncryptionKey is the AES key protecting SSH keys and cloud credentials.
	EncryptionKey []byte

	// AuthToken guards /api/v1 when set. Empty disables auth.
	AuthToken string

	// CaseSeriesPath is an optional CSV file backing the stats endpoints
	// when a request carries no series of its own.
	CaseSeriesPath string
}

// NewHandler creates a new API handler.
func NewHandler(
	s store.Store,
	executor *docker.Executor,
	health *workers.HealthChecker,
	provisioner *workers.Provisioner,
	config HandlerConfig,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		store:       s,
		executor:    executor,
		health:      health,
		provisioner: provisioner,
		config:      config,
		logger:      logger.With("component", "api"),
		spec:        buildSpec(),
	}
}

// buildSpec registers every resource with the OpenAPI generator.
func buildSpec() *openapi.Generator {
	g := openapi.NewGenerator()

	g.RegisterResource(openapi.ResourceInfo{
		Name:           "recipes",
		Model:          RecipeResponse{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsUpdate: true,
		SupportsDelete: true,
		Actions: []openapi.ActionInfo{
			{Name: "bake", Summary: "Queue an image build for the recipe"},
		},
	})
	g.RegisterResource(openapi.ResourceInfo{
		Name:         "bakes",
		Model:        BakeResponse{},
		SupportsFind: true,
	})
	g.RegisterResource(openapi.ResourceInfo{
		Name:           "runs",
		Model:          RunResponse{},
		SupportsFind:   true,
		SupportsCreate: true,
	})
	g.RegisterResource(openapi.ResourceInfo{
		Name:           "nodes",
		Model:          NodeResponse{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsUpdate: true,
		SupportsDelete: true,
		Actions: []openapi.ActionInfo{
			{Name: "check", Summary: "Health-check the node now"},
		},
	})
	g.RegisterResource(openapi.ResourceInfo{
		Name:           "ssh-keys",
		Model:          SSHKeyResponse{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsDelete: true,
	})
	g.RegisterResource(openapi.ResourceInfo{
		Name:           "cloud-credentials",
		Model:          CloudCredentialResponse{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsDelete: true,
	})
	g.RegisterResource(openapi.ResourceInfo{
		Name:           "cloud-provisions",
		Model:          CloudProvisionResponse{},
		SupportsFind:   true,
		SupportsCreate: true,
		SupportsDelete: true,
		Actions: []openapi.ActionInfo{
			{Name: "retry", Summary: "Retry a failed provision"},
		},
	})

	return g
}

// Routes returns the HTTP routes for the API.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.jsonContentType)
	r.Use(h.requestIDHeader)

	// Health and the API document stay open even when auth is on.
	r.Get("/health", h.handleHealth)
	r.Get("/health/live", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/health/ready", h.handleReady)
	r.Get("/openapi.json", h.spec.Handler())

	auth := apimw.NewTokenAuth(apimw.AuthConfig{Token: h.config.AuthToken, Logger: h.logger})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(auth.Handler)

		r.Route("/recipes", func(r chi.Router) {
			r.Post("/", h.handleCreateRecipe)
			r.Get("/", h.handleListRecipes)
			r.Get("/{id}", h.handleGetRecipe)
			r.Put("/{id}", h.handleUpdateRecipe)
			r.Delete("/{id}", h.handleDeleteRecipe)
			r.Post("/{id}/bake", h.handleBakeRecipe)
			r.Get("/{id}/manifest", h.handleRecipeManifest)
		})

		r.Route("/bakes", func(r chi.Router) {
			r.Get("/", h.handleListBakes)
			r.Get("/{id}", h.handleGetBake)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", h.handleCreateRun)
			r.Get("/", h.handleListRuns)
			r.Get("/{id}", h.handleGetRun)
			r.Get("/{id}/logs", h.handleRunLogs)
		})

		r.Route("/stats", func(r chi.Router) {
			r.Post("/summary", h.handleStatsSummary)
			r.Post("/forecast", h.handleStatsForecast)
			r.Post("/trigger", h.handleStatsTrigger)
		})

		r.Route("/nodes", func(r chi.Router) {
			r.Post("/", h.handleCreateNode)
			r.Get("/", h.handleListNodes)
			r.Get("/{id}", h.handleGetNode)
			r.Put("/{id}", h.handleUpdateNode)
			r.Delete("/{id}", h.handleDeleteNode)
			r.Post("/{id}/check", h.handleCheckNode)
		})

		r.Route("/ssh-keys", func(r chi.Router) {
			r.Post("/", h.handleCreateSSHKey)
			r.Get("/", h.handleListSSHKeys)
			r.Get("/{id}", h.handleGetSSHKey)
			r.Delete("/{id}", h.handleDeleteSSHKey)
		})

		r.Route("/cloud-credentials", func(r chi.Router) {
			r.Post("/", h.handleCreateCloudCredential)
			r.Get("/", h.handleListCloudCredentials)
			r.Get("/{id}", h.handleGetCloudCredential)
			r.Delete("/{id}", h.handleDeleteCloudCredential)
			r.Get("/{id}/regions", h.handleCredentialRegions)
			r.Get("/{id}/sizes", h.handleCredentialSizes)
		})

		r.Route("/cloud-provisions", func(r chi.Router) {
			r.Post("/", h.handleCreateCloudProvision)
			r.Get("/", h.handleListCloudProvisions)
			r.Get("/{id}", h.handleGetCloudProvision)
			r.Post("/{id}/retry", h.handleRetryCloudProvision)
			r.Delete("/{id}", h.handleDestroyCloudProvision)
		})
	})

	return r
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets the JSON content type on all responses.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID into the response headers.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := middleware.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	checks := map[string]string{
		"database": "ok",
		"docker":   "ok",
	}
	ready := true

	if _, err := h.store.ListRecipes(r.Context(), store.ListOptions{Limit: 1}); err != nil {
		checks["database"] = "failed"
		ready = false
	}
	if err := h.executor.Ping(); err != nil {
		checks["docker"] = "failed"
		ready = false
	}

	if !ready {
		h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{Status: "not_ready", Checks: checks})
		return
	}
	h.writeJSON(w, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}

// =============================================================================
// Recipe Handlers
// =============================================================================

func (h *Handler) handleCreateRecipe(w http.ResponseWriter, r *http.Request) {
	var req CreateRecipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	rcp, err := recipeFromRequest(req)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreateRecipe(r.Context(), rcp); err != nil {
		if errors.Is(err, store.ErrDuplicateSlug) {
			h.writeError(w, http.StatusConflict, "a recipe with this name already exists", "duplicate_recipe")
			return
		}
		h.logger.Error("failed to create recipe", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create recipe", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, recipeToResponse(rcp))
}

// recipeFromRequest builds a validated recipe from either the YAML manifest
// or the individual request fields.
func recipeFromRequest(req CreateRecipeRequest) (*domain.Recipe, error) {
	if req.Manifest != "" {
		return recipe.ParseManifest(req.Manifest)
	}

	if _, msg := validation.ValidateCreateRecipeFields(req.Name, req.BaseImage, req.ScriptPath); msg != "" {
		return nil, errors.New(msg)
	}

	rcp, err := domain.NewRecipe(req.Name, req.BaseImage, req.ScriptPath, req.Packages)
	if err != nil {
		return nil, err
	}
	rcp.Description = req.Description
	rcp.Labels = req.Labels
	if req.Interpreter != "" {
		rcp.Interpreter = req.Interpreter
	}
	if req.WorkDir != "" {
		rcp.WorkDir = req.WorkDir
	}

	// An overridden interpreter must have a known installer when packages
	// are requested, otherwise the bake would fail at render time.
	if len(rcp.Packages) > 0 {
		if _, err := recipe.InstallerFor(rcp.Interpreter); err != nil {
			return nil, err
		}
	}
	return rcp, nil
}

// handleGetRecipe resolves by ID first and falls back to the slug, so
// `GET /recipes/corona-stats` works as well as the UUID form.
func (h *Handler) handleGetRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rcp, err := h.store.GetRecipe(r.Context(), id)
	if isNotFound(err) {
		rcp, err = h.store.GetRecipeBySlug(r.Context(), id)
	}
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "recipe not found", "recipe_not_found")
			return
		}
		h.logger.Error("failed to get recipe", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get recipe", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, recipeToResponse(rcp))
}

func (h *Handler) handleListRecipes(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	recipes, err := h.store.ListRecipes(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list recipes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list recipes", "internal_error")
		return
	}

	resp := ListRecipesResponse{
		Recipes: make([]RecipeResponse, 0, len(recipes)),
		Total:   len(recipes),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	for i := range recipes {
		resp.Recipes = append(resp.Recipes, recipeToResponse(&recipes[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleUpdateRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req UpdateRecipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	rcp, err := h.store.GetRecipe(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "recipe not found", "recipe_not_found")
			return
		}
		h.logger.Error("failed to get recipe", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get recipe", "internal_error")
		return
	}

	// Changing build inputs under an active bake would build something other
	// than what the bake's fingerprint recorded.
	if req.BaseImage != "" || req.ScriptPath != "" || req.Packages != nil {
		active, err := h.store.CountActiveBakes(r.Context(), rcp.ID)
		if err != nil {
			h.logger.Error("failed to count active bakes", "recipe_id", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to update recipe", "internal_error")
			return
		}
		if allowed, reason := validation.CanUpdateRecipe(active); !allowed {
			h.writeError(w, http.StatusConflict, reason, "bake_in_progress")
			return
		}
	}

	if req.Name != "" {
		if err := domain.ValidateName(req.Name); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		rcp.Name = req.Name // slug stays; image tags key off it
	}
	if req.Description != "" {
		rcp.Description = req.Description
	}
	if req.BaseImage != "" {
		if err := domain.ValidateBaseImage(req.BaseImage); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		rcp.BaseImage = req.BaseImage
		rcp.Interpreter = domain.InterpreterFor(req.BaseImage)
	}
	if req.ScriptPath != "" {
		if err := domain.ValidateScriptPath(req.ScriptPath); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		rcp.ScriptPath = req.ScriptPath
	}
	if req.Packages != nil {
		if err := domain.ValidatePackages(req.Packages); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		rcp.Packages = req.Packages
	}
	if req.Labels != nil {
		rcp.Labels = req.Labels
	}
	rcp.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateRecipe(r.Context(), rcp); err != nil {
		h.logger.Error("failed to update recipe", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to update recipe", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, recipeToResponse(rcp))
}

func (h *Handler) handleDeleteRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	rcp, err := h.store.GetRecipe(ctx, id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "recipe not found", "recipe_not_found")
			return
		}
		h.logger.Error("failed to get recipe", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get recipe", "internal_error")
		return
	}

	active, err := h.store.CountActiveBakes(ctx, rcp.ID)
	if err != nil {
		h.logger.Error("failed to count active bakes", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete recipe", "internal_error")
		return
	}
	if allowed, reason := validation.CanDeleteRecipe(active); !allowed {
		h.writeError(w, http.StatusConflict, reason, "recipe_in_use")
		return
	}

	runs, err := h.store.ListRunsByRecipe(ctx, rcp.ID, store.ListOptions{Limit: 1000})
	if err != nil {
		h.logger.Error("failed to list runs", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete recipe", "internal_error")
		return
	}
	for i := range runs {
		if !runs[i].Status.IsTerminal() {
			h.writeError(w, http.StatusConflict, "recipe has an active run", "recipe_in_use")
			return
		}
	}

	// Best-effort image cleanup; the rows cascade away regardless.
	bakes, err := h.store.ListBakesByRecipe(ctx, rcp.ID, store.ListOptions{Limit: 1000})
	if err == nil {
		for i := range bakes {
			if bakes[i].Status != domain.BakeStatusSucceeded {
				continue
			}
			if err := h.executor.RemoveBakeImage(ctx, &bakes[i]); err != nil {
				h.logger.Warn("failed to remove baked image",
					"bake_id", bakes[i].ID,
					"image_tag", bakes[i].ImageTag,
					"error", err,
				)
			}
		}
	}

	if err := h.store.DeleteRecipe(ctx, rcp.ID); err != nil {
		h.logger.Error("failed to delete recipe", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete recipe", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBakeRecipe(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req BakeRecipeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	rcp, err := h.store.GetRecipe(ctx, id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "recipe not found", "recipe_not_found")
			return
		}
		h.logger.Error("failed to get recipe", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get recipe", "internal_error")
		return
	}

	fingerprint := recipe.Fingerprint(rcp)

	if !req.Force {
		existing, err := h.store.GetBakeByFingerprint(ctx, rcp.ID, fingerprint)
		if err != nil && !isNotFound(err) {
			h.logger.Error("failed to look up bake by fingerprint", "recipe_id", id, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to bake recipe", "internal_error")
			return
		}
		if existing != nil && existing.Status == domain.BakeStatusSucceeded {
			// The image for this exact recipe already exists.
			h.writeJSON(w, http.StatusOK, bakeToResponse(existing))
			return
		}
	}

	active, err := h.store.CountActiveBakes(ctx, rcp.ID)
	if err != nil {
		h.logger.Error("failed to count active bakes", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to bake recipe", "internal_error")
		return
	}
	if active > 0 {
		h.writeError(w, http.StatusConflict, "a bake is already queued or building for this recipe", "bake_in_progress")
		return
	}

	bake, err := domain.NewBake(rcp.ID, rcp.Slug, fingerprint)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreateBake(ctx, bake); err != nil {
		h.logger.Error("failed to create bake", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to bake recipe", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, bakeToResponse(bake))
}

func (h *Handler) handleRecipeManifest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rcp, err := h.store.GetRecipe(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "recipe not found", "recipe_not_found")
			return
		}
		h.logger.Error("failed to get recipe", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get recipe", "internal_error")
		return
	}

	manifest, err := recipe.MarshalManifest(rcp)
	if err != nil {
		h.logger.Error("failed to marshal manifest", "recipe_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to render manifest", "internal_error")
		return
	}

	w.Header().Set("Content-Type", "application/x-yaml")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(manifest))
}

// =============================================================================
// Bake Handlers
// =============================================================================

func (h *Handler) handleListBakes(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	ctx := r.Context()

	var bakes []domain.Bake
	var err error

	switch {
	case r.URL.Query().Get("recipe_id") != "":
		bakes, err = h.store.ListBakesByRecipe(ctx, r.URL.Query().Get("recipe_id"), opts)
	case r.URL.Query().Get("status") != "":
		status := domain.BakeStatus(r.URL.Query().Get("status"))
		if !status.IsValid() {
			h.writeError(w, http.StatusBadRequest, "invalid status filter", "validation_error")
			return
		}
		bakes, err = h.store.ListBakesByStatus(ctx, status, opts.Limit)
	default:
		bakes, err = h.store.ListBakes(ctx, opts)
	}
	if err != nil {
		h.logger.Error("failed to list bakes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list bakes", "internal_error")
		return
	}

	resp := ListBakesResponse{
		Bakes:  make([]BakeResponse, 0, len(bakes)),
		Total:  len(bakes),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range bakes {
		resp.Bakes = append(resp.Bakes, bakeToResponse(&bakes[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetBake(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	bake, err := h.store.GetBake(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "bake not found", "bake_not_found")
			return
		}
		h.logger.Error("failed to get bake", "bake_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get bake", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, bakeToResponse(bake))
}

// =============================================================================
// Run Handlers
// =============================================================================

func (h *Handler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.BakeID == "" && req.RecipeID == "" {
		h.writeError(w, http.StatusBadRequest, "bake_id or recipe_id is required", "validation_error")
		return
	}
	if req.BakeID != "" && req.RecipeID != "" {
		h.writeError(w, http.StatusBadRequest, "bake_id and recipe_id are mutually exclusive", "validation_error")
		return
	}

	var bake *domain.Bake
	var err error
	if req.BakeID != "" {
		bake, err = h.store.GetBake(ctx, req.BakeID)
		if err != nil {
			if isNotFound(err) {
				h.writeError(w, http.StatusNotFound, "bake not found", "bake_not_found")
				return
			}
			h.logger.Error("failed to get bake", "bake_id", req.BakeID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to create run", "internal_error")
			return
		}
	} else {
		if _, err := h.store.GetRecipe(ctx, req.RecipeID); err != nil {
			if isNotFound(err) {
				h.writeError(w, http.StatusNotFound, "recipe not found", "recipe_not_found")
				return
			}
			h.logger.Error("failed to get recipe", "recipe_id", req.RecipeID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to create run", "internal_error")
			return
		}
		bake, err = h.store.GetLatestSucceededBake(ctx, req.RecipeID)
		if err != nil {
			if isNotFound(err) {
				h.writeError(w, http.StatusNotFound, "recipe has no succeeded bake", "bake_not_found")
				return
			}
			h.logger.Error("failed to get latest bake", "recipe_id", req.RecipeID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to create run", "internal_error")
			return
		}
	}

	if allowed, reason := validation.CanRunBake(bake.Status); !allowed {
		h.writeError(w, http.StatusConflict, reason, "bake_not_succeeded")
		return
	}

	run, err := domain.NewRun(bake)
	if err != nil {
		if errors.Is(err, domain.ErrBakeNotSucceeded) {
			h.writeError(w, http.StatusConflict, err.Error(), "bake_not_succeeded")
			return
		}
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreateRun(ctx, run); err != nil {
		h.logger.Error("failed to create run", "bake_id", bake.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, runToResponse(run))
}

func (h *Handler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)
	ctx := r.Context()

	var runs []domain.Run
	var err error

	switch {
	case r.URL.Query().Get("recipe_id") != "":
		runs, err = h.store.ListRunsByRecipe(ctx, r.URL.Query().Get("recipe_id"), opts)
	case r.URL.Query().Get("status") != "":
		status := domain.RunStatus(r.URL.Query().Get("status"))
		if !status.IsValid() {
			h.writeError(w, http.StatusBadRequest, "invalid status filter", "validation_error")
			return
		}
		runs, err = h.store.ListRunsByStatus(ctx, status, opts.Limit)
	default:
		runs, err = h.store.ListRuns(ctx, opts)
	}
	if err != nil {
		h.logger.Error("failed to list runs", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list runs", "internal_error")
		return
	}

	resp := ListRunsResponse{
		Runs:   make([]RunResponse, 0, len(runs)),
		Total:  len(runs),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range runs {
		resp.Runs = append(resp.Runs, runToResponse(&runs[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, runToResponse(run))
}

func (h *Handler) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, err := h.store.GetRun(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "run not found", "run_not_found")
			return
		}
		h.logger.Error("failed to get run", "run_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get run", "internal_error")
		return
	}

	// Output is captured when the container finishes; until then there is
	// nothing to serve.
	if !run.Status.IsTerminal() {
		h.writeError(w, http.StatusConflict, "run has not finished", "run_not_finished")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(run.Output))
}

// =============================================================================
// Stats Handlers
// =============================================================================

func (h *Handler) handleStatsSummary(w http.ResponseWriter, r *http.Request) {
	var req StatsSummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	f, series, ok := h.forecaster(w, req.CSV, req.RegionalOffset)
	if !ok {
		return
	}

	ma, err := f.MovingAverage()
	if err != nil {
		h.statsError(w, err)
		return
	}
	std, err := f.MovingStd()
	if err != nil {
		h.statsError(w, err)
		return
	}
	rate, err := f.ReproductionRate()
	if err != nil {
		h.statsError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatsSummaryResponse{
		Days:             series.Len(),
		Newest:           series.Newest(),
		Oldest:           series.Oldest(),
		MovingAverage:    ma,
		MovingStd:        std,
		ReproductionRate: rate,
	})
}

func (h *Handler) handleStatsForecast(w http.ResponseWriter, r *http.Request) {
	var req StatsForecastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if (req.Until == "") == (req.Days == 0) {
		h.writeError(w, http.StatusBadRequest, "exactly one of until and days is required", "validation_error")
		return
	}

	f, series, ok := h.forecaster(w, req.CSV, req.RegionalOffset)
	if !ok {
		return
	}

	var end time.Time
	if req.Until != "" {
		var err error
		end, err = time.Parse("2006-01-02", req.Until)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid until date, expected YYYY-MM-DD", "validation_error")
			return
		}
	} else {
		if req.Days < 1 {
			h.writeError(w, http.StatusBadRequest, "days must be positive", "validation_error")
			return
		}
		end = series.Newest().AddDate(0, 0, req.Days)
	}

	predictions, err := f.ForecastTo(end)
	if err != nil {
		h.statsError(w, err)
		return
	}
	if predictions == nil {
		predictions = []stats.Prediction{}
	}

	h.writeJSON(w, http.StatusOK, StatsForecastResponse{
		Newest:      series.Newest(),
		Predictions: predictions,
	})
}

func (h *Handler) handleStatsTrigger(w http.ResponseWriter, r *http.Request) {
	var req StatsTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	threshold := req.Threshold
	if threshold == 0 {
		threshold = stats.DefaultTriggerThreshold
	}
	if threshold < 0 {
		h.writeError(w, http.StatusBadRequest, "threshold must be positive", "validation_error")
		return
	}

	f, series, ok := h.forecaster(w, req.CSV, req.RegionalOffset)
	if !ok {
		return
	}

	date, err := f.TriggerDate(threshold)
	if err != nil {
		if errors.Is(err, stats.ErrNoTrigger) {
			h.writeError(w, http.StatusNotFound, err.Error(), "trigger_not_found")
			return
		}
		h.statsError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, StatsTriggerResponse{
		Threshold: threshold,
		Date:      date,
		DaysOut:   int(date.Sub(series.Newest()).Hours() / 24),
	})
}

// forecaster loads the case series from the request body or the configured
// file and fits a forecaster over it. On failure it writes the error
// response and reports ok=false.
func (h *Handler) forecaster(w http.ResponseWriter, csv string, offset float64) (*stats.Forecaster, *stats.CaseSeries, bool) {
	if csv == "" {
		if h.config.CaseSeriesPath == "" {
			h.writeError(w, http.StatusBadRequest, "no case series provided and none configured", "no_case_series")
			return nil, nil, false
		}
		content, err := os.ReadFile(h.config.CaseSeriesPath)
		if err != nil {
			h.logger.Error("failed to read configured case series", "path", h.config.CaseSeriesPath, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to read configured case series", "internal_error")
			return nil, nil, false
		}
		csv = string(content)
	}

	series, err := stats.ParseCaseSeries(csv)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_case_series")
		return nil, nil, false
	}

	f, err := stats.NewForecaster(series, offset)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_case_series")
		return nil, nil, false
	}
	return f, series, true
}

// statsError maps analysis errors to responses.
func (h *Handler) statsError(w http.ResponseWriter, err error) {
	if errors.Is(err, stats.ErrSeriesTooShort) {
		h.writeError(w, http.StatusBadRequest, err.Error(), "series_too_short")
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_case_series")
}

// =============================================================================
// Node Handlers
// =============================================================================

func (h *Handler) handleCreateNode(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	port := req.SSHPort
	if port == 0 {
		port = 22
	}

	node, err := domain.NewNode(req.Name, req.SSHHost, req.SSHUser, port)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if req.SSHKeyID != "" {
		if _, err := h.store.GetSSHKey(ctx, req.SSHKeyID); err != nil {
			if isNotFound(err) {
				h.writeError(w, http.StatusNotFound, "ssh key not found", "ssh_key_not_found")
				return
			}
			h.logger.Error("failed to get ssh key", "ssh_key_id", req.SSHKeyID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to create node", "internal_error")
			return
		}
		node.SSHKeyID = req.SSHKeyID
	}
	if req.DockerSocket != "" {
		node.DockerSocket = req.DockerSocket
	}
	node.Location = req.Location

	if err := h.store.CreateNode(ctx, node); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "a node with this name already exists", "duplicate_node")
			return
		}
		h.logger.Error("failed to create node", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create node", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, nodeToResponse(node))
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	nodes, err := h.store.ListNodes(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list nodes", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list nodes", "internal_error")
		return
	}

	resp := ListNodesResponse{
		Nodes:  make([]NodeResponse, 0, len(nodes)),
		Total:  len(nodes),
		Limit:  opts.Limit,
		Offset: opts.Offset,
	}
	for i := range nodes {
		resp.Nodes = append(resp.Nodes, nodeToResponse(&nodes[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	node, err := h.store.GetNode(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "node not found", "node_not_found")
			return
		}
		h.logger.Error("failed to get node", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get node", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, nodeToResponse(node))
}

func (h *Handler) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	var req UpdateNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	node, err := h.store.GetNode(ctx, id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "node not found", "node_not_found")
			return
		}
		h.logger.Error("failed to get node", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get node", "internal_error")
		return
	}

	if req.Name != "" {
		if err := domain.ValidateNodeName(req.Name); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		node.Name = req.Name
	}
	if req.SSHHost != "" {
		if err := domain.ValidateSSHHost(req.SSHHost); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		node.SSHHost = req.SSHHost
	}
	if req.SSHPort != 0 {
		if err := domain.ValidateSSHPort(req.SSHPort); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		node.SSHPort = req.SSHPort
	}
	if req.SSHUser != "" {
		if err := domain.ValidateSSHUser(req.SSHUser); err != nil {
			h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
			return
		}
		node.SSHUser = req.SSHUser
	}
	if req.SSHKeyID != "" {
		if _, err := h.store.GetSSHKey(ctx, req.SSHKeyID); err != nil {
			if isNotFound(err) {
				h.writeError(w, http.StatusNotFound, "ssh key not found", "ssh_key_not_found")
				return
			}
			h.logger.Error("failed to get ssh key", "ssh_key_id", req.SSHKeyID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to update node", "internal_error")
			return
		}
		node.SSHKeyID = req.SSHKeyID
	}
	if req.DockerSocket != "" {
		node.DockerSocket = req.DockerSocket
	}
	if req.Location != "" {
		node.Location = req.Location
	}
	if req.Status != "" {
		status := domain.NodeStatus(req.Status)
		if !status.IsValid() {
			h.writeError(w, http.StatusBadRequest, "invalid node status", "validation_error")
			return
		}
		// Online is earned through a passing health check, not assigned.
		if status == domain.NodeStatusOnline {
			h.writeError(w, http.StatusBadRequest, "node status can only be set to maintenance or offline", "validation_error")
			return
		}
		node.Status = status
	}
	node.UpdatedAt = time.Now()

	if err := h.store.UpdateNode(ctx, node); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "a node with this name already exists", "duplicate_node")
			return
		}
		h.logger.Error("failed to update node", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to update node", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, nodeToResponse(node))
}

func (h *Handler) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	node, err := h.store.GetNode(ctx, id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "node not found", "node_not_found")
			return
		}
		h.logger.Error("failed to get node", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get node", "internal_error")
		return
	}

	// The in-use check and the delete run in one transaction so a bake
	// scheduled between them cannot orphan its node.
	err = h.store.WithTx(ctx, func(tx store.Store) error {
		bakes, err := tx.ListBakesByNode(ctx, node.ID)
		if err != nil {
			return err
		}
		for i := range bakes {
			if !bakes[i].Status.IsTerminal() {
				return errEntityInUse
			}
		}
		return tx.DeleteNode(ctx, node.ID)
	})
	if err != nil {
		if errors.Is(err, errEntityInUse) {
			h.writeError(w, http.StatusConflict, "node has a bake queued or building", "node_in_use")
			return
		}
		h.logger.Error("failed to delete node", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete node", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCheckNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if err := h.health.CheckNodeNow(ctx, id); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "node not found", "node_not_found")
			return
		}
		h.logger.Error("health check failed", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "health check failed", "internal_error")
		return
	}

	node, err := h.store.GetNode(ctx, id)
	if err != nil {
		h.logger.Error("failed to get node after check", "node_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get node", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, nodeToResponse(node))
}

// =============================================================================
// SSH Key Handlers
// =============================================================================

func (h *Handler) handleCreateSSHKey(w http.ResponseWriter, r *http.Request) {
	var req CreateSSHKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.Name == "" {
		h.writeError(w, http.StatusBadRequest, "name is required", "validation_error")
		return
	}

	var privateKey []byte
	var publicKey string
	if req.PrivateKey == "" {
		var err error
		privateKey, publicKey, err = crypto.GenerateSSHKeyPair()
		if err != nil {
			h.logger.Error("failed to generate ssh key pair", "error", err)
			h.writeError(w, http.StatusInternalServerError, "failed to generate key pair", "internal_error")
			return
		}
	} else {
		privateKey = []byte(req.PrivateKey)
		if err := crypto.ValidateSSHPrivateKey(privateKey); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid private key", "validation_error")
			return
		}
		var err error
		publicKey, err = crypto.GetSSHPublicKey(privateKey)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid private key", "validation_error")
			return
		}
	}

	fingerprint, err := crypto.GetSSHPublicKeyFingerprint(privateKey)
	if err != nil {
		fingerprint = "unknown"
	}

	encrypted, err := crypto.EncryptSSHKey(privateKey, h.config.EncryptionKey)
	if err != nil {
		h.logger.Error("failed to encrypt ssh key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to encrypt private key", "internal_error")
		return
	}

	key := &domain.SSHKey{
		ID:                  domain.GenerateSSHKeyID(),
		Name:                req.Name,
		PrivateKeyEncrypted: encrypted,
		PublicKey:           publicKey,
		Fingerprint:         fingerprint,
		CreatedAt:           time.Now().UTC(),
	}

	if err := h.store.CreateSSHKey(r.Context(), key); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "an ssh key with this name already exists", "duplicate_ssh_key")
			return
		}
		h.logger.Error("failed to create ssh key", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create ssh key", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, sshKeyToResponse(key))
}

func (h *Handler) handleListSSHKeys(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	keys, err := h.store.ListSSHKeys(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list ssh keys", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list ssh keys", "internal_error")
		return
	}

	resp := ListSSHKeysResponse{
		SSHKeys: make([]SSHKeyResponse, 0, len(keys)),
		Total:   len(keys),
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	}
	for i := range keys {
		resp.SSHKeys = append(resp.SSHKeys, sshKeyToResponse(&keys[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetSSHKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	key, err := h.store.GetSSHKey(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "ssh key not found", "ssh_key_not_found")
			return
		}
		h.logger.Error("failed to get ssh key", "ssh_key_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get ssh key", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, sshKeyToResponse(key))
}

func (h *Handler) handleDeleteSSHKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	if _, err := h.store.GetSSHKey(ctx, id); err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "ssh key not found", "ssh_key_not_found")
			return
		}
		h.logger.Error("failed to get ssh key", "ssh_key_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get ssh key", "internal_error")
		return
	}

	// Check and delete atomically so a node registered mid-request cannot
	// end up pointing at a deleted key.
	err := h.store.WithTx(ctx, func(tx store.Store) error {
		nodes, err := tx.ListNodesBySSHKey(ctx, id)
		if err != nil {
			return err
		}
		if len(nodes) > 0 {
			return errEntityInUse
		}
		return tx.DeleteSSHKey(ctx, id)
	})
	if err != nil {
		if errors.Is(err, errEntityInUse) {
			h.writeError(w, http.StatusConflict, "ssh key is assigned to nodes", "ssh_key_in_use")
			return
		}
		h.logger.Error("failed to delete ssh key", "ssh_key_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete ssh key", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Cloud Credential Handlers
// =============================================================================

func (h *Handler) handleCreateCloudCredential(w http.ResponseWriter, r *http.Request) {
	var req CreateCloudCredentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}

	providerType := domain.ProviderType(req.Provider)
	if !providerType.IsValid() {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidProviderType.Error(), "validation_error")
		return
	}

	credJSON, err := json.Marshal(req.Credentials)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid credentials document", "validation_error")
		return
	}
	if err := provider.ValidateCredentialsJSON(providerType, credJSON); err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "invalid_credentials")
		return
	}

	region := req.DefaultRegion
	if region == "" {
		region = provider.DefaultRegion(providerType)
	} else if !provider.KnownRegion(providerType, region) {
		// Catalogs lag behind providers; an unknown region is not a rejection.
		h.logger.Warn("region not in static catalog", "provider", req.Provider, "region", region)
	}

	encrypted, err := crypto.EncryptCredentials(credJSON, h.config.EncryptionKey)
	if err != nil {
		h.logger.Error("failed to encrypt credentials", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to encrypt credentials", "internal_error")
		return
	}

	cred, err := domain.NewCloudCredential(req.Name, providerType, encrypted, region)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreateCloudCredential(r.Context(), cred); err != nil {
		if errors.Is(err, store.ErrDuplicateName) {
			h.writeError(w, http.StatusConflict, "a credential with this name already exists", "duplicate_credential")
			return
		}
		h.logger.Error("failed to create credential", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create credential", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusCreated, credentialToResponse(cred))
}

func (h *Handler) handleListCloudCredentials(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	creds, err := h.store.ListCloudCredentials(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list credentials", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list credentials", "internal_error")
		return
	}

	resp := ListCloudCredentialsResponse{
		CloudCredentials: make([]CloudCredentialResponse, 0, len(creds)),
		Total:            len(creds),
		Limit:            opts.Limit,
		Offset:           opts.Offset,
	}
	for i := range creds {
		resp.CloudCredentials = append(resp.CloudCredentials, credentialToResponse(&creds[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetCloudCredential(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.credentialForRequest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, credentialToResponse(cred))
}

func (h *Handler) handleDeleteCloudCredential(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cred, ok := h.credentialForRequest(w, r)
	if !ok {
		return
	}

	provisions, err := h.store.ListCloudProvisionsByCredential(ctx, cred.ID)
	if err != nil {
		h.logger.Error("failed to list provisions for credential", "credential_id", cred.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete credential", "internal_error")
		return
	}
	if len(provisions) > 0 {
		h.writeError(w, http.StatusConflict, "credential has provisions", "credential_in_use")
		return
	}

	if err := h.store.DeleteCloudCredential(ctx, cred.ID); err != nil {
		h.logger.Error("failed to delete credential", "credential_id", cred.ID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete credential", "internal_error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCredentialRegions(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.credentialForRequest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, RegionsResponse{
		Provider: string(cred.Provider),
		Regions:  provider.StaticRegions(cred.Provider),
	})
}

func (h *Handler) handleCredentialSizes(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.credentialForRequest(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, SizesResponse{
		Provider: string(cred.Provider),
		Sizes:    provider.StaticSizes(cred.Provider),
	})
}

// credentialForRequest loads the credential named in the URL, writing the
// error response when it cannot.
func (h *Handler) credentialForRequest(w http.ResponseWriter, r *http.Request) (*domain.CloudCredential, bool) {
	id := chi.URLParam(r, "id")

	cred, err := h.store.GetCloudCredential(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "credential not found", "credential_not_found")
			return nil, false
		}
		h.logger.Error("failed to get credential", "credential_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get credential", "internal_error")
		return nil, false
	}
	return cred, true
}

// =============================================================================
// Cloud Provision Handlers
// =============================================================================

func (h *Handler) handleCreateCloudProvision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req CreateCloudProvisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON", "validation_error")
		return
	}
	if req.CredentialID == "" {
		h.writeError(w, http.StatusBadRequest, "credential_id is required", "validation_error")
		return
	}

	cred, err := h.store.GetCloudCredential(ctx, req.CredentialID)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "credential not found", "credential_not_found")
			return
		}
		h.logger.Error("failed to get credential", "credential_id", req.CredentialID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create provision", "internal_error")
		return
	}

	region := req.Region
	if region == "" {
		region = cred.DefaultRegion
	}
	if region == "" {
		region = provider.DefaultRegion(cred.Provider)
	}
	if !provider.KnownRegion(cred.Provider, region) {
		h.logger.Warn("region not in static catalog", "provider", cred.Provider, "region", region)
	}

	size := req.Size
	if size == "" {
		size = provider.DefaultSize(cred.Provider)
	}
	if provider.LookupSize(cred.Provider, size) == nil {
		h.writeError(w, http.StatusBadRequest, "unknown size for provider", "validation_error")
		return
	}

	prov, err := domain.NewCloudProvision(cred.ID, cred.Provider, req.InstanceName, region, size)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error(), "validation_error")
		return
	}

	if err := h.store.CreateCloudProvision(ctx, prov); err != nil {
		h.logger.Error("failed to create provision", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to create provision", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, provisionToResponse(prov))
}

func (h *Handler) handleListCloudProvisions(w http.ResponseWriter, r *http.Request) {
	opts := listOptions(r)

	provisions, err := h.store.ListCloudProvisions(r.Context(), opts)
	if err != nil {
		h.logger.Error("failed to list provisions", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list provisions", "internal_error")
		return
	}

	resp := ListCloudProvisionsResponse{
		CloudProvisions: make([]CloudProvisionResponse, 0, len(provisions)),
		Total:           len(provisions),
		Limit:           opts.Limit,
		Offset:          opts.Offset,
	}
	for i := range provisions {
		resp.CloudProvisions = append(resp.CloudProvisions, provisionToResponse(&provisions[i]))
	}

	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleGetCloudProvision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	prov, err := h.store.GetCloudProvision(r.Context(), id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "provision not found", "provision_not_found")
			return
		}
		h.logger.Error("failed to get provision", "provision_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get provision", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, provisionToResponse(prov))
}

func (h *Handler) handleRetryCloudProvision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	prov, err := h.store.GetCloudProvision(ctx, id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "provision not found", "provision_not_found")
			return
		}
		h.logger.Error("failed to get provision", "provision_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get provision", "internal_error")
		return
	}

	if err := prov.Transition(domain.ProvisionStatusPending); err != nil {
		h.writeError(w, http.StatusConflict, "provision can only be retried from failed", "invalid_transition")
		return
	}

	if err := h.store.UpdateCloudProvision(ctx, prov); err != nil {
		h.logger.Error("failed to update provision", "provision_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to retry provision", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusAccepted, provisionToResponse(prov))
}

func (h *Handler) handleDestroyCloudProvision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	prov, err := h.store.GetCloudProvision(ctx, id)
	if err != nil {
		if isNotFound(err) {
			h.writeError(w, http.StatusNotFound, "provision not found", "provision_not_found")
			return
		}
		h.logger.Error("failed to get provision", "provision_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to get provision", "internal_error")
		return
	}

	if err := h.provisioner.DestroyProvision(ctx, prov); err != nil {
		if errors.Is(err, domain.ErrInvalidProvisionTransition) {
			h.writeError(w, http.StatusConflict, err.Error(), "invalid_transition")
			return
		}
		h.logger.Error("failed to destroy provision", "provision_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to destroy provision", "internal_error")
		return
	}

	h.writeJSON(w, http.StatusOK, provisionToResponse(prov))
}

// =============================================================================
// Helpers
// =============================================================================

// listOptions parses limit/offset query parameters.
func listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.Offset = n
		}
	}
	return opts.Normalize()
}

// writeJSON writes a JSON response.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{Error: message, Code: code})
}

// isNotFound checks if an error is a store not-found error.
func isNotFound(err error) bool {
	var storeErr *store.StoreError
	if errors.As(err, &storeErr) {
		return errors.Is(storeErr.Unwrap(), store.ErrNotFound)
	}
	return errors.Is(err, store.ErrNotFound)
}

// errEntityInUse aborts a delete transaction when a dependency check inside
// it finds the entity still referenced.
var errEntityInUse = errors.New("entity is still in use")

// =============================================================================
// Response Converters
// =============================================================================

func recipeToResponse(r *domain.Recipe) RecipeResponse {
	resp := RecipeResponse{
		ID:          r.ID,
		Name:        r.Name,
		Slug:        r.Slug,
		Description: r.Description,
		BaseImage:   r.BaseImage,
		ScriptPath:  r.ScriptPath,
		Packages:    r.Packages,
		Interpreter: r.Interpreter,
		WorkDir:     r.WorkDir,
		Labels:      r.Labels,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if resp.Packages == nil {
		resp.Packages = []string{}
	}
	return resp
}

func bakeToResponse(b *domain.Bake) BakeResponse {
	return BakeResponse{
		ID:          b.ID,
		RecipeID:    b.RecipeID,
		Status:      string(b.Status),
		Fingerprint: b.Fingerprint,
		ImageTag:    b.ImageTag,
		NodeID:      b.NodeID,
		BuildLog:    b.BuildLog,
		Error:       b.Error,
		CreatedAt:   b.CreatedAt,
		StartedAt:   b.StartedAt,
		FinishedAt:  b.FinishedAt,
	}
}

func runToResponse(r *domain.Run) RunResponse {
	return RunResponse{
		ID:          r.ID,
		BakeID:      r.BakeID,
		RecipeID:    r.RecipeID,
		Status:      string(r.Status),
		ContainerID: r.ContainerID,
		ExitCode:    r.ExitCode,
		Error:       r.Error,
		CreatedAt:   r.CreatedAt,
		StartedAt:   r.StartedAt,
		FinishedAt:  r.FinishedAt,
	}
}

func nodeToResponse(n *domain.Node) NodeResponse {
	return NodeResponse{
		ID:              n.ID,
		Name:            n.Name,
		SSHHost:         n.SSHHost,
		SSHPort:         n.SSHPort,
		SSHUser:         n.SSHUser,
		SSHKeyID:        n.SSHKeyID,
		DockerSocket:    n.DockerSocket,
		Status:          string(n.Status),
		Location:        n.Location,
		LastHealthCheck: n.LastHealthCheck,
		ErrorMessage:    n.ErrorMessage,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
}

func sshKeyToResponse(k *domain.SSHKey) SSHKeyResponse {
	return SSHKeyResponse{
		ID:          k.ID,
		Name:        k.Name,
		PublicKey:   k.PublicKey,
		Fingerprint: k.Fingerprint,
		CreatedAt:   k.CreatedAt,
	}
}

func credentialToResponse(c *domain.CloudCredential) CloudCredentialResponse {
	return CloudCredentialResponse{
		ID:            c.ID,
		Name:          c.Name,
		Provider:      string(c.Provider),
		DefaultRegion: c.DefaultRegion,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

func provisionToResponse(p *domain.CloudProvision) CloudProvisionResponse {
	return CloudProvisionResponse{
		ID:                 p.ID,
		CredentialID:       p.CredentialID,
		Provider:           string(p.Provider),
		Status:             string(p.Status),
		InstanceName:       p.InstanceName,
		Region:             p.Region,
		Size:               p.Size,
		ProviderInstanceID: p.ProviderInstanceID,
		PublicIP:           p.PublicIP,
		NodeID:             p.NodeID,
		SSHKeyID:           p.SSHKeyID,
		CurrentStep:        p.CurrentStep,
		ErrorMessage:       p.ErrorMessage,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
		CompletedAt:        p.CompletedAt,
	}
}
