package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/casebake/bakery/internal/core/crypto"
	"github.com/casebake/bakery/internal/core/domain"
	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/casebake/bakery/internal/shell/store"
	"github.com/casebake/bakery/internal/shell/workers"
)

// =============================================================================
// Test Helpers
// =============================================================================

// stubDocker implements docker.Client for testing.
type stubDocker struct {
	pingErr       error
	removedImages []string
	containers    map[string]*docker.ContainerInfo
}

func newStubDocker() *stubDocker {
	return &stubDocker{
		containers: make(map[string]*docker.ContainerInfo),
	}
}

func (d *stubDocker) BuildImage(contextTar []byte, spec docker.BuildSpec) (*docker.BuildResult, error) {
	return &docker.BuildResult{ImageID: "sha256:stub", Log: "stub build"}, nil
}

func (d *stubDocker) ImageExists(imageName string) (bool, error) {
	return false, nil
}

func (d *stubDocker) RemoveImage(imageName string, force bool) error {
	d.removedImages = append(d.removedImages, imageName)
	return nil
}

func (d *stubDocker) RunContainer(spec docker.ContainerSpec, timeout time.Duration) (*docker.RunResult, error) {
	return &docker.RunResult{ContainerID: "stub-container", ExitCode: 0, Output: "stub output"}, nil
}

func (d *stubDocker) InspectContainer(containerID string) (*docker.ContainerInfo, error) {
	info, ok := d.containers[containerID]
	if !ok {
		return nil, docker.ErrContainerNotFound
	}
	return info, nil
}

func (d *stubDocker) ListContainers(opts docker.ListOptions) ([]docker.ContainerInfo, error) {
	var result []docker.ContainerInfo
	for _, c := range d.containers {
		result = append(result, *c)
	}
	return result, nil
}

func (d *stubDocker) ContainerLogs(containerID string, opts docker.LogOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader([]byte("test logs"))), nil
}

func (d *stubDocker) RemoveContainer(containerID string, opts docker.RemoveOptions) error {
	if _, ok := d.containers[containerID]; !ok {
		return docker.ErrContainerNotFound
	}
	delete(d.containers, containerID)
	return nil
}

func (d *stubDocker) Ping() error {
	return d.pingErr
}

func (d *stubDocker) Close() error {
	return nil
}

// testEncryptionKey derives a fixed key for the test handlers.
func testEncryptionKey() []byte {
	return crypto.DeriveKey("handler-test-passphrase")
}

// newTestHandler builds a handler over a fresh in-memory store. Handler
// outcomes depend on real uniqueness and cascade behavior, so the tests run
// against the actual SQLite store rather than a fake.
func newTestHandler(t *testing.T) (*Handler, store.Store, *stubDocker) {
	t.Helper()
	return newTestHandlerWithConfig(t, HandlerConfig{EncryptionKey: testEncryptionKey()})
}

func newTestHandlerWithConfig(t *testing.T, config HandlerConfig) (*Handler, store.Store, *stubDocker) {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	d := newStubDocker()
	executor := docker.NewExecutor(d, nil, docker.ExecutorConfig{}, nil)
	health := workers.NewHealthChecker(s, config.EncryptionKey, workers.HealthCheckerConfig{}, nil)
	provisioner := workers.NewProvisioner(s, config.EncryptionKey, workers.ProvisionerConfig{}, nil)

	h := NewHandler(s, executor, health, provisioner, config, nil)
	return h, s, d
}

// jsonBody encodes a value to JSON and returns a reader.
func jsonBody(t *testing.T, v any) *bytes.Buffer {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

// parseResponse parses a JSON response body into the given type.
func parseResponse[T any](t *testing.T, body io.Reader) T {
	t.Helper()
	var result T
	require.NoError(t, json.NewDecoder(body).Decode(&result))
	return result
}

// createTestRecipe creates a recipe through the API and returns it.
func createTestRecipe(t *testing.T, h *Handler, name string) RecipeResponse {
	t.Helper()

	body := jsonBody(t, CreateRecipeRequest{
		Name:       name,
		BaseImage:  "python:3.7.6",
		ScriptPath: "CoronaStats/corona.py",
		Packages:   []string{"pandas", "numpy", "scipy", "matplotlib", "datetime"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return parseResponse[RecipeResponse](t, w.Body)
}

// queueTestBake queues a bake for the recipe through the API.
func queueTestBake(t *testing.T, h *Handler, recipeID string) BakeResponse {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/"+recipeID+"/bake", nil)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	return parseResponse[BakeResponse](t, w.Body)
}

// succeedTestBake walks the bake through its lifecycle in the store, the way
// the bake worker would.
func succeedTestBake(t *testing.T, s store.Store, bakeID string) *domain.Bake {
	t.Helper()

	ctx := context.Background()
	bake, err := s.GetBake(ctx, bakeID)
	require.NoError(t, err)
	require.NoError(t, bake.Transition(domain.BakeStatusBuilding))
	require.NoError(t, bake.Transition(domain.BakeStatusSucceeded))
	require.NoError(t, s.UpdateBake(ctx, bake))
	return bake
}

// createTestSSHKey generates an SSH key through the API and returns it.
func createTestSSHKey(t *testing.T, h *Handler, name string) SSHKeyResponse {
	t.Helper()

	body := jsonBody(t, CreateSSHKeyRequest{Name: name})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ssh-keys", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return parseResponse[SSHKeyResponse](t, w.Body)
}

// createTestCredential stores a Hetzner credential through the API.
func createTestCredential(t *testing.T, h *Handler, name, defaultRegion string) CloudCredentialResponse {
	t.Helper()

	body := jsonBody(t, CreateCloudCredentialRequest{
		Name:          name,
		Provider:      "hetzner",
		Credentials:   map[string]any{"api_token": "tok-123"},
		DefaultRegion: defaultRegion,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-credentials", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	return parseResponse[CloudCredentialResponse](t, w.Body)
}

// createTestProvision creates a provision through the API.
func createTestProvision(t *testing.T, h *Handler, credentialID string) CloudProvisionResponse {
	t.Helper()

	body := jsonBody(t, CreateCloudProvisionRequest{
		CredentialID: credentialID,
		InstanceName: "builder-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-provisions", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	return parseResponse[CloudProvisionResponse](t, w.Body)
}

// failTestProvision marks the provision failed in the store so destroy and
// retry transitions become legal.
func failTestProvision(t *testing.T, s store.Store, provisionID string) {
	t.Helper()

	ctx := context.Background()
	prov, err := s.GetCloudProvision(ctx, provisionID)
	require.NoError(t, err)
	require.NoError(t, prov.TransitionToFailed("instance creation failed"))
	require.NoError(t, s.UpdateCloudProvision(ctx, prov))
}

// caseSeriesCSV builds a geometric daily case series, newest first. Each step
// back in time multiplies the count by growthBack, so growthBack > 1 yields
// an epidemic decaying toward the present.
func caseSeriesCSV(newest time.Time, days int, newestValue, growthBack float64) string {
	var b strings.Builder
	b.WriteString("Date,Cases\n")
	v := newestValue
	for i := 0; i < days; i++ {
		fmt.Fprintf(&b, "%s,%.4f\n", newest.AddDate(0, 0, -i).Format("2006-01-02"), v)
		v *= growthBack
	}
	return b.String()
}

// =============================================================================
// Health Endpoint Tests
// =============================================================================

func TestHealth_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[HealthResponse](t, w.Body)
	assert.Equal(t, "healthy", resp.Status)
}

func TestHealthLive_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReady_AllHealthy(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[ReadyResponse](t, w.Body)
	assert.Equal(t, "ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "ok", resp.Checks["docker"])
}

func TestReady_DockerFailed(t *testing.T) {
	h, _, d := newTestHandler(t)
	d.pingErr = docker.ErrConnectionFailed

	req := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := parseResponse[ReadyResponse](t, w.Body)
	assert.Equal(t, "not_ready", resp.Status)
	assert.Equal(t, "ok", resp.Checks["database"])
	assert.Equal(t, "failed", resp.Checks["docker"])
}

func TestRequestIDHeader_Set(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestOpenAPIDocument_Served(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/openapi.json", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	doc := parseResponse[map[string]any](t, w.Body)
	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/api/v1/recipes")
	assert.Contains(t, paths, "/api/v1/recipes/{id}/bake")
	assert.Contains(t, paths, "/api/v1/cloud-provisions")
}

// =============================================================================
// Recipe Endpoint Tests
// =============================================================================

func TestCreateRecipe_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateRecipeRequest{
		Name:       "Corona Stats",
		BaseImage:  "python:3.7.6",
		ScriptPath: "CoronaStats/corona.py",
		Packages:   []string{"pandas", "numpy", "scipy", "matplotlib", "datetime"},
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes", body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	resp := parseResponse[RecipeResponse](t, w.Body)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "Corona Stats", resp.Name)
	assert.Equal(t, "corona-stats", resp.Slug)
	assert.Equal(t, "python", resp.Interpreter)
	assert.Equal(t, "/app", resp.WorkDir)
	assert.Equal(t, []string{"pandas", "numpy", "scipy", "matplotlib", "datetime"}, resp.Packages)
}

func TestCreateRecipe_FromManifest(t *testing.T) {
	h, _, _ := newTestHandler(t)

	manifest := strings.Join([]string{
		"name: Corona Stats",
		"base_image: python:3.7.6",
		"script: CoronaStats/corona.py",
		"packages:",
		"  - pandas",
		"  - numpy",
	}, "\n")
	body := jsonBody(t, CreateRecipeRequest{Manifest: manifest})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	resp := parseResponse[RecipeResponse](t, w.Body)
	assert.Equal(t, "Corona Stats", resp.Name)
	assert.Equal(t, "python:3.7.6", resp.BaseImage)
	assert.Equal(t, "CoronaStats/corona.py", resp.ScriptPath)
	assert.Equal(t, []string{"pandas", "numpy"}, resp.Packages)
}

func TestCreateRecipe_MissingName(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateRecipeRequest{
		BaseImage:  "python:3.7.6",
		ScriptPath: "CoronaStats/corona.py",
	})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "validation_error", resp.Code)
	assert.Contains(t, resp.Error, "name")
}

func TestCreateRecipe_InvalidJSON(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes", strings.NewReader("{not json"))
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "validation_error", resp.Code)
}

func TestCreateRecipe_DuplicateName(t *testing.T) {
	h, _, _ := newTestHandler(t)
	createTestRecipe(t, h, "Corona Stats")

	body := jsonBody(t, CreateRecipeRequest{
		Name:       "Corona Stats",
		BaseImage:  "python:3.7.6",
		ScriptPath: "CoronaStats/corona.py",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "duplicate_recipe", resp.Code)
}

func TestCreateRecipe_UnknownInterpreterWithPackages(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateRecipeRequest{
		Name:        "Weird Runtime",
		BaseImage:   "python:3.7.6",
		ScriptPath:  "run.py",
		Packages:    []string{"pandas"},
		Interpreter: "cobol",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "validation_error", resp.Code)
}

func TestGetRecipe_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes/"+created.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[RecipeResponse](t, w.Body)
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, "Corona Stats", resp.Name)
}

func TestGetRecipe_BySlug(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes/corona-stats", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[RecipeResponse](t, w.Body)
	assert.Equal(t, created.ID, resp.ID)
	assert.Equal(t, "corona-stats", resp.Slug)
}

func TestGetRecipe_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes/rcp_missing", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "recipe_not_found", resp.Code)
}

func TestListRecipes_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	createTestRecipe(t, h, "Corona Stats")
	createTestRecipe(t, h, "Weather Report")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[ListRecipesResponse](t, w.Body)
	assert.Len(t, resp.Recipes, 2)
	assert.Equal(t, 2, resp.Total)
	assert.Equal(t, 100, resp.Limit)
}

func TestListRecipes_Pagination(t *testing.T) {
	h, _, _ := newTestHandler(t)
	createTestRecipe(t, h, "Corona Stats")
	createTestRecipe(t, h, "Weather Report")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes?limit=1", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[ListRecipesResponse](t, w.Body)
	assert.Len(t, resp.Recipes, 1)
	assert.Equal(t, 1, resp.Limit)
}

func TestUpdateRecipe_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	body := jsonBody(t, UpdateRecipeRequest{Name: "Corona Statistics", Description: "daily run"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/recipes/"+created.ID, body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[RecipeResponse](t, w.Body)
	assert.Equal(t, "Corona Statistics", resp.Name)
	assert.Equal(t, "daily run", resp.Description)
	assert.Equal(t, created.Slug, resp.Slug) // renames keep the slug stable
}

func TestUpdateRecipe_BaseImageRederivesInterpreter(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	body := jsonBody(t, UpdateRecipeRequest{BaseImage: "node:18-alpine"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/recipes/"+created.ID, body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[RecipeResponse](t, w.Body)
	assert.Equal(t, "node:18-alpine", resp.BaseImage)
	assert.Equal(t, "node", resp.Interpreter)
}

func TestUpdateRecipe_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, UpdateRecipeRequest{Name: "Renamed"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/recipes/rcp_missing", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateRecipe_BuildInputsLockedDuringBake(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	queueTestBake(t, h, created.ID)

	body := jsonBody(t, UpdateRecipeRequest{BaseImage: "python:3.11"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/recipes/"+created.ID, body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "bake_in_progress", resp.Code)
}

func TestUpdateRecipe_MetadataAllowedDuringBake(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	queueTestBake(t, h, created.ID)

	body := jsonBody(t, UpdateRecipeRequest{Description: "still fine"})
	req := httptest.NewRequest(http.MethodPut, "/api/v1/recipes/"+created.ID, body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestDeleteRecipe_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/recipes/"+created.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/recipes/"+created.ID, nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteRecipe_ActiveBake(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	queueTestBake(t, h, created.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/recipes/"+created.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "recipe_in_use", resp.Code)
}

func TestDeleteRecipe_RemovesBakedImages(t *testing.T) {
	h, s, d := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)
	succeedTestBake(t, s, bake.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/recipes/"+created.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{bake.ImageTag}, d.removedImages)
}

func TestRecipeManifest_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes/"+created.ID+"/manifest", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/x-yaml", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "base_image: python:3.7.6")
	assert.Contains(t, w.Body.String(), "script: CoronaStats/corona.py")
}

// =============================================================================
// Bake Endpoint Tests
// =============================================================================

func TestBakeRecipe_Queued(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/"+created.ID+"/bake", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	resp := parseResponse[BakeResponse](t, w.Body)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, created.ID, resp.RecipeID)
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.Fingerprint)
	assert.True(t, strings.HasPrefix(resp.ImageTag, "bakery/corona-stats:"))
}

func TestBakeRecipe_RecipeNotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/rcp_missing/bake", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBakeRecipe_AlreadyQueued(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	queueTestBake(t, h, created.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/"+created.ID+"/bake", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "bake_in_progress", resp.Code)
}

func TestBakeRecipe_UnchangedRecipeReturnsExistingBake(t *testing.T) {
	h, s, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)
	succeedTestBake(t, s, bake.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/"+created.ID+"/bake", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[BakeResponse](t, w.Body)
	assert.Equal(t, bake.ID, resp.ID)
	assert.Equal(t, "succeeded", resp.Status)
}

func TestBakeRecipe_ForceQueuesNewBake(t *testing.T) {
	h, s, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)
	succeedTestBake(t, s, bake.ID)

	body := jsonBody(t, BakeRecipeRequest{Force: true})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/recipes/"+created.ID+"/bake", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	resp := parseResponse[BakeResponse](t, w.Body)
	assert.NotEqual(t, bake.ID, resp.ID)
	assert.Equal(t, "queued", resp.Status)
	assert.Equal(t, bake.Fingerprint, resp.Fingerprint)
}

func TestListBakes_FilterByRecipe(t *testing.T) {
	h, _, _ := newTestHandler(t)
	first := createTestRecipe(t, h, "Corona Stats")
	second := createTestRecipe(t, h, "Weather Report")
	queueTestBake(t, h, first.ID)
	queueTestBake(t, h, second.ID)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bakes?recipe_id="+first.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[ListBakesResponse](t, w.Body)
	assert.Len(t, resp.Bakes, 1)
	assert.Equal(t, first.ID, resp.Bakes[0].RecipeID)
}

func TestListBakes_InvalidStatusFilter(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bakes?status=melted", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBake_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bakes/bake_missing", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "bake_not_found", resp.Code)
}

// =============================================================================
// Run Endpoint Tests
// =============================================================================

func TestCreateRun_FromBake(t *testing.T) {
	h, s, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)
	succeedTestBake(t, s, bake.ID)

	body := jsonBody(t, CreateRunRequest{BakeID: bake.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	resp := parseResponse[RunResponse](t, w.Body)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, bake.ID, resp.BakeID)
	assert.Equal(t, created.ID, resp.RecipeID)
	assert.Equal(t, "created", resp.Status)
}

func TestCreateRun_FromRecipeUsesLatestSucceededBake(t *testing.T) {
	h, s, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)
	succeedTestBake(t, s, bake.ID)

	body := jsonBody(t, CreateRunRequest{RecipeID: created.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	resp := parseResponse[RunResponse](t, w.Body)
	assert.Equal(t, bake.ID, resp.BakeID)
}

func TestCreateRun_BakeNotSucceeded(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)

	body := jsonBody(t, CreateRunRequest{BakeID: bake.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "bake_not_succeeded", resp.Code)
}

func TestCreateRun_RecipeWithoutSucceededBake(t *testing.T) {
	h, _, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")

	body := jsonBody(t, CreateRunRequest{RecipeID: created.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "bake_not_found", resp.Code)
}

func TestCreateRun_MissingIDs(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateRunRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateRun_BothIDs(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateRunRequest{BakeID: "bake_a", RecipeID: "rcp_b"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetRun_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/run_missing", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunLogs_Finished(t *testing.T) {
	h, s, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)
	succeedTestBake(t, s, bake.ID)

	body := jsonBody(t, CreateRunRequest{BakeID: bake.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	run := parseResponse[RunResponse](t, w.Body)

	// Finish the run the way the run worker would.
	ctx := context.Background()
	stored, err := s.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NoError(t, stored.Transition(domain.RunStatusRunning))
	require.NoError(t, stored.Finish(0, "trigger date: 2020-05-04\n"))
	require.NoError(t, s.UpdateRun(ctx, stored))

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/logs", nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "trigger date: 2020-05-04\n", w.Body.String())
}

func TestRunLogs_NotFinished(t *testing.T) {
	h, s, _ := newTestHandler(t)
	created := createTestRecipe(t, h, "Corona Stats")
	bake := queueTestBake(t, h, created.ID)
	succeedTestBake(t, s, bake.ID)

	body := jsonBody(t, CreateRunRequest{BakeID: bake.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)
	run := parseResponse[RunResponse](t, w.Body)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/runs/"+run.ID+"/logs", nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "run_not_finished", resp.Code)
}

// =============================================================================
// Stats Endpoint Tests
// =============================================================================

func TestStatsSummary_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsSummaryRequest{CSV: caseSeriesCSV(newest, 40, 40, 1.1)})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/summary", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[StatsSummaryResponse](t, w.Body)
	assert.Equal(t, 40, resp.Days)
	assert.Equal(t, "2020-03-15", resp.Newest.Format("2006-01-02"))
	assert.Equal(t, "2020-02-05", resp.Oldest.Format("2006-01-02"))
	assert.Len(t, resp.MovingAverage, 26)
	assert.Len(t, resp.MovingStd, 19)
	assert.Len(t, resp.ReproductionRate, 11)
	// Decaying toward the present: daily ratio 1/1.1.
	assert.InDelta(t, 1.0/1.1, resp.ReproductionRate[0].Value, 0.001)
}

func TestStatsSummary_SeriesTooShort(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsSummaryRequest{CSV: caseSeriesCSV(newest, 10, 40, 1.1)})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/summary", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "series_too_short", resp.Code)
}

func TestStatsSummary_InvalidCSV(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, StatsSummaryRequest{CSV: "Date,Cases\nnot-a-date,12\n"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/summary", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "invalid_case_series", resp.Code)
}

func TestStatsSummary_NoSeriesConfigured(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, StatsSummaryRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/summary", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "no_case_series", resp.Code)
}

func TestStatsSummary_ConfiguredFileFallback(t *testing.T) {
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "cases.csv")
	require.NoError(t, os.WriteFile(path, []byte(caseSeriesCSV(newest, 40, 40, 1.1)), 0o644))

	h, _, _ := newTestHandlerWithConfig(t, HandlerConfig{
		EncryptionKey:  testEncryptionKey(),
		CaseSeriesPath: path,
	})

	body := jsonBody(t, StatsSummaryRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/summary", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[StatsSummaryResponse](t, w.Body)
	assert.Equal(t, 40, resp.Days)
}

func TestStatsForecast_Days(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsForecastRequest{CSV: caseSeriesCSV(newest, 40, 40, 1.1), Days: 10})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/forecast", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[StatsForecastResponse](t, w.Body)
	require.Len(t, resp.Predictions, 10)
	assert.Equal(t, "2020-03-16", resp.Predictions[0].Date.Format("2006-01-02"))
	assert.Equal(t, "2020-03-25", resp.Predictions[9].Date.Format("2006-01-02"))
	assert.Greater(t, resp.Predictions[0].MovingAverage, resp.Predictions[9].MovingAverage)
	assert.Greater(t, resp.Predictions[0].Upper, resp.Predictions[0].Lower)
}

func TestStatsForecast_Until(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsForecastRequest{CSV: caseSeriesCSV(newest, 40, 40, 1.1), Until: "2020-03-20"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/forecast", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[StatsForecastResponse](t, w.Body)
	assert.Len(t, resp.Predictions, 5)
}

func TestStatsForecast_UntilBeforeNewestIsEmpty(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsForecastRequest{CSV: caseSeriesCSV(newest, 40, 40, 1.1), Until: "2020-03-01"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/forecast", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[StatsForecastResponse](t, w.Body)
	assert.NotNil(t, resp.Predictions)
	assert.Len(t, resp.Predictions, 0)
}

func TestStatsForecast_UntilAndDaysExclusive(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)
	csv := caseSeriesCSV(newest, 40, 40, 1.1)

	body := jsonBody(t, StatsForecastRequest{CSV: csv, Until: "2020-03-20", Days: 5})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/forecast", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	body = jsonBody(t, StatsForecastRequest{CSV: csv})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/stats/forecast", body)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsForecast_InvalidUntil(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsForecastRequest{CSV: caseSeriesCSV(newest, 40, 40, 1.1), Until: "03/20/2020"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/forecast", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Contains(t, resp.Error, "YYYY-MM-DD")
}

func TestStatsForecast_SeriesTooShortForModel(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	// Twenty observations carry a moving average but not the full model.
	body := jsonBody(t, StatsForecastRequest{CSV: caseSeriesCSV(newest, 20, 40, 1.1), Days: 5})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/forecast", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "series_too_short", resp.Code)
}

func TestStatsTrigger_DecayingSeries(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	// Newest moving average ~79.9 decaying at ratio 1/1.1 crosses 30
	// eleven days out.
	body := jsonBody(t, StatsTriggerRequest{CSV: caseSeriesCSV(newest, 40, 40, 1.1)})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/trigger", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[StatsTriggerResponse](t, w.Body)
	assert.Equal(t, 30.0, resp.Threshold)
	assert.Equal(t, "2020-03-26", resp.Date.Format("2006-01-02"))
	assert.Equal(t, 11, resp.DaysOut)
}

func TestStatsTrigger_GrowingSeriesNeverTriggers(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsTriggerRequest{CSV: caseSeriesCSV(newest, 40, 100, 0.95)})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/trigger", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "trigger_not_found", resp.Code)
}

func TestStatsTrigger_NegativeThreshold(t *testing.T) {
	h, _, _ := newTestHandler(t)
	newest := time.Date(2020, 3, 15, 0, 0, 0, 0, time.UTC)

	body := jsonBody(t, StatsTriggerRequest{CSV: caseSeriesCSV(newest, 40, 40, 1.1), Threshold: -5})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/stats/trigger", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Node Endpoint Tests
// =============================================================================

func TestCreateNode_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{
		Name:    "builder-1",
		SSHHost: "10.0.0.5",
		SSHUser: "root",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	resp := parseResponse[NodeResponse](t, w.Body)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "builder-1", resp.Name)
	assert.Equal(t, 22, resp.SSHPort)
	assert.Equal(t, "offline", resp.Status)
	assert.Equal(t, "/var/run/docker.sock", resp.DockerSocket)
}

func TestCreateNode_MissingName(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{SSHHost: "10.0.0.5", SSHUser: "root"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateNode_DuplicateName(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{Name: "builder-1", SSHHost: "10.0.0.5", SSHUser: "root"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	body = jsonBody(t, CreateNodeRequest{Name: "builder-1", SSHHost: "10.0.0.6", SSHUser: "root"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "duplicate_node", resp.Code)
}

func TestCreateNode_UnknownSSHKey(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{
		Name:     "builder-1",
		SSHHost:  "10.0.0.5",
		SSHUser:  "root",
		SSHKeyID: "sshkey_missing",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "ssh_key_not_found", resp.Code)
}

func TestUpdateNode_SetMaintenance(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{Name: "builder-1", SSHHost: "10.0.0.5", SSHUser: "root"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	node := parseResponse[NodeResponse](t, w.Body)

	body = jsonBody(t, UpdateNodeRequest{Status: "maintenance"})
	req = httptest.NewRequest(http.MethodPut, "/api/v1/nodes/"+node.ID, body)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[NodeResponse](t, w.Body)
	assert.Equal(t, "maintenance", resp.Status)
}

func TestUpdateNode_CannotSetOnline(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{Name: "builder-1", SSHHost: "10.0.0.5", SSHUser: "root"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	node := parseResponse[NodeResponse](t, w.Body)

	body = jsonBody(t, UpdateNodeRequest{Status: "online"})
	req = httptest.NewRequest(http.MethodPut, "/api/v1/nodes/"+node.ID, body)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Contains(t, resp.Error, "maintenance or offline")
}

func TestDeleteNode_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{Name: "builder-1", SSHHost: "10.0.0.5", SSHUser: "root"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	node := parseResponse[NodeResponse](t, w.Body)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/nodes/"+node.ID, nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteNode_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/nodes/node_missing", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteNode_WithActiveBake(t *testing.T) {
	h, s, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{Name: "builder-1", SSHHost: "10.0.0.5", SSHUser: "root"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	node := parseResponse[NodeResponse](t, w.Body)

	// Pin a still-queued bake to the node, the way the baker does when it
	// claims one.
	created := createTestRecipe(t, h, "Corona Stats")
	queued := queueTestBake(t, h, created.ID)
	ctx := context.Background()
	bake, err := s.GetBake(ctx, queued.ID)
	require.NoError(t, err)
	bake.NodeID = node.ID
	require.NoError(t, s.UpdateBake(ctx, bake))

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/nodes/"+node.ID, nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "node_in_use", resp.Code)
}

func TestCheckNode_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes/node_missing/check", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "node_not_found", resp.Code)
}

func TestCheckNode_MaintenanceSkipsCheck(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateNodeRequest{Name: "builder-1", SSHHost: "10.0.0.5", SSHUser: "root"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)
	node := parseResponse[NodeResponse](t, w.Body)

	body = jsonBody(t, UpdateNodeRequest{Status: "maintenance"})
	req = httptest.NewRequest(http.MethodPut, "/api/v1/nodes/"+node.ID, body)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/nodes/"+node.ID+"/check", nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[NodeResponse](t, w.Body)
	assert.Equal(t, "maintenance", resp.Status)
}

// =============================================================================
// SSH Key Endpoint Tests
// =============================================================================

func TestCreateSSHKey_Generated(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateSSHKeyRequest{Name: "builder-key"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ssh-keys", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	resp := parseResponse[SSHKeyResponse](t, w.Body)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "builder-key", resp.Name)
	assert.True(t, strings.HasPrefix(resp.PublicKey, "ssh-ed25519 "))
	assert.True(t, strings.HasPrefix(resp.Fingerprint, "SHA256:"))
}

func TestCreateSSHKey_Imported(t *testing.T) {
	h, _, _ := newTestHandler(t)

	privateKey, publicKey, err := crypto.GenerateSSHKeyPair()
	require.NoError(t, err)

	body := jsonBody(t, CreateSSHKeyRequest{Name: "imported-key", PrivateKey: string(privateKey)})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ssh-keys", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	resp := parseResponse[SSHKeyResponse](t, w.Body)
	assert.Equal(t, publicKey, resp.PublicKey)
}

func TestCreateSSHKey_InvalidPrivateKey(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateSSHKeyRequest{Name: "bad-key", PrivateKey: "not a pem block"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ssh-keys", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Contains(t, resp.Error, "private key")
}

func TestCreateSSHKey_MissingName(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateSSHKeyRequest{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ssh-keys", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateSSHKey_DuplicateName(t *testing.T) {
	h, _, _ := newTestHandler(t)
	createTestSSHKey(t, h, "builder-key")

	body := jsonBody(t, CreateSSHKeyRequest{Name: "builder-key"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ssh-keys", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "duplicate_ssh_key", resp.Code)
}

func TestListSSHKeys_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	createTestSSHKey(t, h, "builder-key")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/ssh-keys", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[ListSSHKeysResponse](t, w.Body)
	assert.Len(t, resp.SSHKeys, 1)
	assert.Equal(t, "builder-key", resp.SSHKeys[0].Name)
}

func TestDeleteSSHKey_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	key := createTestSSHKey(t, h, "builder-key")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/ssh-keys/"+key.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteSSHKey_AssignedToNode(t *testing.T) {
	h, _, _ := newTestHandler(t)
	key := createTestSSHKey(t, h, "builder-key")

	body := jsonBody(t, CreateNodeRequest{
		Name:     "builder-1",
		SSHHost:  "10.0.0.5",
		SSHUser:  "root",
		SSHKeyID: key.ID,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", body)
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/ssh-keys/"+key.ID, nil)
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "ssh_key_in_use", resp.Code)
}

// =============================================================================
// Cloud Credential Endpoint Tests
// =============================================================================

func TestCreateCloudCredential_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateCloudCredentialRequest{
		Name:        "hetzner-prod",
		Provider:    "hetzner",
		Credentials: map[string]any{"api_token": "tok-123"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-credentials", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)

	resp := parseResponse[CloudCredentialResponse](t, w.Body)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "hetzner", resp.Provider)
	assert.Equal(t, "nbg1", resp.DefaultRegion)
}

func TestCreateCloudCredential_InvalidProvider(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateCloudCredentialRequest{
		Name:        "linode-prod",
		Provider:    "linode",
		Credentials: map[string]any{"api_token": "tok-123"},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-credentials", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateCloudCredential_MissingToken(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateCloudCredentialRequest{
		Name:        "hetzner-prod",
		Provider:    "hetzner",
		Credentials: map[string]any{"api_token": ""},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-credentials", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "invalid_credentials", resp.Code)
}

func TestGetCloudCredential_OmitsSecrets(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cloud-credentials/"+cred.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "tok-123")
}

func TestCredentialRegions_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cloud-credentials/"+cred.ID+"/regions", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[RegionsResponse](t, w.Body)
	assert.Equal(t, "hetzner", resp.Provider)
	assert.NotEmpty(t, resp.Regions)
}

func TestCredentialSizes_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cloud-credentials/"+cred.ID+"/sizes", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[SizesResponse](t, w.Body)
	assert.Equal(t, "hetzner", resp.Provider)
	assert.NotEmpty(t, resp.Sizes)
	assert.Equal(t, "cx22", resp.Sizes[0].ID)
}

func TestDeleteCloudCredential_Success(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cloud-credentials/"+cred.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestDeleteCloudCredential_HasProvisions(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")
	createTestProvision(t, h, cred.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cloud-credentials/"+cred.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "credential_in_use", resp.Code)
}

// =============================================================================
// Cloud Provision Endpoint Tests
// =============================================================================

func TestCreateCloudProvision_Defaults(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")

	body := jsonBody(t, CreateCloudProvisionRequest{
		CredentialID: cred.ID,
		InstanceName: "builder-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-provisions", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	resp := parseResponse[CloudProvisionResponse](t, w.Body)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "fsn1", resp.Region) // credential default beats provider default
	assert.Equal(t, "cx22", resp.Size)
}

func TestCreateCloudProvision_UnknownCredential(t *testing.T) {
	h, _, _ := newTestHandler(t)

	body := jsonBody(t, CreateCloudProvisionRequest{
		CredentialID: "cred_missing",
		InstanceName: "builder-1",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-provisions", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "credential_not_found", resp.Code)
}

func TestCreateCloudProvision_UnknownSize(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")

	body := jsonBody(t, CreateCloudProvisionRequest{
		CredentialID: cred.ID,
		InstanceName: "builder-1",
		Size:         "cx999",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-provisions", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Contains(t, resp.Error, "unknown size")
}

func TestCreateCloudProvision_MissingInstanceName(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")

	body := jsonBody(t, CreateCloudProvisionRequest{CredentialID: cred.ID})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-provisions", body)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRetryCloudProvision_FromFailed(t *testing.T) {
	h, s, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")
	prov := createTestProvision(t, h, cred.ID)
	failTestProvision(t, s, prov.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-provisions/"+prov.ID+"/retry", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)

	resp := parseResponse[CloudProvisionResponse](t, w.Body)
	assert.Equal(t, "pending", resp.Status)
	assert.Empty(t, resp.ErrorMessage)
}

func TestRetryCloudProvision_NotFailed(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")
	prov := createTestProvision(t, h, cred.ID)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/cloud-provisions/"+prov.ID+"/retry", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "invalid_transition", resp.Code)
}

func TestDestroyCloudProvision_FailedWithoutInstance(t *testing.T) {
	h, s, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")
	prov := createTestProvision(t, h, cred.ID)
	failTestProvision(t, s, prov.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cloud-provisions/"+prov.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	resp := parseResponse[CloudProvisionResponse](t, w.Body)
	assert.Equal(t, "destroyed", resp.Status)
	assert.NotNil(t, resp.CompletedAt)
}

func TestDestroyCloudProvision_PendingRejected(t *testing.T) {
	h, _, _ := newTestHandler(t)
	cred := createTestCredential(t, h, "hetzner-prod", "fsn1")
	prov := createTestProvision(t, h, cred.ID)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cloud-provisions/"+prov.ID, nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "invalid_transition", resp.Code)
}

func TestDestroyCloudProvision_NotFound(t *testing.T) {
	h, _, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/cloud-provisions/prov_missing", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

// =============================================================================
// Auth Tests
// =============================================================================

func TestAuth_RejectsMissingToken(t *testing.T) {
	h, _, _ := newTestHandlerWithConfig(t, HandlerConfig{
		EncryptionKey: testEncryptionKey(),
		AuthToken:     "sekrit",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	resp := parseResponse[ErrorResponse](t, w.Body)
	assert.Equal(t, "unauthorized", resp.Code)
}

func TestAuth_AcceptsBearerToken(t *testing.T) {
	h, _, _ := newTestHandlerWithConfig(t, HandlerConfig{
		EncryptionKey: testEncryptionKey(),
		AuthToken:     "sekrit",
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/recipes", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuth_HealthStaysOpen(t *testing.T) {
	h, _, _ := newTestHandlerWithConfig(t, HandlerConfig{
		EncryptionKey: testEncryptionKey(),
		AuthToken:     "sekrit",
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	h.Routes().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
