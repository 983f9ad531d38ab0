package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/casebake/bakery/internal/shell/api"
	"github.com/casebake/bakery/internal/shell/docker"
)

// =============================================================================
// HTTP Helpers
// =============================================================================

// doRequest sends a JSON request to the test server and returns the response.
// The caller owns the body.
func doRequest(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err, "marshal request body")
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, baseURL+path, reader)
	require.NoError(t, err, "build request")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	require.NoError(t, err, "%s %s", method, path)
	return resp
}

// decodeResponse checks the status code and decodes the JSON body into out.
func decodeResponse(t *testing.T, resp *http.Response, wantStatus int, out any) {
	t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read response body")
	require.Equal(t, wantStatus, resp.StatusCode, "unexpected status, body: %s", data)

	if out != nil {
		require.NoError(t, json.Unmarshal(data, out), "decode response body: %s", data)
	}
}

// =============================================================================
// Pipeline Helpers
// =============================================================================

// createRecipe creates a recipe over the API and registers cleanup that
// deletes it (which also removes any images it baked).
func createRecipe(t *testing.T, req api.CreateRecipeRequest) api.RecipeResponse {
	t.Helper()

	resp := doRequest(t, http.MethodPost, "/api/v1/recipes", req)
	var recipe api.RecipeResponse
	decodeResponse(t, resp, http.StatusCreated, &recipe)

	t.Cleanup(func() {
		resp := doRequest(t, http.MethodDelete, "/api/v1/recipes/"+recipe.ID, nil)
		resp.Body.Close()
	})
	return recipe
}

// startBake queues a bake for the recipe.
func startBake(t *testing.T, recipeID string) api.BakeResponse {
	t.Helper()

	resp := doRequest(t, http.MethodPost, "/api/v1/recipes/"+recipeID+"/bake", api.BakeRecipeRequest{})
	var bake api.BakeResponse
	decodeResponse(t, resp, http.StatusAccepted, &bake)
	return bake
}

// waitForBake polls the bake until it reaches a terminal status. Building an
// image pulls the base layer on first use, so the timeout is generous.
func waitForBake(t *testing.T, bakeID string, timeout time.Duration) api.BakeResponse {
	t.Helper()

	var bake api.BakeResponse
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp := doRequest(t, http.MethodGet, "/api/v1/bakes/"+bakeID, nil)
		decodeResponse(t, resp, http.StatusOK, &bake)
		if bake.Status == "succeeded" || bake.Status == "failed" {
			return bake
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("bake %s did not finish within %s, last status %q", bakeID, timeout, bake.Status)
	return bake
}

// startRun queues a run for the bake.
func startRun(t *testing.T, bakeID string) api.RunResponse {
	t.Helper()

	resp := doRequest(t, http.MethodPost, "/api/v1/runs", api.CreateRunRequest{BakeID: bakeID})
	var run api.RunResponse
	decodeResponse(t, resp, http.StatusAccepted, &run)
	return run
}

// waitForRun polls the run until it reaches a terminal status.
func waitForRun(t *testing.T, runID string, timeout time.Duration) api.RunResponse {
	t.Helper()

	var run api.RunResponse
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp := doRequest(t, http.MethodGet, "/api/v1/runs/"+runID, nil)
		decodeResponse(t, resp, http.StatusOK, &run)
		if run.Status == "completed" || run.Status == "failed" {
			return run
		}
		time.Sleep(time.Second)
	}
	t.Fatalf("run %s did not finish within %s, last status %q", runID, timeout, run.Status)
	return run
}

// fetchRunLogs returns the captured output of a finished run.
func fetchRunLogs(t *testing.T, runID string) string {
	t.Helper()

	resp := doRequest(t, http.MethodGet, "/api/v1/runs/"+runID+"/logs", nil)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read logs body")
	require.Equal(t, http.StatusOK, resp.StatusCode, "logs body: %s", data)
	return string(data)
}

// =============================================================================
// Fixtures
// =============================================================================

// caseSeriesCSV builds a case series, newest first. growthBack > 1 yields an
// epidemic decaying toward the present, which keeps the model well-behaved.
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
// Docker Cleanup
// =============================================================================

// cleanupTestContainers force-removes every container the pipeline labeled,
// so a crashed earlier test cannot poison this one.
func cleanupTestContainers(d docker.Client) error {
	containers, err := d.ListContainers(docker.ListOptions{
		All:     true,
		Filters: map[string]string{"label": docker.LabelManaged + "=true"},
	})
	if err != nil {
		return fmt.Errorf("list containers: %w", err)
	}

	for _, c := range containers {
		if err := d.RemoveContainer(c.ID, docker.RemoveOptions{Force: true}); err != nil {
			return fmt.Errorf("remove container %s: %w", c.ID, err)
		}
	}
	return nil
}
