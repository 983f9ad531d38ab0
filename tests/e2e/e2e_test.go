// Package e2e exercises the full bakery pipeline against a real Docker
// daemon: recipes are created over HTTP, baked into images by the baker
// worker, and executed as one-shot containers by the run worker.
//
// The suite needs a reachable Docker daemon. When none is available the
// whole package exits cleanly so `go test ./...` stays green on machines
// without Docker.
package e2e

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/casebake/bakery/internal/shell/api"
	"github.com/casebake/bakery/internal/shell/docker"
	"github.com/casebake/bakery/internal/shell/scheduler"
	"github.com/casebake/bakery/internal/shell/store"
	"github.com/casebake/bakery/internal/shell/workers"
)

var (
	testStore  store.Store
	testDocker docker.Client
	testServer *http.Server
	baseURL    string
	httpClient *http.Client
	scriptsDir string
	tempDir    string

	baker     *workers.Baker
	runWorker *workers.RunWorker
)

// workerInterval keeps the bake/run pickup latency low so lifecycle
// tests spend their time in Docker, not in polling sleeps.
const workerInterval = 500 * time.Millisecond

func TestMain(m *testing.M) {
	code := 0
	if setup() {
		code = m.Run()
	}
	teardown()
	os.Exit(code)
}

// setup boots the full stack on a random port. It returns false when
// Docker is unreachable, which skips the suite without failing it.
func setup() bool {
	tmpDir, err := os.MkdirTemp("", "bakery-e2e-*")
	if err != nil {
		log.Fatalf("E2E: failed to create temp dir: %v", err)
	}
	tempDir = tmpDir

	d, err := docker.NewDockerClient("")
	if err != nil {
		log.Printf("E2E: Docker client unavailable, skipping end-to-end tests: %v", err)
		return false
	}
	if err := d.Ping(); err != nil {
		log.Printf("E2E: Docker daemon not reachable, skipping end-to-end tests: %v", err)
		return false
	}
	testDocker = d

	if err := cleanupTestContainers(d); err != nil {
		log.Printf("E2E: pre-test cleanup: %v", err)
	}

	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "bakery-e2e.db"))
	if err != nil {
		log.Fatalf("E2E: failed to open store: %v", err)
	}
	testStore = s

	scriptsDir = filepath.Join(tmpDir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0o755); err != nil {
		log.Fatalf("E2E: failed to create scripts dir: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	executor := docker.NewExecutor(d, nil, docker.ExecutorConfig{ScriptRoot: scriptsDir}, logger)
	placer := scheduler.NewService(s, scheduler.Config{LocalDaemon: true}, logger)

	baker = workers.NewBaker(s, executor, placer, workers.BakerConfig{Interval: workerInterval}, logger)
	runWorker = workers.NewRunWorker(s, executor, workers.RunWorkerConfig{Interval: workerInterval}, logger)
	baker.Start()
	runWorker.Start()

	handler := api.NewHandler(s, executor, nil, nil, api.HandlerConfig{}, logger)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Fatalf("E2E: failed to listen: %v", err)
	}
	baseURL = fmt.Sprintf("http://%s", listener.Addr().String())

	testServer = &http.Server{Handler: handler.Routes()}
	go func() {
		if err := testServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("E2E: server error: %v", err)
		}
	}()

	httpClient = &http.Client{Timeout: 30 * time.Second}

	if err := waitForReady(baseURL+"/health", 10*time.Second); err != nil {
		log.Fatalf("E2E: server never became ready: %v", err)
	}
	return true
}

func teardown() {
	if baker != nil {
		baker.Stop()
	}
	if runWorker != nil {
		runWorker.Stop()
	}
	if testServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = testServer.Shutdown(ctx)
	}
	if testDocker != nil {
		if err := cleanupTestContainers(testDocker); err != nil {
			log.Printf("E2E: post-test cleanup: %v", err)
		}
		_ = testDocker.Close()
	}
	if testStore != nil {
		_ = testStore.Close()
	}
	if tempDir != "" {
		_ = os.RemoveAll(tempDir)
	}
}

// waitForReady polls the health endpoint until it answers 200.
func waitForReady(url string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timed out waiting for %s", url)
}
