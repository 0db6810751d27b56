// Package e2e provides end-to-end tests for lnlab.
//
// These tests require a running Docker daemon and will pull images and
// create real containers. Run with:
//
//	LNLAB_E2E=1 go test -v -timeout 15m ./tests/e2e/...
package e2e

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/lnlab/internal/core/template"
	"github.com/artpar/lnlab/internal/shell/api"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
	"github.com/artpar/lnlab/internal/shell/portalloc"
	"github.com/artpar/lnlab/internal/shell/store"
)

// =============================================================================
// Test Globals
// =============================================================================

var (
	testStore  store.Store
	testDocker docker.Client
	testOrch   *orchestrator.Orchestrator
	testClient *http.Client
	baseURL    string
	testServer *http.Server
)

// e2ePortStart keeps e2e networks clear of a developer's own networks.
const e2ePortStart = 42000

// =============================================================================
// TestMain Setup
// =============================================================================

func TestMain(m *testing.M) {
	if os.Getenv("LNLAB_E2E") == "" {
		log.Println("E2E: LNLAB_E2E not set, skipping")
		os.Exit(0)
	}

	code := setup()
	if code != 0 {
		os.Exit(code)
	}

	result := m.Run()

	teardown()

	os.Exit(result)
}

func setup() int {
	log.Println("E2E Setup: Initializing test environment...")

	tmpDir, err := os.MkdirTemp("", "lnlab_e2e_")
	if err != nil {
		log.Printf("Failed to create temp dir: %v", err)
		return 1
	}
	tmpDB := filepath.Join(tmpDir, "test.db")
	log.Printf("E2E Setup: Using database: %s", tmpDB)

	s, err := store.NewSQLiteStore(tmpDB)
	if err != nil {
		log.Printf("Failed to create store: %v", err)
		return 1
	}
	testStore = s

	d, err := docker.NewDockerClient("")
	if err != nil {
		log.Printf("Failed to create Docker client: %v", err)
		return 1
	}
	testDocker = d

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.Ping(ctx); err != nil {
		log.Printf("Failed to ping Docker: %v", err)
		log.Println("Make sure Docker daemon is running")
		return 1
	}
	log.Println("E2E Setup: Docker daemon is reachable")

	log.Println("E2E Setup: Cleaning up any leftover test containers...")
	if err := CleanupAllTestResources(context.Background(), d); err != nil {
		log.Printf("WARN: Failed to cleanup old containers: %v", err)
	}

	templates, err := template.Load()
	if err != nil {
		log.Printf("Failed to load node templates: %v", err)
		return 1
	}

	cfg := orchestrator.DefaultConfig()
	cfg.ProbeTimeout = 3 * time.Minute
	testOrch = orchestrator.New(s, d, portalloc.New(e2ePortStart, portalloc.DefaultCeiling, nil), templates, cfg, nil)
	if err := testOrch.Init(context.Background()); err != nil {
		log.Printf("Failed to init orchestrator: %v", err)
		return 1
	}

	handler := api.NewHandler(testOrch, api.Defaults{BitcoinNodes: 1, LightningNodes: 1}, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		log.Printf("Failed to find available port: %v", err)
		return 1
	}
	port := listener.Addr().(*net.TCPAddr).Port
	baseURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	testServer = &http.Server{
		Handler: handler.Routes(),
	}
	go func() {
		if err := testServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("Server error: %v", err)
		}
	}()

	// Starting a network pulls images and waits for probes.
	testClient = &http.Client{
		Timeout: 10 * time.Minute,
	}

	if err := waitForReady(baseURL+"/health", 10*time.Second); err != nil {
		log.Printf("Server failed to become ready: %v", err)
		return 1
	}

	log.Println("E2E Setup: Complete!")
	return 0
}

func teardown() {
	log.Println("E2E Teardown: Cleaning up...")

	if testServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		testServer.Shutdown(ctx)
	}

	if testDocker != nil {
		CleanupAllTestResources(context.Background(), testDocker)
		testDocker.Close()
	}

	if testStore != nil {
		testStore.Close()
	}

	log.Println("E2E Teardown: Complete!")
}

// waitForReady polls the health endpoint until it responds.
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
	return fmt.Errorf("server not ready after %v", timeout)
}
