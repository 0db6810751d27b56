// Package e2e provides end-to-end testing utilities for lnlab.
package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/artpar/lnlab/internal/core/deployment"
	"github.com/artpar/lnlab/internal/shell/api"
	"github.com/artpar/lnlab/internal/shell/docker"
	"github.com/artpar/lnlab/internal/shell/orchestrator"
)

// e2ePrefix marks networks created by this suite.
const e2ePrefix = "e2e-"

// =============================================================================
// HTTP Helpers
// =============================================================================

// HTTPGet performs a GET request against the test server.
func HTTPGet(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := testClient.Get(url)
	require.NoError(t, err)
	return resp
}

// HTTPDo performs a request with an optional JSON body.
func HTTPDo(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, r)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := testClient.Do(req)
	require.NoError(t, err)
	return resp
}

// decode reads a JSON response with the expected status.
func decode[T any](t *testing.T, resp *http.Response, wantStatus int) T {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, string(body))
	var out T
	require.NoError(t, json.Unmarshal(body, &out))
	return out
}

// =============================================================================
// Network Helpers
// =============================================================================

// CreateNetwork creates a network with one bitcoind and lnd lnd nodes.
func CreateNetwork(t *testing.T, name string, lnd int) api.NetworkResponse {
	t.Helper()
	resp := HTTPDo(t, http.MethodPost, baseURL+"/api/v1/networks", api.CreateNetworkRequest{
		Name:           name,
		LightningNodes: &lnd,
	})
	network := decode[api.NetworkResponse](t, resp, http.StatusCreated)
	t.Cleanup(func() { DeleteNetwork(t, name) })
	return network
}

// GetNetwork fetches a network.
func GetNetwork(t *testing.T, name string) api.NetworkResponse {
	t.Helper()
	return decode[api.NetworkResponse](t, HTTPGet(t, baseURL+"/api/v1/networks/"+name), http.StatusOK)
}

// StartNetwork starts a network and returns its state.
func StartNetwork(t *testing.T, name string) api.NetworkResponse {
	t.Helper()
	resp := HTTPDo(t, http.MethodPost, baseURL+"/api/v1/networks/"+name+"/start", nil)
	return decode[api.NetworkResponse](t, resp, http.StatusOK)
}

// StopNetwork stops a network and returns its state.
func StopNetwork(t *testing.T, name string) api.NetworkResponse {
	t.Helper()
	resp := HTTPDo(t, http.MethodPost, baseURL+"/api/v1/networks/"+name+"/stop", nil)
	return decode[api.NetworkResponse](t, resp, http.StatusOK)
}

// DeleteNetwork deletes a network, ignoring a missing one.
func DeleteNetwork(t *testing.T, name string) {
	t.Helper()
	resp := HTTPDo(t, http.MethodDelete, baseURL+"/api/v1/networks/"+name, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusNotFound {
		t.Errorf("delete %s: status %d", name, resp.StatusCode)
	}
}

// Reconcile runs one reconcile pass.
func Reconcile(t *testing.T) orchestrator.Report {
	t.Helper()
	resp := HTTPDo(t, http.MethodPost, baseURL+"/api/v1/reconcile", nil)
	return decode[orchestrator.Report](t, resp, http.StatusOK)
}

// WaitForLogLine reads a node's log stream until a line contains substr.
func WaitForLogLine(t *testing.T, network, node, substr string, timeout time.Duration) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/networks/"+network+"/nodes/"+node+"/logs", nil)
	require.NoError(t, err)
	resp, err := testClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if line := scanner.Text(); strings.Contains(line, substr) {
			return line
		}
	}
	t.Fatalf("no log line containing %q from %s/%s: %v", substr, network, node, scanner.Err())
	return ""
}

// =============================================================================
// Cleanup
// =============================================================================

// CleanupAllTestResources removes containers and docker networks left by
// earlier runs of this suite.
func CleanupAllTestResources(ctx context.Context, d docker.Client) error {
	containers, err := d.ListContainers(ctx, docker.ListOptions{
		All:     true,
		Filters: map[string]string{"label": deployment.LabelManaged + "=true"},
	})
	if err != nil {
		return err
	}

	networks := make(map[string]bool)
	for _, c := range containers {
		name := c.Labels[deployment.LabelNetwork]
		if !strings.HasPrefix(name, e2ePrefix) {
			continue
		}
		networks[name] = true
		if err := d.RemoveContainer(ctx, c.ID, docker.RemoveOptions{Force: true, RemoveVolumes: true}); err != nil && !docker.IsNotFound(err) {
			return err
		}
	}
	for name := range networks {
		if err := d.RemoveNetwork(ctx, deployment.NetworkName(name)); err != nil && !docker.IsNotFound(err) {
			return err
		}
	}
	return nil
}
