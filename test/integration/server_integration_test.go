//go:build integration
// +build integration

package integration

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rybkr/contextpilot/internal/introspect"
	"github.com/rybkr/contextpilot/internal/pcie"
	"github.com/rybkr/contextpilot/internal/workspace"
)

// TestIntrospectServerIntegration verifies the introspection server starts,
// serves HTTP endpoints, and handles WebSocket connections for a workspace
// opened over the current repository.
//
// Note: this test cannot run in parallel with itself — it binds a fixed port.
func TestIntrospectServerIntegration(t *testing.T) {
	repoPath, err := os.Getwd()
	if err != nil {
		t.Fatalf("failed to get working directory: %v", err)
	}

	for {
		gitDir := filepath.Join(repoPath, ".git")
		if _, err := os.Stat(gitDir); err == nil {
			break
		}
		parent := filepath.Dir(repoPath)
		if parent == repoPath {
			t.Skip("not running in a git repository, skipping integration test")
		}
		repoPath = parent
	}

	host := workspace.New(workspace.Config{
		FetchInterval: time.Hour,
		InactivityTTL: time.Hour,
		Rulebook:      pcie.DefaultRulebook(),
	})
	defer host.Shutdown()

	if _, err := host.Open("default", repoPath); err != nil {
		t.Fatalf("failed to open workspace: %v", err)
	}

	const addr = "localhost:18080"
	srv := introspect.NewServer(host, addr, nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	time.Sleep(100 * time.Millisecond)

	select {
	case err := <-errCh:
		t.Fatalf("server failed to start: %v", err)
	default:
	}

	baseURL := "http://" + addr
	defer srv.Shutdown()

	t.Run("health endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/health")
		if err != nil {
			t.Fatalf("health check failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("health check status = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var health introspect.HealthStatus
		if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
			t.Fatalf("failed to decode health response: %v", err)
		}

		if health.Status != "ok" {
			t.Errorf("health status = %q, want %q", health.Status, "ok")
		}
	})

	t.Run("panels endpoint", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/workspaces/default/panels")
		if err != nil {
			t.Fatalf("panels request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}

		var msg introspect.PanelsMessage
		if err := json.NewDecoder(resp.Body).Decode(&msg); err != nil {
			t.Fatalf("failed to decode panels response: %v", err)
		}

		if msg.WorkspaceID != "default" {
			t.Errorf("workspaceId = %q, want %q", msg.WorkspaceID, "default")
		}
	})

	t.Run("panels endpoint unknown workspace returns 404", func(t *testing.T) {
		resp, err := http.Get(baseURL + "/workspaces/does-not-exist/panels")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusNotFound)
		}
	})

	t.Run("tick endpoint", func(t *testing.T) {
		resp, err := http.Post(baseURL+"/workspaces/default/tick", "", nil)
		if err != nil {
			t.Fatalf("tick request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t.Errorf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
		}
	})

	t.Run("websocket connection", func(t *testing.T) {
		wsURL := "ws://" + addr + "/workspaces/default/ws"

		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		if err != nil {
			t.Fatalf("websocket dial failed: %v (status: %v)", err, resp)
		}
		defer conn.Close()

		conn.SetReadDeadline(time.Now().Add(5 * time.Second))

		messageType, message, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("failed to read initial message: %v", err)
		}

		if messageType != websocket.TextMessage {
			t.Errorf("message type = %d, want %d (TextMessage)", messageType, websocket.TextMessage)
		}

		var initialMsg introspect.PanelsMessage
		if err := json.Unmarshal(message, &initialMsg); err != nil {
			t.Fatalf("failed to unmarshal initial message: %v", err)
		}

		if initialMsg.WorkspaceID != "default" {
			t.Errorf("workspaceId = %q, want %q", initialMsg.WorkspaceID, "default")
		}

		if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
			t.Errorf("failed to send ping: %v", err)
		}
	})

	t.Run("rate limiting", func(t *testing.T) {
		time.Sleep(time.Second)

		client := &http.Client{Timeout: 2 * time.Second}

		var successCount, rateLimitedCount int
		for i := 0; i < 300; i++ {
			resp, err := client.Get(baseURL + "/workspaces/default/panels")
			if err != nil {
				t.Fatalf("request %d failed: %v", i, err)
			}
			resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				successCount++
			} else if resp.StatusCode == http.StatusTooManyRequests {
				rateLimitedCount++
			}
		}

		if rateLimitedCount == 0 {
			t.Log("Warning: no requests were rate limited (may indicate rate limiting is disabled)")
		}

		t.Logf("Requests: %d successful, %d rate limited", successCount, rateLimitedCount)
	})
}
