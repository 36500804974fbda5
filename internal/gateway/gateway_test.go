// ABOUTME: Tests for gateway construction and end-to-end HTTP wiring
// ABOUTME: Exercises health, auth, and MCP routes through the assembled mux

package gateway

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tm3/monarch-gateway/internal/auth"
	"github.com/tm3/monarch-gateway/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = filepath.Join(t.TempDir(), "gateway.db")
	cfg.Auth.JWTSecret = "test-secret"
	cfg.Server.HTTPAddr = "localhost:0"
	cfg.Server.PublicURL = "http://localhost:8787"
	cfg.Monarch.BaseURL = "http://monarch.invalid"
	return cfg
}

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	gw, err := New(testConfig(t), slog.Default())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { _ = gw.store.Close() })
	return gw
}

func TestNew_WiresAllRoutes(t *testing.T) {
	gw := newTestGateway(t)
	handler := gw.httpServer.Handler

	// Health
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("healthz returned HTTP %d, want 200", rec.Code)
	}

	// Login form
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/auth/refresh", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("auth form returned HTTP %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "<form") {
		t.Error("expected the login form")
	}

	// MCP endpoint rejects GET per the transport
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/mcp", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("mcp GET returned HTTP %d, want 405", rec.Code)
	}
}

func TestMCPInitializeWithJWT(t *testing.T) {
	gw := newTestGateway(t)
	handler := gw.httpServer.Handler

	// Mint a session token signed with the configured secret, as the
	// login flow would.
	token, err := auth.NewJWTVerifier([]byte(gw.config.Auth.JWTSecret)).Generate("user-1", time.Hour)
	if err != nil {
		t.Fatalf("generating token: %v", err)
	}

	body := `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}`
	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(body)))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("initialize returned HTTP %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Mcp-Session-Id") == "" {
		t.Error("expected a session ID")
	}

	var resp struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Error != nil {
		t.Errorf("unexpected error: %s", resp.Error.Message)
	}
}
