// ABOUTME: Tests for the MCP HTTP server: handshake, sessions, and tool routing
// ABOUTME: Covers token and JWT auth paths, notifications, and session termination

package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tm3/monarch-gateway/internal/monarch"
	"github.com/tm3/monarch-gateway/internal/store"
	"github.com/tm3/monarch-gateway/internal/tools"
)

// mockTokenVerifier implements auth.TokenVerifier for testing.
type mockTokenVerifier struct {
	userID string
	err    error
}

func (m *mockTokenVerifier) Verify(token string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.userID, nil
}

// memStore is a minimal in-memory CredentialStore.
type memStore struct {
	credentials map[string]string
}

func (m *memStore) GetCredential(ctx context.Context, userID string) (string, error) {
	token, ok := m.credentials[userID]
	if !ok {
		return "", store.ErrNotFound
	}
	return token, nil
}

func (m *memStore) PutCredential(ctx context.Context, userID, token string) error {
	m.credentials[userID] = token
	return nil
}

func (m *memStore) DeleteCredential(ctx context.Context, userID string) error {
	delete(m.credentials, userID)
	return nil
}

func (m *memStore) HasCredential(ctx context.Context, userID string) (bool, error) {
	_, ok := m.credentials[userID]
	return ok, nil
}

func (m *memStore) Close() error { return nil }

// echoAPI returns one account named after its token so tests can observe
// which credential a call was bound to.
type echoAPI struct{ token string }

func (e *echoAPI) GetAccounts(ctx context.Context) (*monarch.AccountsResult, error) {
	return &monarch.AccountsResult{
		Accounts: []monarch.Account{{ID: "acct-for-" + e.token, Name: "Checking"}},
	}, nil
}

func (e *echoAPI) GetTransactions(ctx context.Context, f monarch.TransactionFilter) (*monarch.TransactionsResult, error) {
	return &monarch.TransactionsResult{}, nil
}

func (e *echoAPI) GetBudgets(ctx context.Context) (*monarch.BudgetsResult, error) {
	return &monarch.BudgetsResult{}, nil
}

func (e *echoAPI) GetCashflow(ctx context.Context, d monarch.DateRange) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (e *echoAPI) GetAccountHoldings(ctx context.Context, id string) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (e *echoAPI) CreateTransaction(ctx context.Context, in monarch.CreateTransactionInput) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (e *echoAPI) UpdateTransaction(ctx context.Context, in monarch.UpdateTransactionInput) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func (e *echoAPI) RequestAccountsRefresh(ctx context.Context) (json.RawMessage, error) {
	return json.RawMessage(`{}`), nil
}

func setupTestServer(t *testing.T) (*Server, *TokenStore, *memStore) {
	t.Helper()

	registry, err := tools.NewRegistry(slog.Default(), tools.Catalog("http://localhost:8787/auth/refresh"))
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	ms := &memStore{credentials: make(map[string]string)}
	dispatcher, err := tools.NewDispatcher(tools.DispatcherConfig{
		Registry:    registry,
		Credentials: ms,
		Factory:     func(token string) monarch.API { return &echoAPI{token: token} },
		Logger:      slog.Default(),
	})
	if err != nil {
		t.Fatalf("NewDispatcher failed: %v", err)
	}

	tokenStore := NewTokenStore()
	server, err := NewServer(Config{
		Registry:      registry,
		Dispatcher:    dispatcher,
		Logger:        slog.Default(),
		TokenVerifier: &mockTokenVerifier{userID: "jwt-user"},
		TokenStore:    tokenStore,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	return server, tokenStore, ms
}

func postJSONRPC(t *testing.T, server *Server, path, sessionID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if sessionID != "" {
		req.Header.Set("Mcp-Session-Id", sessionID)
	}
	rec := httptest.NewRecorder()
	server.handleMCP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) JSONRPCResponse {
	t.Helper()
	var resp JSONRPCResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v (body: %s)", err, rec.Body.String())
	}
	return resp
}

// initialize performs the handshake using a path token and returns the session ID.
func initialize(t *testing.T, server *Server, accessToken string) string {
	t.Helper()
	rec := postJSONRPC(t, server, "/mcp/"+accessToken, "",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("initialize returned HTTP %d: %s", rec.Code, rec.Body.String())
	}
	sessionID := rec.Header().Get("Mcp-Session-Id")
	if sessionID == "" {
		t.Fatal("initialize did not return a session ID")
	}
	return sessionID
}

func TestInitialize(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	accessToken := tokenStore.CreateToken("user-1")

	rec := postJSONRPC(t, server, "/mcp/"+accessToken, "",
		`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-11-25"}}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("got HTTP %d, want 200", rec.Code)
	}
	resp := decodeResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	result, ok := resp.Result.(map[string]any)
	if !ok {
		t.Fatalf("result has unexpected shape: %T", resp.Result)
	}
	if result["protocolVersion"] != "2025-11-25" {
		t.Errorf("got protocolVersion %v, want 2025-11-25", result["protocolVersion"])
	}
	serverInfo, _ := result["serverInfo"].(map[string]any)
	if serverInfo["name"] != "monarch-gateway" {
		t.Errorf("got server name %v, want monarch-gateway", serverInfo["name"])
	}
}

func TestInitialize_InvalidToken(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := postJSONRPC(t, server, "/mcp/not-a-real-token", "",
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)

	resp := decodeResponse(t, rec)
	if resp.Error == nil {
		t.Fatal("expected JSON-RPC error for invalid token")
	}
}

func TestInitialize_BearerJWT(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(
		`{"jsonrpc":"2.0","id":1,"method":"initialize"}`)))
	req.Header.Set("Authorization", "Bearer some-jwt")
	rec := httptest.NewRecorder()
	server.handleMCP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("got HTTP %d, want 200", rec.Code)
	}
	if rec.Header().Get("Mcp-Session-Id") == "" {
		t.Error("expected a session ID for JWT-authenticated initialize")
	}
}

func TestToolsList(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	rec := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)

	resp := decodeResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var result MCPListToolsResult
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("decoding tools/list result: %v", err)
	}

	if len(result.Tools) != 10 {
		t.Errorf("got %d tools, want 10", len(result.Tools))
	}
	if result.Tools[0].Name != "setup_authentication" {
		t.Errorf("got first tool %q, want setup_authentication", result.Tools[0].Name)
	}
	for _, tool := range result.Tools {
		if len(tool.InputSchema) == 0 {
			t.Errorf("tool %q has no input schema", tool.Name)
		}
	}
}

func TestToolsCall_BindsSessionUser(t *testing.T) {
	server, tokenStore, ms := setupTestServer(t)
	ms.credentials["user-1"] = "tok-u1"
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	rec := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"get_accounts","arguments":{}}}`)

	resp := decodeResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var envelope tools.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.IsError {
		t.Fatalf("unexpected error envelope: %s", envelope.Content[0].Text)
	}
	// The echo client names accounts after the bound credential.
	if want := "acct-for-tok-u1"; !bytes.Contains([]byte(envelope.Content[0].Text), []byte(want)) {
		t.Errorf("result does not reflect the session user's credential: %s", envelope.Content[0].Text)
	}
}

func TestToolsCall_UnknownTool(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	rec := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"no_such_tool"}}`)

	resp := decodeResponse(t, rec)
	if resp.Error == nil {
		t.Fatal("expected JSON-RPC error for unknown tool")
	}
	if resp.Error.Code != JSONRPCInvalidParams {
		t.Errorf("got code %d, want %d", resp.Error.Code, JSONRPCInvalidParams)
	}
}

func TestToolsCall_MissingName(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	rec := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{}}`)

	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidParams {
		t.Errorf("expected invalid params error, got %+v", resp.Error)
	}
}

func TestToolsCall_FailureStaysInEnvelope(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	// No credential stored: data tools return a non-error guidance envelope.
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	rec := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"get_accounts"}}`)

	resp := decodeResponse(t, rec)
	if resp.Error != nil {
		t.Fatalf("tool-level outcomes must not become JSON-RPC errors: %+v", resp.Error)
	}

	data, _ := json.Marshal(resp.Result)
	var envelope tools.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("decoding envelope: %v", err)
	}
	if envelope.IsError {
		t.Error("missing credential must not be an error envelope")
	}
	if !bytes.Contains([]byte(envelope.Content[0].Text), []byte("Not authenticated")) {
		t.Errorf("expected guidance text, got: %s", envelope.Content[0].Text)
	}
}

func TestRequestWithoutSession(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := postJSONRPC(t, server, "/mcp", "",
		`{"jsonrpc":"2.0","id":7,"method":"tools/list"}`)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got HTTP %d, want 400", rec.Code)
	}
}

func TestRequestWithUnknownSession(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := postJSONRPC(t, server, "/mcp", "nonexistent-session",
		`{"jsonrpc":"2.0","id":8,"method":"tools/list"}`)

	if rec.Code != http.StatusNotFound {
		t.Errorf("got HTTP %d, want 404", rec.Code)
	}
}

func TestNotificationReturns202(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	rec := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`)

	if rec.Code != http.StatusAccepted {
		t.Errorf("got HTTP %d, want 202", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("notification response must have no body, got %q", rec.Body.String())
	}
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewReader([]byte(
		`{"jsonrpc":"2.0","id":9,"method":"tools/list"}`)))
	req.Header.Set("Mcp-Session-Id", sessionID)
	req.Header.Set("Mcp-Protocol-Version", "1999-01-01")
	rec := httptest.NewRecorder()
	server.handleMCP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("got HTTP %d, want 400", rec.Code)
	}
}

func TestDeleteSession(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	accessToken := tokenStore.CreateToken("user-1")
	sessionID := initialize(t, server, accessToken)

	req := httptest.NewRequest(http.MethodDelete, "/mcp/"+accessToken, nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	rec := httptest.NewRecorder()
	server.handleMCP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("got HTTP %d, want 204", rec.Code)
	}

	// Subsequent requests on the terminated session must 404.
	rec2 := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","id":10,"method":"tools/list"}`)
	if rec2.Code != http.StatusNotFound {
		t.Errorf("got HTTP %d after delete, want 404", rec2.Code)
	}
}

func TestDeleteSession_WrongOwner(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	ownerToken := tokenStore.CreateToken("user-1")
	otherToken := tokenStore.CreateToken("user-2")
	sessionID := initialize(t, server, ownerToken)

	req := httptest.NewRequest(http.MethodDelete, "/mcp/"+otherToken, nil)
	req.Header.Set("Mcp-Session-Id", sessionID)
	rec := httptest.NewRecorder()
	server.handleMCP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Errorf("got HTTP %d, want 403", rec.Code)
	}
}

func TestGetNotSupported(t *testing.T) {
	server, _, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	rec := httptest.NewRecorder()
	server.handleMCP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("got HTTP %d, want 405", rec.Code)
	}
}

func TestInvalidJSON(t *testing.T) {
	server, _, _ := setupTestServer(t)

	rec := postJSONRPC(t, server, "/mcp", "", `{not json`)
	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != JSONRPCParseError {
		t.Errorf("expected parse error, got %+v", resp.Error)
	}
}

func TestMethodNotFound(t *testing.T) {
	server, tokenStore, _ := setupTestServer(t)
	sessionID := initialize(t, server, tokenStore.CreateToken("user-1"))

	rec := postJSONRPC(t, server, "/mcp", sessionID,
		`{"jsonrpc":"2.0","id":11,"method":"resources/list"}`)

	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != JSONRPCMethodNotFound {
		t.Errorf("expected method-not-found error, got %+v", resp.Error)
	}
}

func TestRequestBodyTooLarge(t *testing.T) {
	server, _, _ := setupTestServer(t)

	big := fmt.Sprintf(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"pad":%q}}`,
		bytes.Repeat([]byte("x"), MaxRequestBodySize))
	rec := postJSONRPC(t, server, "/mcp", "", big)

	resp := decodeResponse(t, rec)
	if resp.Error == nil || resp.Error.Code != JSONRPCInvalidRequest {
		t.Errorf("expected invalid request error, got %+v", resp.Error)
	}
}

func TestTokenStore(t *testing.T) {
	ts := NewTokenStore()

	token := ts.CreateToken("user-1")
	if token == "" {
		t.Fatal("CreateToken returned empty token")
	}

	userID, ok := ts.GetUserID(token)
	if !ok || userID != "user-1" {
		t.Errorf("got (%q, %v), want (user-1, true)", userID, ok)
	}

	if ts.TokenCount() != 1 {
		t.Errorf("got count %d, want 1", ts.TokenCount())
	}

	ts.InvalidateToken(token)
	if _, ok := ts.GetUserID(token); ok {
		t.Error("token still valid after invalidation")
	}
}
