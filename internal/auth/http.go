// ABOUTME: HTTP login flow that exchanges Monarch Money credentials for a stored token
// ABOUTME: The only writer of credentials; everything downstream of it is read-only

package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tm3/monarch-gateway/internal/store"
)

// LoginFunc exchanges Monarch Money credentials for a bearer token.
// Wraps monarch.Login so the handlers are testable without the upstream.
type LoginFunc func(ctx context.Context, email, password, totp string) (string, error)

// AccessTokenIssuer mints opaque MCP access tokens bound to a user.
// Satisfied by mcp.TokenStore.
type AccessTokenIssuer interface {
	CreateToken(userID string) string
}

// HandlersConfig holds configuration for the login flow handlers.
type HandlersConfig struct {
	Store     store.CredentialStore
	Login     LoginFunc
	Tokens    AccessTokenIssuer
	Verifier  *JWTVerifier
	TokenTTL  time.Duration
	PublicURL string
	Logger    *slog.Logger
}

// Handlers serves the credential refresh flow.
type Handlers struct {
	store     store.CredentialStore
	login     LoginFunc
	tokens    AccessTokenIssuer
	verifier  *JWTVerifier
	tokenTTL  time.Duration
	publicURL string
	logger    *slog.Logger
}

// NewHandlers creates the login flow handlers.
func NewHandlers(cfg HandlersConfig) (*Handlers, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("credential store is required")
	}
	if cfg.Login == nil {
		return nil, fmt.Errorf("login function is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token issuer is required")
	}
	if cfg.Verifier == nil {
		return nil, fmt.Errorf("jwt verifier is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	tokenTTL := cfg.TokenTTL
	if tokenTTL == 0 {
		tokenTTL = 90 * 24 * time.Hour
	}

	return &Handlers{
		store:     cfg.Store,
		login:     cfg.Login,
		tokens:    cfg.Tokens,
		verifier:  cfg.Verifier,
		tokenTTL:  tokenTTL,
		publicURL: strings.TrimRight(cfg.PublicURL, "/"),
		logger:    logger,
	}, nil
}

// RegisterRoutes registers the login flow endpoints on the given ServeMux.
func (h *Handlers) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/refresh", h.handleRefresh)
}

// UserIDForEmail derives the stable opaque user ID for an email address.
func UserIDForEmail(email string) string {
	normalized := strings.ToLower(strings.TrimSpace(email))
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("monarch:"+normalized)).String()
}

type refreshRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

type refreshResponse struct {
	Status  string `json:"status"`
	UserID  string `json:"user_id"`
	MCPURL  string `json:"mcp_url"`
	Session string `json:"session_token"`
}

func (h *Handlers) handleRefresh(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.serveForm(w)
	case http.MethodPost:
		h.handleLogin(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	}
}

// handleLogin performs the upstream login and persists the credential.
// Neither the password nor the resulting token is ever logged.
func (h *Handlers) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.Email = r.PostFormValue("email")
		req.Password = r.PostFormValue("password")
		req.TOTP = r.PostFormValue("totp")
	}

	if req.Email == "" || req.Password == "" {
		writeJSONError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	token, err := h.login(r.Context(), req.Email, req.Password, req.TOTP)
	if err != nil {
		h.logger.Warn("upstream login failed", "error", err)
		writeJSONError(w, http.StatusUnauthorized, err.Error())
		return
	}

	userID := UserIDForEmail(req.Email)
	if err := h.store.PutCredential(r.Context(), userID, token); err != nil {
		h.logger.Error("storing credential failed", "user_id", userID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to store credential")
		return
	}

	accessToken := h.tokens.CreateToken(userID)

	sessionToken, err := h.verifier.Generate(userID, h.tokenTTL)
	if err != nil {
		h.logger.Error("minting session token failed", "user_id", userID, "error", err)
		writeJSONError(w, http.StatusInternalServerError, "failed to mint session token")
		return
	}

	h.logger.Info("credential refreshed", "user_id", userID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(refreshResponse{
		Status:  "ok",
		UserID:  userID,
		MCPURL:  h.publicURL + "/mcp/" + accessToken,
		Session: sessionToken,
	})
}

func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// serveForm renders the minimal credential refresh page.
func (h *Handlers) serveForm(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(refreshFormHTML))
}

const refreshFormHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Monarch Money - Refresh Token</title>
  <style>
    body { font-family: system-ui, sans-serif; max-width: 28rem; margin: 4rem auto; padding: 0 1rem; }
    label { display: block; margin-top: 1rem; }
    input { width: 100%; padding: 0.5rem; margin-top: 0.25rem; }
    button { margin-top: 1.5rem; padding: 0.5rem 1.5rem; }
  </style>
</head>
<body>
  <h1>Refresh Monarch Money Token</h1>
  <p>Your credentials are sent directly to Monarch Money and never stored.</p>
  <form method="post" action="/auth/refresh">
    <label>Email <input type="email" name="email" required></label>
    <label>Password <input type="password" name="password" required></label>
    <label>2FA code (if enabled) <input type="text" name="totp" autocomplete="one-time-code"></label>
    <button type="submit">Sign in</button>
  </form>
</body>
</html>
`
