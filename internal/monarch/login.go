// ABOUTME: Password + TOTP login against the Monarch Money auth endpoint
// ABOUTME: Produces the long-lived bearer token persisted by the gateway login flow

package monarch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LoginRequest carries the credentials for a password login.
// TOTP is required only when the account has MFA enabled.
type LoginRequest struct {
	Email    string
	Password string
	TOTP     string
}

type loginWireRequest struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	TOTP          string `json:"totp,omitempty"`
	SupportsMFA   bool   `json:"supports_mfa"`
	TrustedDevice bool   `json:"trusted_device"`
}

type loginWireResponse struct {
	Token     string `json:"token"`
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
}

// ErrMFARequired message fragment returned by the upstream when a TOTP
// code is needed but was not supplied.
const mfaRequiredCode = "MFA_REQUIRED"

// Login exchanges email/password (and optional TOTP) for a bearer token.
// baseURL is the API root; pass DefaultBaseURL outside tests.
func Login(ctx context.Context, baseURL string, req LoginRequest) (string, error) {
	wire := loginWireRequest{
		Username:      req.Email,
		Password:      req.Password,
		TOTP:          req.TOTP,
		SupportsMFA:   true,
		TrustedDevice: true,
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("monarch: marshal login request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(baseURL, "/")+"/auth/login/",
		bytes.NewReader(data),
	)
	if err != nil {
		return "", fmt.Errorf("monarch: create login request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("monarch: login request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("monarch: read login response: %w", err)
	}

	var wireResp loginWireResponse
	if err := json.Unmarshal(respBody, &wireResp); err != nil {
		return "", fmt.Errorf("monarch: login returned HTTP %d: %s", resp.StatusCode, summarize(respBody))
	}

	if resp.StatusCode != http.StatusOK {
		if wireResp.ErrorCode == mfaRequiredCode {
			return "", fmt.Errorf("monarch: multi-factor code required")
		}
		if wireResp.Detail != "" {
			return "", fmt.Errorf("monarch: login failed: %s", wireResp.Detail)
		}
		return "", fmt.Errorf("monarch: login returned HTTP %d", resp.StatusCode)
	}

	if wireResp.Token == "" {
		return "", fmt.Errorf("monarch: login succeeded but no token returned")
	}

	return wireResp.Token, nil
}
