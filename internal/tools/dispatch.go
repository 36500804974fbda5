// ABOUTME: Tool dispatcher binding invocations to per-user credentials and upstream clients
// ABOUTME: Every invocation terminates in a well-formed envelope; nothing escapes to the transport

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tm3/monarch-gateway/internal/monarch"
	"github.com/tm3/monarch-gateway/internal/store"
)

// ErrUnknownTool is returned for a tool name that was never registered.
// The transport layer maps it to a protocol-level error.
var ErrUnknownTool = errors.New("unknown tool")

// ClientFactory constructs an upstream client bound to a credential.
// Construction must be cheap; no network round trip.
type ClientFactory func(token string) monarch.API

// DispatcherConfig holds configuration for the dispatcher.
type DispatcherConfig struct {
	Registry    *Registry
	Credentials store.CredentialStore
	Factory     ClientFactory
	Logger      *slog.Logger

	// Guidance is the text returned (as a non-error envelope) when a
	// tool needs a credential and none is stored for the user.
	Guidance string
}

// Dispatcher executes tool invocations end to end: argument validation,
// credential resolution, client construction, handler execution, and
// envelope rendering. Safe for concurrent use; all per-invocation state
// is local.
type Dispatcher struct {
	registry    *Registry
	credentials store.CredentialStore
	factory     ClientFactory
	guidance    string
	logger      *slog.Logger
}

// NewDispatcher creates a dispatcher with the given configuration.
func NewDispatcher(cfg DispatcherConfig) (*Dispatcher, error) {
	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("credential store is required")
	}
	if cfg.Factory == nil {
		return nil, errors.New("client factory is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	guidance := cfg.Guidance
	if guidance == "" {
		guidance = "Not authenticated with Monarch Money. Run the setup_authentication tool for instructions."
	}

	return &Dispatcher{
		registry:    cfg.Registry,
		credentials: cfg.Credentials,
		factory:     cfg.Factory,
		guidance:    guidance,
		logger:      logger,
	}, nil
}

// Dispatch executes one invocation of the named tool for the given user.
// Returns ErrUnknownTool for unregistered names; every other outcome,
// success or failure, is rendered into the returned envelope.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, toolName string, rawArgs json.RawMessage) (*Envelope, error) {
	rt := d.registry.lookup(toolName)
	if rt == nil {
		return nil, ErrUnknownTool
	}
	verb := rt.tool.FailureVerb

	// Validation happens before any credential or upstream I/O, so a
	// malformed invocation never has partial side effects.
	args, err := rt.validateArgs(rawArgs)
	if err != nil {
		d.logger.Debug("tool arguments rejected", "tool", toolName, "user_id", userID, "error", err)
		return errorEnvelope(fmt.Sprintf("Error %s: %v", verb, err)), nil
	}

	inv := &Invocation{
		UserID: userID,
		Args:   args,
	}

	if rt.tool.RequiresClient {
		token, err := d.credentials.GetCredential(ctx, userID)
		if errors.Is(err, store.ErrNotFound) {
			// Missing credential is a guided-recovery state, not an error.
			d.logger.Debug("no credential for user", "tool", toolName, "user_id", userID)
			return textEnvelope(d.guidance), nil
		}
		if err != nil {
			d.logger.Warn("credential resolution failed", "tool", toolName, "user_id", userID, "error", err)
			return errorEnvelope(fmt.Sprintf("Error %s: %v", verb, err)), nil
		}
		inv.Client = d.factory(token)
	}

	if rt.tool.ChecksStatus {
		has, err := d.credentials.HasCredential(ctx, userID)
		if err != nil {
			d.logger.Warn("credential check failed", "tool", toolName, "user_id", userID, "error", err)
			return errorEnvelope(fmt.Sprintf("Error %s: %v", verb, err)), nil
		}
		inv.HasCredential = has
	}

	result, err := rt.tool.Handler(ctx, inv)
	if err != nil {
		d.logger.Warn("tool execution failed", "tool", toolName, "user_id", userID, "error", err)
		return errorEnvelope(fmt.Sprintf("Error %s: %v", verb, err)), nil
	}

	d.logger.Debug("tool executed", "tool", toolName, "user_id", userID)
	return d.render(verb, result), nil
}

// render serializes a handler result into a success envelope.
// Strings pass through as literal text; everything else is
// pretty-printed JSON with 2-space indentation.
func (d *Dispatcher) render(verb string, result any) *Envelope {
	if text, ok := result.(string); ok {
		return textEnvelope(text)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errorEnvelope(fmt.Sprintf("Error %s: rendering result: %v", verb, err))
	}
	return textEnvelope(string(data))
}
