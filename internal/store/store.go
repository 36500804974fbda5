// ABOUTME: Store interface and data types for monarch-gateway persistence
// ABOUTME: Defines the CredentialStore contract used by the tool dispatcher and login flow

package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested entry does not exist.
// Callers use this to distinguish "credential absent" (a normal state)
// from a store-layer failure.
var ErrNotFound = errors.New("not found")

// CredentialStore defines access to per-user Monarch Money credentials.
// Credentials are written by the login flow and read by the tool dispatcher.
type CredentialStore interface {
	// GetCredential returns the bearer token for a user.
	// Returns ErrNotFound when the user has never authenticated.
	GetCredential(ctx context.Context, userID string) (string, error)

	// PutCredential stores or replaces the bearer token for a user.
	PutCredential(ctx context.Context, userID, token string) error

	// DeleteCredential removes the stored token for a user.
	// Returns ErrNotFound when no token is stored.
	DeleteCredential(ctx context.Context, userID string) error

	// HasCredential reports whether a token is stored for a user
	// without returning the token value.
	HasCredential(ctx context.Context, userID string) (bool, error)

	// Close releases any resources held by the store
	Close() error
}

// credentialKey builds the storage key for a user's credential.
func credentialKey(userID string) string {
	return "credential:" + userID
}
