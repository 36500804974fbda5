// ABOUTME: ChaCha20-Poly1305 sealing for credentials at rest
// ABOUTME: Ciphertext layout is [nonce] + [sealed data], one random nonce per seal

package store

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// SealKeySize is the required key length in bytes.
const SealKeySize = chacha20poly1305.KeySize

var (
	ErrInvalidKeySize     = fmt.Errorf("sealing key must be exactly %d bytes", SealKeySize)
	ErrCiphertextTooShort = errors.New("ciphertext too short")
)

// Sealer encrypts and decrypts credential values at rest.
// Safe for concurrent use.
type Sealer struct {
	key []byte
}

// NewSealer creates a Sealer from a 32-byte key.
func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != SealKeySize {
		return nil, ErrInvalidKeySize
	}
	k := make([]byte, SealKeySize)
	copy(k, key)
	return &Sealer{key: k}, nil
}

// Seal encrypts plaintext and prepends the nonce to the returned ciphertext.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a ciphertext produced by Seal.
func (s *Sealer) Open(ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(s.key)
	if err != nil {
		return nil, fmt.Errorf("new aead: %w", err)
	}

	if len(ciphertext) < aead.NonceSize() {
		return nil, ErrCiphertextTooShort
	}

	nonce, data := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, data, nil)
	if err != nil {
		return nil, fmt.Errorf("unseal: %w", err)
	}

	return plaintext, nil
}
