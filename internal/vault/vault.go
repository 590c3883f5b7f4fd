// Package vault encrypts third-party credentials at rest.
//
// Each value is sealed with XChaCha20-Poly1305 under a fresh random nonce; the
// nonce is stored in front of the ciphertext and the whole blob is base64url
// encoded. The 32-byte key is derived from the configured secret with HKDF.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

const hkdfInfo = "qa-harvester credential vault v1"

var encoding = base64.RawURLEncoding

// Vault implements harvest.Vault.
type Vault struct {
	aead  cipherAEAD
	nonce io.Reader
}

type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

// New derives the key from secret and returns a ready Vault.
func New(secret string) (*Vault, error) {
	if secret == "" {
		return nil, errors.New("vault secret is required")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &Vault{aead: aead, nonce: rand.Reader}, nil
}

// Encrypt seals plaintext under a new random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize(), v.aead.NonceSize()+len(plaintext)+v.aead.Overhead())
	if _, err := io.ReadFull(v.nonce, nonce); err != nil {
		return "", fmt.Errorf("read nonce: %w", err)
	}
	sealed := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return encoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Malformed, truncated, tampered or
// foreign ciphertext fails with harvest.ErrCrypto.
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	raw, err := encoding.DecodeString(ciphertext)
	if err != nil {
		return "", harvest.Crypto("decode ciphertext", err)
	}
	if len(raw) < v.aead.NonceSize()+v.aead.Overhead() {
		return "", harvest.Crypto("open ciphertext", errors.New("ciphertext too short"))
	}
	nonce, sealed := raw[:v.aead.NonceSize()], raw[v.aead.NonceSize():]
	plain, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", harvest.Crypto("open ciphertext", err)
	}
	return string(plain), nil
}

// EncryptPair seals a credential pair. Both halves are required; an empty pair
// yields two empty ciphertexts so the stored fields stay both-or-neither.
func EncryptPair(v harvest.Vault, creds harvest.Credentials) (string, string, error) {
	if creds.Empty() {
		return "", "", nil
	}
	if creds.Email == "" || creds.Secret == "" {
		return "", "", harvest.Validation("credentials", "email and secret must be provided together")
	}
	email, err := v.Encrypt(creds.Email)
	if err != nil {
		return "", "", fmt.Errorf("encrypt email: %w", err)
	}
	secret, err := v.Encrypt(creds.Secret)
	if err != nil {
		return "", "", fmt.Errorf("encrypt secret: %w", err)
	}
	return email, secret, nil
}

// DecryptPair opens the pair stored on a user. Users without stored
// credentials yield an empty pair.
func DecryptPair(v harvest.Vault, user harvest.User) (harvest.Credentials, error) {
	if user.EncryptedEmail == "" && user.EncryptedSecret == "" {
		return harvest.Credentials{}, nil
	}
	if !user.HasCredentials() {
		return harvest.Credentials{}, harvest.Crypto("decrypt credentials", errors.New("credential pair is incomplete"))
	}
	email, err := v.Decrypt(user.EncryptedEmail)
	if err != nil {
		return harvest.Credentials{}, fmt.Errorf("decrypt email: %w", err)
	}
	secret, err := v.Decrypt(user.EncryptedSecret)
	if err != nil {
		return harvest.Credentials{}, fmt.Errorf("decrypt secret: %w", err)
	}
	return harvest.Credentials{Email: email, Secret: secret}, nil
}
