// Package cryptox holds the credential vault: authenticated symmetric
// encryption (AES-256-GCM) for secrets stored at rest, plus the key
// derivations used for master keys, vault payload keys and shareable vault keys.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize   = 32
	nonceSize = 12

	// masterSalt is fixed so the same passphrase always yields the same key
	// across restarts.
	masterSalt   = "mailvault"
	shareKeyInfo = "mailvault share key"
)

var ErrMalformed = errors.New("malformed sealed value")

// DeriveMasterKey stretches password into a 32-byte key with Argon2id.
func DeriveMasterKey(password []byte, salt []byte) []byte {
	return argon2.IDKey(password, salt, 1, 64*1024, 4, KeySize)
}

// KeyFromHex decodes a hex encoded 32-byte key.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode master key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

// KeyFromPassphrase derives the master key from an operator passphrase.
func KeyFromPassphrase(passphrase string) []byte {
	return DeriveMasterKey([]byte(passphrase), []byte(masterSalt))
}

// DeriveShareKey derives the shareable vault key handed to the vault owner.
// It is a pure function of the vault password and vault id.
func DeriveShareKey(password, vaultID string) (string, error) {
	r := hkdf.New(sha256.New, []byte(password), []byte(vaultID), []byte(shareKeyInfo))
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(key), nil
}

// Sealer encrypts and decrypts secrets with a single master key.
// Sealed values are base64(nonce || ciphertext || tag).
type Sealer struct {
	aead cipher.AEAD
}

func NewSealer(key []byte) (*Sealer, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext under a fresh random nonce.
func (s *Sealer) Seal(plaintext string) (string, error) {
	out, err := seal(s.aead, []byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Tampered or truncated input fails authentication.
func (s *Sealer) Open(sealed string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return "", ErrMalformed
	}
	plain, err := open(s.aead, raw)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// SealBytes encrypts payload with key and returns nonce || ciphertext || tag.
func SealBytes(key, payload []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return seal(aead, payload)
}

// OpenBytes reverses SealBytes.
func OpenBytes(key, sealed []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	return open(aead, sealed)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

func seal(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

func open(aead cipher.AEAD, raw []byte) ([]byte, error) {
	if len(raw) < nonceSize+aead.Overhead() {
		return nil, ErrMalformed
	}
	return aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
}
