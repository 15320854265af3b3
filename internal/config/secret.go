package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// SealedPrefix marks a value produced by Sealer.Seal.
const SealedPrefix = "sealed:v1:"

var (
	ErrUnseal        = errors.New("failed to unseal secret")
	ErrInvalidSealed = errors.New("invalid sealed value")
)

// Sealer encrypts secrets (API keys) before they are written to the store's
// configuration table, with AES-256-GCM.
type Sealer struct {
	key []byte
}

// NewSealer derives the key from NOVA_SECRET_KEY when set, otherwise from
// identifiers of the current machine and user.
func NewSealer() *Sealer {
	if pass := os.Getenv("NOVA_SECRET_KEY"); pass != "" {
		return NewSealerWithPassphrase(pass)
	}
	var b strings.Builder
	host, _ := os.Hostname()
	home, _ := os.UserHomeDir()
	fmt.Fprintf(&b, "%s|%s|%s/%s|uid:%d|nova-sealer-v1", host, home, runtime.GOOS, runtime.GOARCH, os.Getuid())
	return NewSealerWithPassphrase(b.String())
}

func NewSealerWithPassphrase(pass string) *Sealer {
	sum := sha256.Sum256([]byte(pass))
	return &Sealer{key: sum[:]}
}

func (s *Sealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext. The empty string stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	aead, err := s.gcm()
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return SealedPrefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal. Values without the prefix are returned unchanged so
// hand-entered plaintext keeps working.
func (s *Sealer) Open(stored string) (string, error) {
	if !IsSealed(stored) {
		return stored, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, SealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSealed, err)
	}
	aead, err := s.gcm()
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrInvalidSealed
	}
	nonce, body := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return "", ErrUnseal
	}
	return string(plain), nil
}

func IsSealed(v string) bool {
	return strings.HasPrefix(v, SealedPrefix)
}

// IsSecretKey reports whether a configuration key holds a credential.
func IsSecretKey(key string) bool {
	return strings.HasSuffix(key, ".api_key")
}

// Mask hides all but the ends of a secret for display.
func Mask(secret string) string {
	if len(secret) <= 8 {
		return "****"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}
