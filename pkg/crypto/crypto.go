package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"
	"strings"
)

// envelopeVersion tags the current envelope format
const envelopeVersion = "v1"

// encryptedPattern matches the stored envelope shape. The enricher uses
// the same pattern to detect presenter titles that leaked an envelope.
var encryptedPattern = regexp.MustCompile(`.*:.*:.*:v1$`)

// LooksEncrypted reports whether a value syntactically resembles an
// encryption envelope
func LooksEncrypted(s string) bool {
	return encryptedPattern.MatchString(s)
}

// KeyProvider resolves the data-encryption key for an organization.
// Callers should cache DEKs only for the duration of one operation.
type KeyProvider interface {
	DEK(ctx context.Context, tenantID, organizationID string) ([]byte, error)
}

// Service encrypts and decrypts field values using AES-256-GCM with
// per-organization data-encryption keys
type Service struct {
	keys KeyProvider
}

// NewService creates an encryption service backed by the given key provider
func NewService(keys KeyProvider) *Service {
	return &Service{keys: keys}
}

// Encrypt seals plaintext under the organization's DEK and returns an
// envelope of the form "<dekId>:<nonce>:<ciphertext>:v1"
func (s *Service) Encrypt(ctx context.Context, tenantID, organizationID, plaintext string) (string, error) {
	if plaintext == "" {
		return "", fmt.Errorf("cannot encrypt empty data")
	}

	dek, err := s.keys.DEK(ctx, tenantID, organizationID)
	if err != nil {
		return "", fmt.Errorf("failed to resolve DEK: %w", err)
	}

	gcm, err := newGCM(dek)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return strings.Join([]string{
		keyID(dek),
		base64.RawURLEncoding.EncodeToString(nonce),
		base64.RawURLEncoding.EncodeToString(ciphertext),
		envelopeVersion,
	}, ":"), nil
}

// Decrypt opens an envelope produced by Encrypt
func (s *Service) Decrypt(ctx context.Context, tenantID, organizationID, envelope string) (string, error) {
	return s.DecryptWithDEK(envelope, func() ([]byte, error) {
		return s.keys.DEK(ctx, tenantID, organizationID)
	})
}

// DecryptWithDEK opens an envelope using a caller-supplied DEK fetch.
// The enricher uses this to reuse a per-call DEK cache.
func (s *Service) DecryptWithDEK(envelope string, fetch func() ([]byte, error)) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 4 || parts[3] != envelopeVersion {
		return "", fmt.Errorf("malformed encryption envelope")
	}

	dek, err := fetch()
	if err != nil {
		return "", fmt.Errorf("failed to resolve DEK: %w", err)
	}
	if keyID(dek) != parts[0] {
		return "", fmt.Errorf("envelope was sealed under a different key")
	}

	nonce, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("malformed nonce: %w", err)
	}
	ciphertext, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("malformed ciphertext: %w", err)
	}

	gcm, err := newGCM(dek)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(dek []byte) (cipher.AEAD, error) {
	if len(dek) != 32 {
		return nil, fmt.Errorf("DEK must be 32 bytes for AES-256, got %d", len(dek))
	}
	block, err := aes.NewCipher(dek)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// keyID derives a short stable identifier from the DEK so envelopes can
// name the key that sealed them without exposing it
func keyID(dek []byte) string {
	sum := sha256.Sum256(dek)
	return base64.RawURLEncoding.EncodeToString(sum[:6])
}

// StaticKeyProvider derives per-organization DEKs from a single master
// key. Suitable for single-process deployments and tests; production
// deployments plug in a KMS-backed provider.
type StaticKeyProvider struct {
	master []byte
}

// NewStaticKeyProvider creates a provider from a master password.
// The password is hashed with SHA-256 to derive key material.
func NewStaticKeyProvider(password string) (*StaticKeyProvider, error) {
	if password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	hash := sha256.Sum256([]byte(password))
	return &StaticKeyProvider{master: hash[:]}, nil
}

// DEK derives a deterministic 32-byte key for the organization scope
func (p *StaticKeyProvider) DEK(_ context.Context, tenantID, organizationID string) ([]byte, error) {
	h := sha256.New()
	h.Write(p.master)
	h.Write([]byte(tenantID))
	h.Write([]byte{0})
	h.Write([]byte(organizationID))
	return h.Sum(nil), nil
}
