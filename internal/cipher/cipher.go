// Package cipher implements the symmetric envelope the spec's Cipher
// component uses to protect RobotEnvBinding secret values at rest (spec §2,
// §5, §9). Keys are process-local and never persisted — only the default
// encryptor's ciphertext ever reaches Store.
package cipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

const (
	encPrefix   = "$hub_enc$"
	encV1Prefix = "$hub_enc$v1$"
)

// Cipher encrypts and decrypts secret env-binding values.
type Cipher interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
	Enabled() bool
}

// AESGCM implements Cipher with AES-256-GCM and supports key rotation: the
// primary key encrypts, but decryption falls back through oldKeys on GCM
// authentication failure so values encrypted under a retired key keep
// reading until they are next rewritten.
type AESGCM struct {
	primaryKey []byte
	oldKeys    [][]byte
}

// New builds an AESGCM cipher from a base64-encoded 32-byte primary key and
// zero or more base64-encoded 32-byte retired keys. An empty primaryKeyB64
// disables encryption entirely (Enabled reports false, Encrypt/Decrypt error).
func New(primaryKeyB64 string, oldKeysB64 ...string) (*AESGCM, error) {
	if primaryKeyB64 == "" {
		return &AESGCM{}, nil
	}

	primary, err := decodeKey(primaryKeyB64)
	if err != nil {
		return nil, fmt.Errorf("cipher: invalid primary encryption key: %w", err)
	}

	var old [][]byte
	for i, raw := range oldKeysB64 {
		if raw == "" {
			continue
		}
		k, err := decodeKey(raw)
		if err != nil {
			return nil, fmt.Errorf("cipher: invalid retired key [%d]: %w", i, err)
		}
		old = append(old, k)
	}

	return &AESGCM{primaryKey: primary, oldKeys: old}, nil
}

func decodeKey(b64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes (AES-256), got %d", len(key))
	}
	return key, nil
}

// Enabled reports whether a primary key was configured.
func (c *AESGCM) Enabled() bool {
	return c.primaryKey != nil
}

// Encrypt seals plaintext under the primary key, returning
// "$hub_enc$v1$<base64(nonce|ciphertext)>".
func (c *AESGCM) Encrypt(plaintext string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("cipher: encryption is disabled (no primary key configured)")
	}

	block, err := aes.NewCipher(c.primaryKey)
	if err != nil {
		return "", fmt.Errorf("cipher: cipher error: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher: GCM error: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("cipher: nonce generation error: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return encV1Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt, trying the primary key first
// and then each retired key in order.
func (c *AESGCM) Decrypt(value string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("cipher: decryption is disabled (no primary key configured)")
	}
	if !strings.HasPrefix(value, encPrefix) {
		return "", fmt.Errorf("cipher: value does not have the encryption prefix")
	}

	payload := strings.TrimPrefix(value, encV1Prefix)
	payload = strings.TrimPrefix(payload, encPrefix)

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("cipher: invalid base64: %w", err)
	}

	keys := append([][]byte{c.primaryKey}, c.oldKeys...)
	for _, key := range keys {
		if plaintext, err := decryptWithKey(key, data); err == nil {
			return plaintext, nil
		}
	}
	return "", fmt.Errorf("cipher: decryption failed with all configured keys")
}

func decryptWithKey(key, data []byte) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the cipher's envelope prefix.
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encPrefix)
}
