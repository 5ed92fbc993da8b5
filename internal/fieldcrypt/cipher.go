// Package fieldcrypt encrypts individual JSON fields at rest and masks
// sensitive values in responses.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// Prefix marks an encrypted value. The version allows key rotation.
const Prefix = "enc:v1:"

const (
	keySize       = 32
	minMasterSize = 32
	keyInfoPrefix = "firmguard/field/"
)

// ErrInvalidCiphertext is returned for values that are not valid output of
// this package for the given field.
var ErrInvalidCiphertext = errors.New("invalid encrypted value")

// Cipher encrypts field values with AES-256-GCM under per-field keys derived
// from a master key with HKDF-SHA256. The field name is bound as additional
// data so a value cannot be moved between fields.
type Cipher struct {
	master []byte
	salt   []byte
}

// NewCipher creates a cipher from a master key of at least 32 bytes.
func NewCipher(masterKey, salt []byte) (*Cipher, error) {
	if len(masterKey) < minMasterSize {
		return nil, fmt.Errorf("master key must be at least %d bytes", minMasterSize)
	}
	return &Cipher{master: masterKey, salt: salt}, nil
}

func (c *Cipher) fieldGCM(field string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	h := hkdf.New(sha256.New, c.master, c.salt, []byte(keyInfoPrefix+field))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("deriving field key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt returns the encrypted form of plaintext for field.
func (c *Cipher) Encrypt(field, plaintext string) (string, error) {
	gcm, err := c.fieldGCM(field)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), []byte(field))
	return Prefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Values without the prefix are rejected.
func (c *Cipher) Decrypt(field, value string) (string, error) {
	encoded, ok := strings.CutPrefix(value, Prefix)
	if !ok {
		return "", fmt.Errorf("%w: missing prefix", ErrInvalidCiphertext)
	}

	sealed, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}

	gcm, err := c.fieldGCM(field)
	if err != nil {
		return "", err
	}
	if len(sealed) < gcm.NonceSize() {
		return "", fmt.Errorf("%w: shorter than nonce", ErrInvalidCiphertext)
	}

	nonce, ct := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, ct, []byte(field))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCiphertext, err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether s carries the encryption prefix.
func IsEncrypted(s string) bool {
	return strings.HasPrefix(s, Prefix)
}

// EncryptFields encrypts the named top level string fields of m in place.
// Already encrypted values are left alone.
func (c *Cipher) EncryptFields(m map[string]any, fields []string) error {
	for _, f := range fields {
		s, ok := m[f].(string)
		if !ok || s == "" || IsEncrypted(s) {
			continue
		}
		enc, err := c.Encrypt(f, s)
		if err != nil {
			return fmt.Errorf("field %s: %w", f, err)
		}
		m[f] = enc
	}
	return nil
}

// DecryptFields decrypts the named top level fields of m in place. Plain
// values are left alone; malformed ciphertext is an error.
func (c *Cipher) DecryptFields(m map[string]any, fields []string) error {
	for _, f := range fields {
		s, ok := m[f].(string)
		if !ok || !IsEncrypted(s) {
			continue
		}
		plain, err := c.Decrypt(f, s)
		if err != nil {
			return fmt.Errorf("field %s: %w", f, err)
		}
		m[f] = plain
	}
	return nil
}
