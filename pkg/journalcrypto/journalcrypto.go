// Package journalcrypto seals and opens journal payloads with per-student keys.
//
// Ciphertext is hex(nonce || AES-256-GCM sealed body). The key is derived
// with HKDF-SHA256 from a process-wide master secret, salted by student ID.
package journalcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16
	hkdfInfo  = "journal-entry-v1"
)

// ErrNotEncrypted reports content that does not look like a sealed payload.
var ErrNotEncrypted = errors.New("content is not an encrypted payload")

// Cipher derives per-student keys from a master secret.
type Cipher struct {
	master []byte
}

// New builds a Cipher. An empty secret is rejected.
func New(masterSecret string) (*Cipher, error) {
	if masterSecret == "" {
		return nil, errors.New("journalcrypto: master secret required")
	}
	return &Cipher{master: []byte(masterSecret)}, nil
}

// Encrypt seals plaintext for the student.
func (c *Cipher) Encrypt(plaintext, studentID string) (string, error) {
	aead, err := c.aead(studentID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("journalcrypto: nonce: %w", err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(studentID))
	return hex.EncodeToString(sealed), nil
}

// Decrypt opens a sealed payload. Content that is not hex ciphertext yields
// ErrNotEncrypted.
func (c *Cipher) Decrypt(raw, studentID string) (string, error) {
	if !LooksEncrypted(raw) {
		return "", ErrNotEncrypted
	}
	sealed, err := hex.DecodeString(raw)
	if err != nil {
		return "", ErrNotEncrypted
	}
	aead, err := c.aead(studentID)
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, sealed[:nonceSize], sealed[nonceSize:], []byte(studentID))
	if err != nil {
		return "", fmt.Errorf("journalcrypto: open: %w", err)
	}
	return string(plain), nil
}

// MaybeDecrypt returns the plaintext for sealed content and the raw content
// unchanged otherwise, including when opening fails.
func (c *Cipher) MaybeDecrypt(raw, studentID string) string {
	if c == nil {
		return raw
	}
	plain, err := c.Decrypt(raw, studentID)
	if err != nil {
		return raw
	}
	return plain
}

// LooksEncrypted reports whether raw is even-length hex long enough to hold
// a nonce and an authentication tag.
func LooksEncrypted(raw string) bool {
	if len(raw) < 2*(nonceSize+tagSize) || len(raw)%2 != 0 {
		return false
	}
	for i := 0; i < len(raw); i++ {
		ch := raw[i]
		switch {
		case ch >= '0' && ch <= '9', ch >= 'a' && ch <= 'f', ch >= 'A' && ch <= 'F':
		default:
			return false
		}
	}
	return true
}

func (c *Cipher) aead(studentID string) (cipher.AEAD, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.master, []byte(studentID), []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("journalcrypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("journalcrypto: cipher: %w", err)
	}
	return cipher.NewGCM(block)
}
