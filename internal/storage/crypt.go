package storage

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Snapshot objects can be sealed at rest with AES-256-GCM under a
// password-derived key. Envelope: magic(8) + salt(16) + nonce(12) + ciphertext.
var gcmMagic = []byte("GCM3NCR0")

const pbkdf2Iterations = 100000

// Seal encrypts data under password.
func Seal(data []byte, password string) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := make([]byte, 0, len(gcmMagic)+len(salt)+len(nonce)+len(data)+gcm.Overhead())
	sealed = append(sealed, gcmMagic...)
	sealed = append(sealed, salt...)
	sealed = append(sealed, nonce...)
	sealed = gcm.Seal(sealed, nonce, data, nil)
	return sealed, nil
}

// IsSealed reports whether data carries the GCM envelope magic.
func IsSealed(data []byte) bool {
	return len(data) >= len(gcmMagic) && bytes.Equal(data[:len(gcmMagic)], gcmMagic)
}

// Open decrypts a sealed envelope produced by Seal.
func Open(sealed []byte, password string) ([]byte, error) {
	if !IsSealed(sealed) {
		return nil, fmt.Errorf("not a sealed envelope")
	}
	if len(sealed) < 8+16+12+16 {
		return nil, fmt.Errorf("sealed data too short: %d bytes", len(sealed))
	}

	salt := sealed[8:24]
	nonce := sealed[24:36]
	ciphertext := sealed[36:]

	key := pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, 32, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}
