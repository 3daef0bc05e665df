package storage

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// Format: magic(8) + salt(16) + nonce(12) + encrypted_data + auth_tag(16)
const (
	gcmMagic       = "GCM3NCR0"
	saltLen        = 16
	nonceLen       = 12
	tagLen         = 16
	kdfIterations  = 100000
	keyLen         = 32
	minEncryptedSz = len(gcmMagic) + saltLen + nonceLen + tagLen
)

var ErrNotEncrypted = errors.New("data does not carry the GCM3NCR0 header")

// IsEncrypted reports whether data starts with the GCM3NCR0 magic.
func IsEncrypted(data []byte) bool {
	return len(data) >= len(gcmMagic) && string(data[:len(gcmMagic)]) == gcmMagic
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, keyLen, sha256.New)
}

func newGCM(password string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(password, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Encrypt seals data with a key derived from password.
func Encrypt(data []byte, password string) ([]byte, error) {
	salt := make([]byte, saltLen)
	nonce := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, minEncryptedSz+len(data))
	out = append(out, gcmMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, data, nil), nil
}

// Decrypt opens data produced by Encrypt.
func Decrypt(data []byte, password string) ([]byte, error) {
	if !IsEncrypted(data) {
		return nil, ErrNotEncrypted
	}
	if len(data) < minEncryptedSz {
		return nil, fmt.Errorf("GCM data too short: %d bytes", len(data))
	}
	off := len(gcmMagic)
	salt := data[off : off+saltLen]
	nonce := data[off+saltLen : off+saltLen+nonceLen]

	gcm, err := newGCM(password, salt)
	if err != nil {
		return nil, err
	}
	plaintext, err := gcm.Open(nil, nonce, data[off+saltLen+nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("GCM decryption failed: %w", err)
	}
	return plaintext, nil
}
