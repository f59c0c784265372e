package hipaa

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

const (
	// IVSize is the length of the random IV prepended to every blob.
	IVSize = 16
	// TagSize is the length of the GCM authentication tag appended to every blob.
	TagSize = 16
	// minBlobSize is the smallest possible valid blob: IV plus tag with an
	// empty ciphertext.
	minBlobSize = IVSize + TagSize
)

// FieldEncryptor is the contract repositories and the field-mapping registry
// use for single-value PHI encryption. Values travel as base64 strings so
// they can be stored in text columns.
type FieldEncryptor interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// PHIEncryptor provides AES-256-GCM authenticated encryption for PHI data.
// Every blob has the fixed layout IV(16) || ciphertext || authTag(16) with a
// fresh random IV per call.
type PHIEncryptor struct {
	aead cipher.AEAD
}

// NewPHIEncryptor creates a new PHIEncryptor with the given 32-byte AES-256 key.
func NewPHIEncryptor(key []byte) (*PHIEncryptor, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("%w: key must be 32 bytes, got %d", ErrInvalidKey, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("%w: create cipher: %v", ErrInvalidKey, err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("%w: create GCM: %v", ErrInvalidKey, err)
	}

	return &PHIEncryptor{aead: aead}, nil
}

// Encrypt encrypts the plaintext string and returns the blob base64-encoded.
func (e *PHIEncryptor) Encrypt(plaintext string) (string, error) {
	encrypted, err := e.EncryptBytes([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(encrypted), nil
}

// Decrypt decodes the base64 blob and decrypts it.
func (e *PHIEncryptor) Decrypt(ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: base64 decode: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := e.DecryptBytes(data)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptBytes encrypts data and returns IV || ciphertext || authTag.
func (e *PHIEncryptor) EncryptBytes(data []byte) ([]byte, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("%w: generate IV: %v", ErrEncryptionFailed, err)
	}

	// Seal appends ciphertext and tag to iv, producing the fixed blob layout.
	return e.aead.Seal(iv, iv, data, nil), nil
}

// DecryptBytes validates and decrypts a blob produced by EncryptBytes.
// A blob shorter than IV+tag, a flipped bit anywhere in it, or a blob
// encrypted under a different key all fail; no partial plaintext is ever
// returned.
func (e *PHIEncryptor) DecryptBytes(data []byte) ([]byte, error) {
	if len(data) < minBlobSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrDecryptionFailed, len(data))
	}

	iv, ciphertext := data[:IVSize], data[IVSize:]
	plaintext, err := e.aead.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	return plaintext, nil
}
